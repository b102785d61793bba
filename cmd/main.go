/*
Copyright 2024 Parley Labs Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/parleylabs/parley"
	"github.com/parleylabs/parley/config"
	"github.com/parleylabs/parley/database"
	"github.com/parleylabs/parley/internal/notification"
)

// Parley represents the CLI application, encapsulating the root Cobra command.
type Parley struct {
	cmd *cobra.Command
}

// parleyInstance holds the service instance and its configuration, shared by
// the subcommands.
type parleyInstance struct {
	parley *parley.Parley
	cnf    *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the service instance before
// running any command.
func preRun(app *parleyInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("parley.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newParley, err := setupParley(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.parley = newParley
		app.cnf = cnf

		return nil
	}
}

// setupParley connects the datasource and builds the service layer from it.
func setupParley(cfg *config.Configuration) (*parley.Parley, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newParley, err := parley.NewParley(db)
	if err != nil {
		return nil, fmt.Errorf("error creating parley: %v", err)
	}
	return newParley, nil
}

// NewCLI creates the command-line interface for the Parley control plane.
func NewCLI() *Parley {
	var configFile string
	p := &parleyInstance{}

	var rootCmd = &cobra.Command{
		Use:   "parley",
		Short: "Conversational assistant control plane",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./parley.json", "Configuration file for the control plane")

	rootCmd.PersistentPreRunE = preRun(p)

	rootCmd.AddCommand(serverCommands(p))
	rootCmd.AddCommand(workerCommands(p))

	return &Parley{cmd: rootCmd}
}

func (w Parley) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
