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

package parley

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/parleylabs/parley/config"
	"github.com/parleylabs/parley/model"
)

// leaseEligibleStatuses: created rows are new work; processing rows are only
// claimable once their lease has expired, which is the crash-recovery path.
var leaseEligibleStatuses = []string{StatusCreated, StatusProcessing}

// Worker runs the lease protocol loop: poll on a fixed interval, claim at
// most one transmission per tick, execute it to a terminal status, repeat.
// Multiple worker instances coordinate only through the store's atomic claim.
type Worker struct {
	parley *Parley
	conf   config.WorkerConfig
	owner  string
}

func NewWorker(p *Parley, conf config.WorkerConfig) *Worker {
	return &Worker{
		parley: p,
		conf:   conf,
		owner:  model.GenerateUUIDWithSuffix("wkr"),
	}
}

// Start blocks running the poll loop until ctx is cancelled. A tick that
// cannot reach the store logs and waits for the next one; it never exits the
// loop.
func (w *Worker) Start(ctx context.Context) {
	interval := time.Duration(w.conf.PollIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logrus.Infof("worker %s polling every %s (lease %ds)", w.owner, interval, w.conf.LeaseDurationSec)

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			logrus.Infof("worker %s stopping: %v", w.owner, ctx.Err())
			return
		case <-ticker.C:
			ticks++
			w.tick(ctx)
			if ticks%w.conf.HeartbeatEveryTicks == 0 {
				w.heartbeat(ctx)
			}
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	leaseDuration := time.Duration(w.conf.LeaseDurationSec) * time.Second

	txm, priorStatus, err := w.parley.datasource.ClaimNextTransmission(ctx, leaseEligibleStatuses, w.owner, leaseDuration)
	if err != nil {
		logrus.Errorf("worker %s: claim failed, skipping tick: %v", w.owner, err)
		return
	}
	if txm == nil {
		return
	}

	if priorStatus == StatusProcessing {
		logrus.Warnf("worker %s: reclaimed %s after lease expiry", w.owner, txm.TransmissionID)
	}

	if _, err := w.parley.ExecuteTransmission(ctx, txm, w.owner); err != nil {
		// The failure is already recorded as a failed attempt and terminal
		// status; retry happens through idempotency-key resubmission, not
		// automatic re-lease.
		logrus.Warnf("worker %s: execution of %s failed: %v", w.owner, txm.TransmissionID, err)
	}
}

func (w *Worker) heartbeat(ctx context.Context) {
	count, oldest, err := w.parley.datasource.CountLeaseable(ctx, leaseEligibleStatuses)
	if err != nil {
		logrus.Warnf("worker %s: heartbeat failed: %v", w.owner, err)
		return
	}
	logrus.Infof("worker %s: %d leaseable transmissions, oldest %s", w.owner, count, oldest.Round(time.Second))
}
