package config

import (
	"encoding/json"
	"os"
	"sync/atomic"
	"testing"
)

func TestValidateAndAddDefaults(t *testing.T) {
	// Test case with empty DataSource DNS
	cnf := Configuration{
		ProjectName: "",
		DataSource: DataSourceConfig{
			Dns: "",
		},
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}

	cnf = Configuration{
		ProjectName: "",
		DataSource: DataSourceConfig{
			Dns: "postgres://localhost:5432",
		},
		Redis: RedisConfig{
			Dns: "",
		},
	}

	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}

	// Test case with all required fields filled, expect no error
	cnf = Configuration{
		ProjectName: "Test Project",
		DataSource: DataSourceConfig{
			Dns: "some-dns",
		},
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	// Test default port setting
	cnf.Server.Port = ""
	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cnf.Server.Port != DEFAULT_PORT {
		t.Errorf("Expected default port %s, got %s", DEFAULT_PORT, cnf.Server.Port)
	}

	// Lease protocol and hub knobs get positive defaults
	if cnf.Worker.LeaseDurationSec <= 0 {
		t.Errorf("Expected positive lease duration, got %d", cnf.Worker.LeaseDurationSec)
	}
	if cnf.Worker.PollIntervalSec <= 0 {
		t.Errorf("Expected positive poll interval, got %d", cnf.Worker.PollIntervalSec)
	}
	if cnf.Hub.MaxConnectionsPerUser != 3 {
		t.Errorf("Expected default max connections 3, got %d", cnf.Hub.MaxConnectionsPerUser)
	}
	if cnf.Topology.MaxAttempts != 5 {
		t.Errorf("Expected default handshake attempts 5, got %d", cnf.Topology.MaxAttempts)
	}
	if cnf.Topology.ApiUrl == "" {
		t.Error("Expected topology api url default")
	}

	// Explicit values survive validation untouched
	cnf.Worker.LeaseDurationSec = 120
	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cnf.Worker.LeaseDurationSec != 120 {
		t.Errorf("Expected lease duration 120, got %d", cnf.Worker.LeaseDurationSec)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	// Create a temporary file
	tmpFile, err := os.CreateTemp("", "parley.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name()) // Clean up after the test

	// Sample configuration to write to the temp file
	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource: DataSourceConfig{
			Dns: "temp-dns",
		},
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}
	data, err := json.Marshal(sampleConfig)
	if err != nil {
		t.Fatalf("Unable to marshal sample config: %v", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("Unable to close temporary file: %v", err)
	}

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	fetched, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if fetched.ProjectName != "Temp Project" {
		t.Errorf("Expected project name 'Temp Project', got %q", fetched.ProjectName)
	}
	if fetched.Worker.LeaseDurationSec <= 0 {
		t.Errorf("Expected defaulted lease duration, got %d", fetched.Worker.LeaseDurationSec)
	}
}

func TestFetchWithoutInit(t *testing.T) {
	// Reset the store so Fetch sees no configuration
	ConfigStore = atomic.Value{}

	_, err := Fetch()
	if err == nil {
		t.Error("Expected error fetching config before init")
	}
}
