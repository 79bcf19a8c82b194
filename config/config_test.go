/*
Copyright 2024 Railrelay Authors.

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

package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestValidateAndAddDefaults(t *testing.T) {
	// Test case with empty DataSource DNS
	cnf := Configuration{
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{
			Dns: "postgres://localhost:5432",
		},
	}

	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}

	// Test case with all required fields filled, expect defaults applied
	cnf = Configuration{
		DataSource: DataSourceConfig{
			Dns: "postgres://localhost:5432",
		},
		Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cnf.ProjectName != "Railrelay" {
		t.Errorf("Expected default project name, got %s", cnf.ProjectName)
	}
	if cnf.Outbox.BatchSize != 50 {
		t.Errorf("Expected default batch size 50, got %d", cnf.Outbox.BatchSize)
	}
	if cnf.Outbox.PollIntervalMs != 500 {
		t.Errorf("Expected default poll interval 500, got %d", cnf.Outbox.PollIntervalMs)
	}
	if cnf.Outbox.MaxRetries != 5 {
		t.Errorf("Expected default max retries 5, got %d", cnf.Outbox.MaxRetries)
	}
	if cnf.Outbox.LeaseSeconds != 30 {
		t.Errorf("Expected default lease 30, got %d", cnf.Outbox.LeaseSeconds)
	}
	if cnf.Outbox.BackoffPolicy != BackoffPolicyFixed {
		t.Errorf("Expected fixed backoff policy, got %s", cnf.Outbox.BackoffPolicy)
	}
	if cnf.Repair.LeaseRepairBatchSize != 100 {
		t.Errorf("Expected default lease repair batch 100, got %d", cnf.Repair.LeaseRepairBatchSize)
	}
	if cnf.Repair.ZombieThresholdSeconds != 120 {
		t.Errorf("Expected default zombie threshold 120, got %d", cnf.Repair.ZombieThresholdSeconds)
	}
	if cnf.Queue.RepairQueue != "outbox_repair_queue" {
		t.Errorf("Expected default repair queue name, got %s", cnf.Queue.RepairQueue)
	}
	if cnf.Rail.TimeoutSeconds != 30 {
		t.Errorf("Expected default rail timeout 30, got %d", cnf.Rail.TimeoutSeconds)
	}
	if cnf.FinancialCore.TimeoutSeconds != 15 {
		t.Errorf("Expected default core timeout 15, got %d", cnf.FinancialCore.TimeoutSeconds)
	}

	// Explicit values survive validation
	cnf.Outbox.BatchSize = 25
	if err := cnf.validateAndAddDefaults(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cnf.Outbox.BatchSize != 25 {
		t.Errorf("Expected batch size 25 to survive, got %d", cnf.Outbox.BatchSize)
	}

	// Unknown backoff policy falls back to fixed
	cnf.Outbox.BackoffPolicy = "fibonacci"
	if err := cnf.validateAndAddDefaults(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cnf.Outbox.BackoffPolicy != BackoffPolicyFixed {
		t.Errorf("Expected fallback to fixed, got %s", cnf.Outbox.BackoffPolicy)
	}

	cnf.Outbox.BackoffPolicy = BackoffPolicyExponential
	if err := cnf.validateAndAddDefaults(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cnf.Outbox.BackoffPolicy != BackoffPolicyExponential {
		t.Errorf("Expected exponential to survive, got %s", cnf.Outbox.BackoffPolicy)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	// Create a temporary file
	tmpFile, err := os.CreateTemp("", "railrelay.json")
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
			Dns: "temp-redis",
		},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close() // Close the file so loadConfigFromFile can open it

	// Set an environment variable to override the project name
	os.Setenv("RAILRELAY_PROJECT_NAME", "Env Project")
	defer os.Unsetenv("RAILRELAY_PROJECT_NAME") // Clean up after the test

	// Load the configuration from the file
	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	// Fetch the loaded configuration
	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	// Check if the environment variable override worked
	if loadedConfig.ProjectName != "Env Project" {
		t.Errorf("Expected ProjectName to be 'Env Project', got '%s'", loadedConfig.ProjectName)
	}

	// Check if the DNS was loaded correctly from the file
	if loadedConfig.DataSource.Dns != "temp-dns" {
		t.Errorf("Expected DataSource.Dns to be 'temp-dns', got '%s'", loadedConfig.DataSource.Dns)
	}
}

func TestInitConfig(t *testing.T) {
	// Create a temporary file
	tmpFile, err := os.CreateTemp("", "railrelay.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name()) // Clean up after the test

	// Sample configuration to write to the temp file
	sampleConfig := Configuration{
		ProjectName: "InitConfig Test",
		DataSource: DataSourceConfig{
			Dns: "init-config-dns",
		}, Redis: RedisConfig{
			Dns: "localhost:6379",
		},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close() // Close the file so InitConfig can open it

	// Attempt to initialize the configuration using the temporary file
	if err := InitConfig(tmpFile.Name()); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	// Fetch the loaded configuration to verify it was loaded correctly
	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	// Verify the configuration was loaded correctly
	if loadedConfig.ProjectName != "InitConfig Test" {
		t.Errorf("Expected ProjectName to be 'InitConfig Test', got '%s'", loadedConfig.ProjectName)
	}
	if loadedConfig.DataSource.Dns != "init-config-dns" {
		t.Errorf("Expected DataSource.Dns to be 'init-config-dns', got '%s'", loadedConfig.DataSource.Dns)
	}
}

func TestMockConfig(t *testing.T) {
	MockConfig(&Configuration{
		DataSource: DataSourceConfig{Dns: "mock-dns"},
		Redis:      RedisConfig{Dns: "mock-redis"},
	})

	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if loadedConfig.DataSource.Dns != "mock-dns" {
		t.Errorf("Expected DataSource.Dns to be 'mock-dns', got '%s'", loadedConfig.DataSource.Dns)
	}
	// Defaults apply to mocked configs too
	if loadedConfig.Outbox.BatchSize != 50 {
		t.Errorf("Expected default batch size 50, got %d", loadedConfig.Outbox.BatchSize)
	}
}
