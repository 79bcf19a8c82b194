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

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/railrelay/railrelay"
	"github.com/railrelay/railrelay/config"
	"github.com/railrelay/railrelay/database"
	"github.com/railrelay/railrelay/internal/notification"
)

// Railrelay represents the CLI application, encapsulating the root Cobra
// command.
type Railrelay struct {
	cmd *cobra.Command
}

// railrelayInstance holds the service instance and its configuration for
// use by the subcommands.
type railrelayInstance struct {
	railrelay *railrelay.Railrelay
	cnf       *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the service instance
// before any command runs.
func preRun(app *railrelayInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("railrelay.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newRailrelay, err := setupRailrelay(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.railrelay = newRailrelay
		app.cnf = cnf

		return nil
	}
}

// setupRailrelay creates the service instance from the loaded
// configuration.
func setupRailrelay(cfg *config.Configuration) (*railrelay.Railrelay, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newRailrelay, err := railrelay.NewRailrelay(db)
	if err != nil {
		return nil, fmt.Errorf("error creating railrelay: %v", err)
	}
	return newRailrelay, nil
}

// NewCLI creates the command-line interface for the outbox service.
func NewCLI() *Railrelay {
	var configFile string
	r := &railrelayInstance{}

	var rootCmd = &cobra.Command{
		Use:   "railrelay",
		Short: "Payment outbox relay",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./railrelay.json", "Configuration file for the outbox relay")

	rootCmd.PersistentPreRunE = preRun(r)

	rootCmd.AddCommand(workerCommands(r))
	rootCmd.AddCommand(migrateCommands(r))

	return &Railrelay{cmd: rootCmd}
}

func (w Railrelay) executeCLI() {
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
