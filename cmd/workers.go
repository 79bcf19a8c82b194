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
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/railrelay/railrelay"
	"github.com/railrelay/railrelay/config"
	redis_db "github.com/railrelay/railrelay/internal/redis-db"
	"github.com/railrelay/railrelay/internal/traces"
)

// initializeObservability sets up tracing when telemetry is enabled.
func initializeObservability(ctx context.Context, cfg *config.Configuration) (func(context.Context) error, error) {
	if !cfg.EnableTelemetry {
		return func(context.Context) error { return nil }, nil
	}
	shutdown, err := traces.SetupOTelSDK(ctx, cfg.ProjectName)
	if err != nil {
		return nil, fmt.Errorf("error setting up OTel SDK: %v", err)
	}
	return shutdown, nil
}

func initializeRepairServer(conf *config.Configuration) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues: map[string]int{
				conf.Queue.RepairQueue: 1,
			},
		},
	), nil
}

// workerCommands defines the "workers" command. It runs the outbox
// relayer, both background repair workers and the asynq server that
// consumes the repair queue, all in one process.
func workerCommands(r *railrelayInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start railrelay workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			relayer := railrelay.NewOutboxRelayer(r.railrelay)
			relayer.Start(ctx)
			defer relayer.Stop()

			leaseWorker := railrelay.NewLeaseRepairWorker(r.railrelay)
			leaseWorker.Start(ctx)
			defer leaseWorker.Stop()

			zombieWorker := railrelay.NewZombieRepairWorker(r.railrelay)
			zombieWorker.Start(ctx)
			defer zombieWorker.Stop()

			srv, err := initializeRepairServer(conf)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			mux.HandleFunc(railrelay.RepairTaskType, r.railrelay.RepairTaskHandler())

			go func() {
				if err := srv.Run(mux); err != nil {
					log.Fatalf("could not run repair server: %v", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			log.Println("Shutting down workers")
			srv.Shutdown()
		},
	}

	return cmd
}
