/*
Copyright 2024 Blnk Finance Authors.

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

	"github.com/crowdpen/payd"
	"github.com/crowdpen/payd/config"
	"github.com/crowdpen/payd/database"
	"github.com/crowdpen/payd/internal/cache"
	"github.com/crowdpen/payd/internal/notification"
	redis_db "github.com/crowdpen/payd/internal/redis-db"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Payd represents the CLI application, encapsulating the root Cobra command.
type Payd struct {
	cmd *cobra.Command
}

// paydInstance holds the engine and its configuration for the subcommands.
type paydInstance struct {
	payd *payd.Payd
	cnf  *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and builds the engine before any subcommand runs.
func preRun(app *paydInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			logrus.Warnf("error loading .env file: %v", err)
		}

		err := config.InitConfig(*configFile)
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newPayd, err := setupPayd(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.payd = newPayd
		app.cnf = cnf
		return nil
	}
}

// setupPayd connects to Postgres and, when configured, Redis, then builds
// the engine on top of them.
func setupPayd(cfg *config.Configuration) (*payd.Payd, error) {
	var (
		opts     []payd.Option
		feeCache cache.Cache
	)
	if cfg.Redis.Dns != "" {
		redisClient, err := redis_db.NewRedisClient(redis_db.SplitAddresses(cfg.Redis.Dns), cfg.Redis.SkipTLSVerify)
		if err != nil {
			return nil, fmt.Errorf("error connecting to redis: %v", err)
		}
		feeCache = cache.NewRedisCache(redisClient.Client())
		opts = append(opts, payd.WithRedis(redisClient.Client()))
	}

	db, err := database.NewDataSource(cfg, feeCache)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newPayd, err := payd.NewPayd(db, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating payd: %v", err)
	}
	return newPayd, nil
}

// NewCLI creates the command-line interface with the server, workers,
// migrate and reconcile subcommands.
func NewCLI() *Payd {
	var configFile string
	p := &paydInstance{}

	var rootCmd = &cobra.Command{
		Use:   "payd",
		Short: "Payment settlement and earnings ledger",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./payd.json", "Configuration file for payd")
	rootCmd.PersistentPreRunE = preRun(p, &configFile)

	rootCmd.AddCommand(serverCommands(p))
	rootCmd.AddCommand(workerCommands(p))
	rootCmd.AddCommand(migrateCommands(p))
	rootCmd.AddCommand(reconcileCommands(p))
	rootCmd.AddCommand(configCommands())

	return &Payd{cmd: rootCmd}
}

// executeCLI runs the root command and exits non-zero on error.
func (w Payd) executeCLI() {
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
