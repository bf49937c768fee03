// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main implements stractl, the operator tool for the analyzer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/your-org/str-analyzer/internal/config"
	"github.com/your-org/str-analyzer/internal/logging"
	"github.com/your-org/str-analyzer/internal/store"
)

// cli carries the persistent flags shared by every command
type cli struct {
	configPath string
	driver     string
	dsn        string
	verbose    bool
	logger     *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "stractl",
		Short:         "Short-term rental analyzer operator tool",
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if !c.verbose {
				c.logger = zap.NewNop()
				return nil
			}
			logger, _, err := logging.New(config.LoggingConfig{Level: "debug", Format: "console"}, "stractl")
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			c.logger = logger
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "Path to configuration file")
	flags.StringVar(&c.driver, "driver", "", "Database driver override (sqlite or postgres)")
	flags.StringVar(&c.dsn, "dsn", "", "Database DSN override")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newCalcCmd(),
		newMigrateCmd(c),
		newCheckDBCmd(c),
		newExportCmd(c),
		newPromptCmd(c),
		newSeedCmd(c),
	)
	return root
}

// loadConfig reads configuration without requiring the API-only settings
func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithOptions(config.LoadOptions{
		ConfigPath:       c.configPath,
		AllowMissingFile: true,
	})
	if err != nil {
		return nil, err
	}
	if c.driver != "" {
		cfg.Database.Driver = c.driver
	}
	if c.dsn != "" {
		cfg.Database.DSN = c.dsn
	}
	return cfg, nil
}

func (c *cli) openStore() (*store.Store, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Database, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return st, nil
}
