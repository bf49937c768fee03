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

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/your-org/str-analyzer/internal/analysis"
	"github.com/your-org/str-analyzer/internal/auth"
	"github.com/your-org/str-analyzer/internal/calculator"
	"github.com/your-org/str-analyzer/internal/export"
	"github.com/your-org/str-analyzer/internal/persona"
	"github.com/your-org/str-analyzer/internal/resilience"
	"github.com/your-org/str-analyzer/internal/store"
)

type calcFlags struct {
	area          string
	propertyType  string
	cleaningCost  float64
	rent          float64
	livingRooms   float64
	bedrooms      float64
	bathrooms     float64
	nightlyRate   float64
	occupancyRate float64
	output        string
}

func newCalcCmd() *cobra.Command {
	f := &calcFlags{}

	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Compute profitability metrics for a property",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCalc(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.area, "area", "", "Location of the property")
	fl.StringVar(&f.propertyType, "type", "", "Property type")
	fl.Float64Var(&f.cleaningCost, "cleaning-cost", 0, "Cost per cleaning")
	fl.Float64Var(&f.rent, "rent", 0, "Monthly rent")
	fl.Float64Var(&f.livingRooms, "living-rooms", 0, "Number of living rooms")
	fl.Float64Var(&f.bedrooms, "bedrooms", 0, "Number of bedrooms")
	fl.Float64Var(&f.bathrooms, "bathrooms", 0, "Number of bathrooms")
	fl.Float64Var(&f.nightlyRate, "nightly-rate", 0, "Nightly rate")
	fl.Float64Var(&f.occupancyRate, "occupancy", 0, "Occupancy rate in percent")
	fl.StringVarP(&f.output, "output", "o", "json", "Output format (json or yaml)")
	return cmd
}

func runCalc(cmd *cobra.Command, f *calcFlags) error {
	if f.output != "json" && f.output != "yaml" {
		return fmt.Errorf("unsupported output format %q", f.output)
	}

	fl := cmd.Flags()
	number := func(name string, v float64) calculator.Number {
		if !fl.Changed(name) {
			return calculator.Number{}
		}
		return calculator.NewNumber(v)
	}

	calc, err := analysis.Calculate(calculator.PropertyForm{
		Area:          f.area,
		PropertyType:  f.propertyType,
		CleaningCost:  number("cleaning-cost", f.cleaningCost),
		Rent:          number("rent", f.rent),
		LivingRooms:   number("living-rooms", f.livingRooms),
		Bedrooms:      number("bedrooms", f.bedrooms),
		Bathrooms:     number("bathrooms", f.bathrooms),
		NightlyRate:   number("nightly-rate", f.nightlyRate),
		OccupancyRate: number("occupancy", f.occupancyRate),
	})
	if err != nil {
		var serr *resilience.ServiceError
		if resilience.AsServiceError(err, &serr) {
			printFieldErrors(cmd.ErrOrStderr(), serr.Fields)
		}
		return err
	}

	return writeStructured(cmd.OutOrStdout(), f.output, calc)
}

func printFieldErrors(w io.Writer, errs map[string]string) {
	fields := make([]string, 0, len(errs))
	for field := range errs {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		fmt.Fprintf(w, "  %s: %s\n", field, errs[field])
	}
}

func writeStructured(w io.Writer, format string, v any) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := c.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database schema is up to date")
			return nil
		},
	}
}

func newCheckDBCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check-db",
		Short: "Verify database connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := c.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			now, err := st.Now(ctx)
			if err != nil {
				return fmt.Errorf("database query failed: %w", err)
			}
			users, err := st.CountUsers(ctx)
			if err != nil {
				return fmt.Errorf("failed to count users: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Database connection OK")
			fmt.Fprintf(out, "Server time: %s\n", now)
			fmt.Fprintf(out, "Users: %d\n", users)
			return nil
		},
	}
}

type exportFlags struct {
	email  string
	out    string
	report bool
}

func newExportCmd(c *cli) *cobra.Command {
	f := &exportFlags{}

	cmd := &cobra.Command{
		Use:   "export <chat-id>",
		Short: "Write a chat transcript or analysis report as PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, c, f, args[0])
		},
	}

	cmd.Flags().StringVar(&f.email, "user", "", "Email of the chat owner")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "Output file (defaults to the download filename)")
	cmd.Flags().BoolVar(&f.report, "report", false, "Export the analysis report instead of the transcript")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runExport(cmd *cobra.Command, c *cli, f *exportFlags, chatID string) error {
	ctx := cmd.Context()
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	user, err := st.UserByEmail(ctx, auth.NormalizeEmail(f.email))
	if err != nil {
		return fmt.Errorf("user %s: %w", f.email, err)
	}

	opts := export.Options{AssistantName: cfg.Chat.AssistantName}
	var buf bytes.Buffer
	filename := f.out

	if f.report {
		record, err := analysis.NewService(st, nil, c.logger).Record(ctx, user.ID, chatID)
		if err != nil {
			return err
		}
		if err := export.Report(&buf, *record, opts); err != nil {
			return err
		}
		if filename == "" {
			filename = export.ReportFilename(chatID)
		}
	} else {
		chat, err := st.GetChat(ctx, user.ID, chatID)
		if err != nil {
			return fmt.Errorf("chat %s: %w", chatID, err)
		}
		messages, err := st.ListMessages(ctx, store.MessageFilter{UserID: user.ID, ChatID: chatID})
		if err != nil {
			return err
		}
		if err := export.Transcript(&buf, chat.Title, messages, opts); err != nil {
			return err
		}
		if filename == "" {
			filename = export.TranscriptFilename(chatID)
		}
	}

	if err := os.WriteFile(filename, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", filename)
	return nil
}

func newPromptCmd(c *cli) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Print the active system prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				file = cfg.Prompt.SystemPromptFile
			}
			prompt, err := persona.Load(file)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prompt)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Prompt file to validate and print instead of the configured one")
	return cmd
}
