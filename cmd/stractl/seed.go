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
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/your-org/str-analyzer/internal/analysis"
	"github.com/your-org/str-analyzer/internal/auth"
	"github.com/your-org/str-analyzer/internal/calculator"
	"github.com/your-org/str-analyzer/internal/store"
)

const seedNote = "Seeded sample. Ask the advisor in this chat for commentary."

// sampleProperties are the listings created by seed
var sampleProperties = []calculator.PropertyInput{
	{Location: "Austin, TX", PropertyType: "House", CleaningCost: 80, MonthlyRent: 2000, LivingRooms: 1, Bedrooms: 2, Bathrooms: 1, NightlyRate: 150, OccupancyRate: 70},
	{Location: "Miami Beach, FL", PropertyType: "Condo", CleaningCost: 120, MonthlyRent: 3500, LivingRooms: 1, Bedrooms: 2, Bathrooms: 2, NightlyRate: 260, OccupancyRate: 65},
	{Location: "Asheville, NC", PropertyType: "Cabin", CleaningCost: 90, MonthlyRent: 1600, LivingRooms: 1, Bedrooms: 3, Bathrooms: 2, NightlyRate: 180, OccupancyRate: 55},
}

func newSeedCmd(c *cli) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo user with sample analyses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := c.openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			n, err := seed(cmd.Context(), st, c.logger, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d analyses for %s\n", n, auth.NormalizeEmail(email))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "user", "demo@example.com", "Email of the demo user")
	cmd.Flags().StringVar(&password, "password", "demo-password", "Password of the demo user")
	return cmd
}

// seed migrates the schema, ensures the user exists and stores one analysed
// chat per sample property
func seed(ctx context.Context, st *store.Store, logger *zap.Logger, email, password string) (int, error) {
	if err := st.Migrate(ctx); err != nil {
		return 0, fmt.Errorf("migration failed: %w", err)
	}

	user, err := st.UserByEmail(ctx, auth.NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		// Registration never touches sessions or token signing
		user, err = auth.NewService(st, nil, "", logger).Register(ctx, email, password)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to prepare user %s: %w", email, err)
	}

	for _, in := range sampleProperties {
		calc := calculator.Calculate(in)
		data, err := json.Marshal(analysis.NewRecord(calc, seedNote))
		if err != nil {
			return 0, err
		}

		chat, err := st.CreateChat(ctx, user.ID, "")
		if err != nil {
			return 0, err
		}
		if _, err := st.UpsertAnalysis(ctx, user.ID, chat.ID, datatypes.JSON(data), calc.Location); err != nil {
			return 0, err
		}
		logger.Debug("Seeded analysis", zap.String("chat_id", chat.ID), zap.String("location", calc.Location))
	}
	return len(sampleProperties), nil
}
