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

// Package analysis runs a property through the calculator and the AI advisor
// and keeps the result on the chat it belongs to.
package analysis

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/your-org/str-analyzer/internal/calculator"
	"github.com/your-org/str-analyzer/internal/chat"
	"github.com/your-org/str-analyzer/internal/llm"
	"github.com/your-org/str-analyzer/internal/persona"
	"github.com/your-org/str-analyzer/internal/resilience"
	"github.com/your-org/str-analyzer/internal/store"
)

// Metric wraps a headline figure the way analysis records store it
type Metric struct {
	Value float64 `json:"value"`
}

// Record is the stored analysis of a chat
type Record struct {
	Location                 string                  `json:"location"`
	PropertyType             string                  `json:"propertyType,omitempty"`
	TotalStartupCost         Metric                  `json:"totalStartupCost"`
	MonthsToRepay            Metric                  `json:"monthsToRepay"`
	PercentDebtRepaidMonthly Metric                  `json:"percentDebtRepaidMonthly"`
	AnnualROI                Metric                  `json:"annualROI"`
	NetAnnualIncome          Metric                  `json:"netAnnualIncome"`
	NetMonthlyIncome         Metric                  `json:"netMonthlyIncome"`
	Calculation              *calculator.Calculation `json:"calculation,omitempty"`
	Warnings                 []calculator.Warning    `json:"warnings,omitempty"`
	AIAnalysis               string                  `json:"aiAnalysis"`
}

// NewRecord builds a record from a calculation and the advisor's commentary
func NewRecord(calc calculator.Calculation, aiAnalysis string) Record {
	m := calc.Financials.Metrics
	return Record{
		Location:                 calc.Location,
		PropertyType:             calc.PropertyType,
		TotalStartupCost:         Metric{m.TotalStartupCost},
		MonthsToRepay:            Metric{m.MonthsToRepay},
		PercentDebtRepaidMonthly: Metric{m.PercentDebtRepaidMonthly},
		AnnualROI:                Metric{m.AnnualROI},
		NetAnnualIncome:          Metric{m.NetAnnualIncome},
		NetMonthlyIncome:         Metric{m.NetMonthlyIncome},
		Calculation:              &calc,
		Warnings:                 calc.Warnings,
		AIAnalysis:               aiAnalysis,
	}
}

// Store is the persistence the analysis service needs
type Store interface {
	GetAnalysis(ctx context.Context, userID, chatID string) (*store.Analysis, error)
	UpsertAnalysis(ctx context.Context, userID, chatID string, data datatypes.JSON, title string) (*store.Analysis, error)
}

// Relayer sends a turn to the advisor
type Relayer interface {
	Relay(ctx context.Context, userID string, req chat.RelayRequest) (*chat.RelayResponse, error)
}

// Result is returned by Run
type Result struct {
	Record Record    `json:"analysis"`
	ChatID string    `json:"chatId"`
	Usage  llm.Usage `json:"usage"`
}

// Service runs and stores analyses
type Service struct {
	store  Store
	chat   Relayer
	logger *zap.Logger
}

// NewService creates an analysis service
func NewService(st Store, relayer Relayer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, chat: relayer, logger: logger.With(zap.String("component", "analysis"))}
}

// Calculate validates a form and computes its metrics without storing anything
func Calculate(form calculator.PropertyForm) (calculator.Calculation, error) {
	input, err := calculator.Parse(form)
	if err != nil {
		var fields calculator.ValidationErrors
		if errors.As(err, &fields) {
			return calculator.Calculation{}, resilience.NewValidationError("Invalid property data", fields)
		}
		return calculator.Calculation{}, resilience.NewBadRequestError("Invalid property data", err)
	}
	return calculator.Calculate(input), nil
}

// Run calculates a property, asks the advisor about it through a hidden turn
// of the chat and stores the result as the chat's analysis. The chat is
// retitled to the property location.
func (s *Service) Run(ctx context.Context, userID, chatID, idempotencyKey string, form calculator.PropertyForm) (*Result, error) {
	calc, err := Calculate(form)
	if err != nil {
		return nil, err
	}

	prompt, err := persona.AnalysisRequest(calc)
	if err != nil {
		return nil, resilience.NewInternalError("Failed to prepare analysis", err)
	}

	reply, err := s.chat.Relay(ctx, userID, chat.RelayRequest{
		ChatID:         chatID,
		Message:        prompt,
		SystemPrompt:   true,
		HidePrompt:     true,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	record := NewRecord(calc, reply.Message)
	if _, err := s.save(ctx, userID, chatID, record, calc.Location); err != nil {
		return nil, err
	}

	s.logger.Info("Stored analysis",
		zap.String("chat_id", chatID),
		zap.String("location", calc.Location),
		zap.Float64("annual_roi", calc.Financials.AnnualROI),
		zap.Int("warnings", len(calc.Warnings)))

	return &Result{Record: record, ChatID: chatID, Usage: reply.Usage}, nil
}

// Get returns the stored analysis data of a chat, or nil when it has none
func (s *Service) Get(ctx context.Context, userID, chatID string) (json.RawMessage, error) {
	a, err := s.store.GetAnalysis(ctx, userID, chatID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, resilience.NewInternalError("Failed to fetch analysis", err)
	}
	return json.RawMessage(a.Data), nil
}

// Record returns the stored analysis of a chat decoded as a Record
func (s *Service) Record(ctx context.Context, userID, chatID string) (*Record, error) {
	data, err := s.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, resilience.NewNotFoundError("Analysis not found", nil)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, resilience.NewInternalError("Stored analysis is unreadable", err)
	}
	return &record, nil
}

// Save stores client supplied analysis data as is. The chat is retitled to
// its "location" field.
func (s *Service) Save(ctx context.Context, userID, chatID string, data json.RawMessage) (json.RawMessage, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, resilience.NewBadRequestError("Analysis must be a JSON object", err)
	}
	title, _ := fields["location"].(string)

	a, err := s.save(ctx, userID, chatID, data, title)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(a.Data), nil
}

func (s *Service) save(ctx context.Context, userID, chatID string, v any, title string) (*store.Analysis, error) {
	var data []byte
	switch raw := v.(type) {
	case json.RawMessage:
		data = raw
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return nil, resilience.NewInternalError("Failed to encode analysis", err)
		}
	}

	a, err := s.store.UpsertAnalysis(ctx, userID, chatID, datatypes.JSON(data), title)
	if errors.Is(err, store.ErrNotFound) {
		return nil, resilience.NewNotFoundError("Chat not found", err)
	}
	if err != nil {
		return nil, resilience.NewInternalError("Failed to save analysis", err)
	}
	return a, nil
}
