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

// Package calculator computes short-term-rental profitability figures from
// the property form: startup cost, payback period and return on investment.
package calculator

import (
	"fmt"
	"math"
)

const (
	// StartupRentMonths is the number of months of rent paid up front
	StartupRentMonths = 2
	// FurnishingPerBedroom is the furnishing budget per bedroom
	FurnishingPerBedroom = 4000
	// FurnishingPerBathroom is the furnishing budget per bathroom
	FurnishingPerBathroom = 1000
	// FurnishingPerLivingRoom is the furnishing budget per living room
	FurnishingPerLivingRoom = 2000
	// DaysPerMonth is the month length used for revenue projections
	DaysPerMonth = 30

	// Average stay lengths in nights by property size
	smallPropertyStay = 4.0
	largePropertyStay = 2.5
	smallPropertyMax  = 2

	// Warning thresholds
	maxHealthyMarginPercent   = 40.0
	maxRealisticOccupancy     = 90.0
	maxCleaningShareOfRevenue = 50.0
)

// PropertyInput is validated calculator input
type PropertyInput struct {
	Location      string
	PropertyType  string
	CleaningCost  float64
	MonthlyRent   float64
	LivingRooms   float64
	Bedrooms      float64
	Bathrooms     float64
	NightlyRate   float64
	OccupancyRate float64
}

// Layout describes the room layout of the property
type Layout struct {
	Bedrooms    float64 `json:"bedrooms" yaml:"bedrooms"`
	Bathrooms   float64 `json:"bathrooms" yaml:"bathrooms"`
	LivingRooms float64 `json:"livingRooms" yaml:"livingRooms"`
}

// Financials holds the inputs echoed back with every derived metric
type Financials struct {
	MonthlyRent   float64 `json:"monthlyRent" yaml:"monthlyRent"`
	CleaningCost  float64 `json:"cleaningCost" yaml:"cleaningCost"`
	NightlyRate   float64 `json:"nightlyRate" yaml:"nightlyRate"`
	OccupancyRate float64 `json:"occupancyRate" yaml:"occupancyRate"`
	Metrics       `yaml:",inline"`
}

// Metrics are the derived profitability figures, rounded to cents
type Metrics struct {
	TotalStartupCost             float64 `json:"totalStartupCost" yaml:"totalStartupCost"`
	MonthsToRepay                float64 `json:"monthsToRepay" yaml:"monthsToRepay"`
	PercentDebtRepaidMonthly     float64 `json:"percentDebtRepaidMonthly" yaml:"percentDebtRepaidMonthly"`
	AnnualROI                    float64 `json:"annualROI" yaml:"annualROI"`
	NetAnnualIncome              float64 `json:"netAnnualIncome" yaml:"netAnnualIncome"`
	NetMonthlyIncome             float64 `json:"netMonthlyIncome" yaml:"netMonthlyIncome"`
	GrossMonthlyRevenue          float64 `json:"grossMonthlyRevenue" yaml:"grossMonthlyRevenue"`
	EstimatedMonthlyCleaningCost float64 `json:"estimatedMonthlyCleaningCost" yaml:"estimatedMonthlyCleaningCost"`
	ProfitMargin                 float64 `json:"profitMargin" yaml:"profitMargin"`
}

// Warning flags a figure that deserves a second look
type Warning struct {
	Code    string `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`
}

// Warning codes
const (
	WarningHighMargin     = "high_margin"
	WarningHighOccupancy  = "high_occupancy"
	WarningCleaningCost   = "cleaning_cost"
	WarningNegativeIncome = "negative_income"
)

// Calculation is the full result for one property. Its JSON form is what a
// client sends to the advisor as the analysis message.
type Calculation struct {
	Location     string     `json:"location" yaml:"location"`
	PropertyType string     `json:"propertyType" yaml:"propertyType"`
	Layout       Layout     `json:"layout" yaml:"layout"`
	Financials   Financials `json:"financials" yaml:"financials"`
	Warnings     []Warning  `json:"warnings" yaml:"warnings"`
}

// Calculate derives the profitability metrics for a property
func Calculate(in PropertyInput) Calculation {
	startup := StartupCost(in)
	revenue := MonthlyRevenue(in)
	netMonthly := revenue - in.MonthlyRent
	cleaning := MonthlyCleaningCost(in)

	metrics := Metrics{
		TotalStartupCost:             round2(startup),
		MonthsToRepay:                round2(safeDiv(startup, revenue)),
		PercentDebtRepaidMonthly:     round2(safeDiv(netMonthly, startup) * 100),
		AnnualROI:                    round2(safeDiv(netMonthly*12, startup) * 100),
		NetAnnualIncome:              round2(netMonthly * 12),
		NetMonthlyIncome:             round2(netMonthly),
		GrossMonthlyRevenue:          round2(revenue),
		EstimatedMonthlyCleaningCost: round2(cleaning),
		ProfitMargin:                 round2(safeDiv(netMonthly, revenue) * 100),
	}

	calc := Calculation{
		Location:     in.Location,
		PropertyType: in.PropertyType,
		Layout: Layout{
			Bedrooms:    in.Bedrooms,
			Bathrooms:   in.Bathrooms,
			LivingRooms: in.LivingRooms,
		},
		Financials: Financials{
			MonthlyRent:   in.MonthlyRent,
			CleaningCost:  in.CleaningCost,
			NightlyRate:   in.NightlyRate,
			OccupancyRate: in.OccupancyRate,
			Metrics:       metrics,
		},
	}
	calc.Warnings = Warnings(in, metrics)

	return calc
}

// StartupCost is two months of rent plus furnishing per room
func StartupCost(in PropertyInput) float64 {
	return in.MonthlyRent*StartupRentMonths +
		in.Bedrooms*FurnishingPerBedroom +
		in.Bathrooms*FurnishingPerBathroom +
		in.LivingRooms*FurnishingPerLivingRoom
}

// MonthlyRevenue is the gross booking revenue of a 30 day month
func MonthlyRevenue(in PropertyInput) float64 {
	return in.NightlyRate * DaysPerMonth * (in.OccupancyRate / 100)
}

// AverageStayNights estimates the typical booking length from the bedroom count
func AverageStayNights(bedrooms float64) float64 {
	if bedrooms <= smallPropertyMax {
		return smallPropertyStay
	}
	return largePropertyStay
}

// MonthlyCleaningCost estimates one cleaning per booking
func MonthlyCleaningCost(in PropertyInput) float64 {
	occupiedNights := DaysPerMonth * (in.OccupancyRate / 100)
	turnovers := occupiedNights / AverageStayNights(in.Bedrooms)
	return turnovers * in.CleaningCost
}

// Warnings returns the review flags for a calculation
func Warnings(in PropertyInput, m Metrics) []Warning {
	warnings := []Warning{}

	if m.ProfitMargin > maxHealthyMarginPercent {
		warnings = append(warnings, Warning{
			Code:    WarningHighMargin,
			Message: fmt.Sprintf("Projected margin of %.2f%% exceeds %.0f%%; check the nightly rate and occupancy assumptions", m.ProfitMargin, maxHealthyMarginPercent),
		})
	}

	if in.OccupancyRate > maxRealisticOccupancy {
		warnings = append(warnings, Warning{
			Code:    WarningHighOccupancy,
			Message: fmt.Sprintf("Occupancy of %.0f%% is above the %.0f%% most markets sustain", in.OccupancyRate, maxRealisticOccupancy),
		})
	}

	if m.GrossMonthlyRevenue > 0 && m.EstimatedMonthlyCleaningCost/m.GrossMonthlyRevenue*100 > maxCleaningShareOfRevenue {
		warnings = append(warnings, Warning{
			Code:    WarningCleaningCost,
			Message: "Estimated cleaning costs exceed half of the monthly revenue",
		})
	}

	if m.NetMonthlyIncome < 0 {
		warnings = append(warnings, Warning{
			Code:    WarningNegativeIncome,
			Message: "Projected revenue does not cover the monthly rent",
		})
	}

	return warnings
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
