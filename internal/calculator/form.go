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

package calculator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// PropertyTypes lists the property types accepted by the calculator form
var PropertyTypes = []string{
	"Apartment",
	"House",
	"Condo",
	"Villa",
	"Townhouse",
	"Cabin",
	"Cottage",
	"Loft",
	"Studio",
	"Resort",
}

// Number is a form value that may arrive as a JSON number or a numeric
// string. An empty string or null leaves it unset.
type Number struct {
	Value float64
	Set   bool
	// Invalid is true when the raw value could not be read as a number
	Invalid bool
}

// NewNumber returns a set Number
func NewNumber(v float64) Number {
	return Number{Value: v, Set: true}
}

// UnmarshalJSON implements json.Unmarshaler
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		n.set(v, err == nil)
		return nil
	}

	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return fmt.Errorf("invalid number %s", data)
	}
	n.set(v, err == nil)
	return nil
}

// set records v, marking it invalid unless it parsed to a finite value
func (n *Number) set(v float64, ok bool) {
	n.Set = true
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		n.Invalid = true
		return
	}
	n.Value = v
}

// MarshalJSON implements json.Marshaler
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Set || n.Invalid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(n.Value, 'f', -1, 64)), nil
}

// PropertyForm is the raw calculator form as submitted by a client
type PropertyForm struct {
	Area          string `json:"area"`
	PropertyType  string `json:"propertyType"`
	CleaningCost  Number `json:"cleaningCost"`
	Rent          Number `json:"rent"`
	LivingRooms   Number `json:"livingRooms"`
	Bedrooms      Number `json:"bedrooms"`
	Bathrooms     Number `json:"bathrooms"`
	NightlyRate   Number `json:"nightlyRate"`
	OccupancyRate Number `json:"occupancyRate"`
}

// ValidationErrors maps a form field name to a human readable problem
type ValidationErrors map[string]string

// Error implements the error interface
func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v[field])
	}
	return "invalid property data: " + strings.Join(parts, "; ")
}

type numericRule struct {
	field string
	min   float64
	max   float64
	value func(*PropertyForm) Number
}

var numericRules = []numericRule{
	{"cleaningCost", 0, 1000, func(f *PropertyForm) Number { return f.CleaningCost }},
	{"rent", 100, 100000, func(f *PropertyForm) Number { return f.Rent }},
	{"livingRooms", 0, 10, func(f *PropertyForm) Number { return f.LivingRooms }},
	{"bedrooms", 1, 10, func(f *PropertyForm) Number { return f.Bedrooms }},
	{"bathrooms", 1, 10, func(f *PropertyForm) Number { return f.Bathrooms }},
	{"nightlyRate", 10, 10000, func(f *PropertyForm) Number { return f.NightlyRate }},
	{"occupancyRate", 1, 100, func(f *PropertyForm) Number { return f.OccupancyRate }},
}

const (
	areaMinLength = 3
	areaMaxLength = 100

	msgRequired      = "This field is required"
	msgInvalidNumber = "Must be a number"
	msgInvalidOption = "Please select a valid option"
	msgNightlyRate   = "Nightly rate should be higher than daily rent cost"
	msgBathrooms     = "Consider adding more bathrooms for this layout"
)

// Validate checks the form against the field rules and the cross-field
// layout rules. An empty result means the form is valid.
func Validate(form PropertyForm) ValidationErrors {
	errs := ValidationErrors{}

	area := strings.TrimSpace(form.Area)
	switch {
	case area == "":
		errs["area"] = msgRequired
	case len([]rune(area)) < areaMinLength:
		errs["area"] = fmt.Sprintf("Must be at least %d characters", areaMinLength)
	case len([]rune(area)) > areaMaxLength:
		errs["area"] = fmt.Sprintf("Must be less than %d characters", areaMaxLength)
	}

	switch {
	case form.PropertyType == "":
		errs["propertyType"] = msgRequired
	case !isPropertyType(form.PropertyType):
		errs["propertyType"] = msgInvalidOption
	}

	for _, rule := range numericRules {
		n := rule.value(&form)
		switch {
		case !n.Set:
			errs[rule.field] = msgRequired
		case n.Invalid:
			errs[rule.field] = msgInvalidNumber
		case n.Value < rule.min:
			errs[rule.field] = "Must be at least " + formatBound(rule.min)
		case n.Value > rule.max:
			errs[rule.field] = "Must be less than " + formatBound(rule.max)
		}
	}

	// Cross-field rules only apply once the fields involved are individually valid
	if validField(errs, "nightlyRate", "rent") && form.NightlyRate.Value <= form.Rent.Value/30 {
		errs["nightlyRate"] = msgNightlyRate
	}
	if validField(errs, "bedrooms", "livingRooms", "bathrooms") &&
		form.Bedrooms.Value+form.LivingRooms.Value > form.Bathrooms.Value*3 {
		errs["bathrooms"] = msgBathrooms
	}

	return errs
}

// Parse validates the form and converts it to numeric input
func Parse(form PropertyForm) (PropertyInput, error) {
	if errs := Validate(form); len(errs) > 0 {
		return PropertyInput{}, errs
	}

	return PropertyInput{
		Location:      strings.TrimSpace(form.Area),
		PropertyType:  form.PropertyType,
		CleaningCost:  form.CleaningCost.Value,
		MonthlyRent:   form.Rent.Value,
		LivingRooms:   form.LivingRooms.Value,
		Bedrooms:      form.Bedrooms.Value,
		Bathrooms:     form.Bathrooms.Value,
		NightlyRate:   form.NightlyRate.Value,
		OccupancyRate: form.OccupancyRate.Value,
	}, nil
}

func isPropertyType(value string) bool {
	for _, t := range PropertyTypes {
		if t == value {
			return true
		}
	}
	return false
}

func validField(errs ValidationErrors, fields ...string) bool {
	for _, f := range fields {
		if _, bad := errs[f]; bad {
			return false
		}
	}
	return true
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
