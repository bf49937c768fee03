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
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validForm() PropertyForm {
	return PropertyForm{
		Area:          "Downtown Seattle, WA",
		PropertyType:  "Apartment",
		CleaningCost:  NewNumber(80),
		Rent:          NewNumber(2000),
		LivingRooms:   NewNumber(1),
		Bedrooms:      NewNumber(2),
		Bathrooms:     NewNumber(1),
		NightlyRate:   NewNumber(150),
		OccupancyRate: NewNumber(70),
	}
}

func decodeNumber(raw string) Number {
	var n Number
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		panic(err)
	}
	return n
}

func TestValidateValidForm(t *testing.T) {
	assert.Empty(t, Validate(validForm()))
}

func TestValidateEmptyForm(t *testing.T) {
	errs := Validate(PropertyForm{})
	assert.Len(t, errs, 9)
	for field, msg := range errs {
		assert.Equal(t, "This field is required", msg, field)
	}
}

func TestValidateFieldRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PropertyForm)
		field  string
		msg    string
	}{
		{"short area", func(f *PropertyForm) { f.Area = "ab" }, "area", "Must be at least 3 characters"},
		{"long area", func(f *PropertyForm) { f.Area = strings.Repeat("a", 101) }, "area", "Must be less than 100 characters"},
		{"unknown type", func(f *PropertyForm) { f.PropertyType = "Castle" }, "propertyType", "Please select a valid option"},
		{"rent too low", func(f *PropertyForm) { f.Rent = NewNumber(50) }, "rent", "Must be at least 100"},
		{"occupancy too high", func(f *PropertyForm) { f.OccupancyRate = NewNumber(150) }, "occupancyRate", "Must be less than 100"},
		{"cleaning too high", func(f *PropertyForm) { f.CleaningCost = NewNumber(1500) }, "cleaningCost", "Must be less than 1000"},
		{"no bedrooms", func(f *PropertyForm) { f.Bedrooms = NewNumber(0) }, "bedrooms", "Must be at least 1"},
		{"not a number", func(f *PropertyForm) { f.NightlyRate = Number{Set: true, Invalid: true} }, "nightlyRate", "Must be a number"},
		{"NaN occupancy", func(f *PropertyForm) { f.OccupancyRate = decodeNumber(`"NaN"`) }, "occupancyRate", "Must be a number"},
		{"infinite rent", func(f *PropertyForm) { f.Rent = decodeNumber(`"Inf"`) }, "rent", "Must be a number"},
		{"negative infinite rate", func(f *PropertyForm) { f.NightlyRate = decodeNumber(`"-Infinity"`) }, "nightlyRate", "Must be a number"},
		{"overflowing number", func(f *PropertyForm) { f.CleaningCost = decodeNumber(`1e400`) }, "cleaningCost", "Must be a number"},
		{"nightly below daily rent", func(f *PropertyForm) {
			f.Rent = NewNumber(3000)
			f.NightlyRate = NewNumber(50)
		}, "nightlyRate", "Nightly rate should be higher than daily rent cost"},
		{"too few bathrooms", func(f *PropertyForm) {
			f.Bedrooms = NewNumber(4)
			f.LivingRooms = NewNumber(2)
		}, "bathrooms", "Consider adding more bathrooms for this layout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := validForm()
			tt.mutate(&form)
			errs := Validate(form)
			assert.Equal(t, tt.msg, errs[tt.field])
		})
	}
}

func TestValidateZeroIsNotMissing(t *testing.T) {
	form := validForm()
	form.LivingRooms = NewNumber(0)
	form.CleaningCost = NewNumber(0)
	assert.Empty(t, Validate(form))
}

func TestParse(t *testing.T) {
	in, err := Parse(validForm())
	require.NoError(t, err)
	assert.Equal(t, "Downtown Seattle, WA", in.Location)
	assert.InDelta(t, 2000, in.MonthlyRent, 0.001)

	_, err = Parse(PropertyForm{Area: "x"})
	require.Error(t, err)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "Must be at least 3 characters", verrs["area"])
	assert.Contains(t, err.Error(), "area: Must be at least 3 characters")
}

func TestNumberUnmarshal(t *testing.T) {
	var form PropertyForm
	payload := `{
		"area": "Austin, TX",
		"propertyType": "House",
		"rent": "2000",
		"bedrooms": 2,
		"cleaningCost": "",
		"nightlyRate": "abc",
		"occupancyRate": null
	}`
	require.NoError(t, json.Unmarshal([]byte(payload), &form))

	assert.Equal(t, NewNumber(2000), form.Rent)
	assert.Equal(t, NewNumber(2), form.Bedrooms)
	assert.False(t, form.CleaningCost.Set)
	assert.True(t, form.NightlyRate.Invalid)
	assert.False(t, form.OccupancyRate.Set)
	assert.False(t, form.Bathrooms.Set)

	err := json.Unmarshal([]byte(`{"rent": true}`), &form)
	assert.Error(t, err)
}

func TestNumberRejectsNonFiniteValues(t *testing.T) {
	for _, raw := range []string{`"NaN"`, `"nan"`, `"Inf"`, `"+Inf"`, `"-inf"`, `"1e400"`, `-1e400`} {
		n := decodeNumber(raw)
		assert.True(t, n.Set, raw)
		assert.True(t, n.Invalid, raw)
		assert.Zero(t, n.Value, raw)
	}

	data, err := json.Marshal(decodeNumber(`"NaN"`))
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestNumberMarshal(t *testing.T) {
	data, err := json.Marshal(struct {
		A Number `json:"a"`
		B Number `json:"b"`
	}{A: NewNumber(12.5)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":12.5,"b":null}`, string(data))
}
