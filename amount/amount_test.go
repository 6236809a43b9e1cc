// Copyright 2025 Blink Labs Software
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

package amount_test

import (
	"math/big"
	"testing"

	"github.com/clawdworks/voice/amount"
	"github.com/stretchr/testify/assert"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	ret, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("invalid big.Int literal: %s", s)
	}
	return ret
}

func TestToBaseUnits(t *testing.T) {
	testDefs := []struct {
		input    string
		expected string
	}{
		{"", "0"},
		{"0", "0"},
		{"not a number", "0"},
		{"-5", "0"},
		{"1", "1000000000000000000"},
		{"1000", "1000000000000000000000"},
		{"0.5", "500000000000000000"},
		{"1.000000000000000001", "1000000000000000001"},
		// Sub-base-unit digits are truncated, never rounded up
		{"0.0000000000000000019", "1"},
	}
	for _, testDef := range testDefs {
		result := amount.ToBaseUnits(testDef.input, 18)
		assert.Equal(
			t,
			testDef.expected,
			result.String(),
			"input %q",
			testDef.input,
		)
	}
}

func TestFromBaseUnits(t *testing.T) {
	testDefs := []struct {
		input    string
		expected string
	}{
		{"0", "0"},
		{"1000000000000000000", "1"},
		{"1500000000000000000", "1.5"},
		{"1000000000000000001", "1.000000000000000001"},
		{"123000000000000000000000", "123000"},
	}
	for _, testDef := range testDefs {
		result := amount.FromBaseUnits(mustBig(t, testDef.input), 18)
		assert.Equal(t, testDef.expected, result, "input %s", testDef.input)
	}
}

// Whole-token amounts survive a display/parse round trip without loss
func TestRoundTrip(t *testing.T) {
	testDefs := []string{
		"1000000000000000000",
		"999000000000000000000",
		"1234500000000000000000000",
		"1",
		"123456789123456789",
	}
	for _, testDef := range testDefs {
		orig := mustBig(t, testDef)
		display := amount.FromBaseUnits(orig, 18)
		result := amount.ToBaseUnits(display, 18)
		assert.Zero(t, orig.Cmp(result), "round trip of %s via %q", testDef, display)
	}
}

func TestAbbreviate(t *testing.T) {
	testDefs := []struct {
		input    string
		expected string
	}{
		{"0", "0"},
		{"999000000000000000000", "999"},
		{"1000000000000000000000", "1.0K"},
		{"1500000000000000000000", "1.5K"},
		{"999999000000000000000000", "1000.0K"},
		{"1000000000000000000000000", "1.0M"},
		{"2300000000000000000000000", "2.3M"},
	}
	for _, testDef := range testDefs {
		result := amount.Abbreviate(mustBig(t, testDef.input), 18)
		assert.Equal(t, testDef.expected, result, "input %s", testDef.input)
	}
}

func TestNilAmount(t *testing.T) {
	assert.Equal(t, "0", amount.FromBaseUnits(nil, 18))
	assert.Equal(t, "0", amount.Abbreviate(nil, 18))
}
