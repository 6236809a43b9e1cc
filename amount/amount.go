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

// Package amount converts between human-decimal token amounts and the
// ledger's fixed-point integer representation. All functions are pure.
package amount

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
)

// ToBaseUnits parses a non-negative human-decimal string into the token's
// fixed-point base unit. Empty, unparsable, or negative input yields 0; the
// caller gates on amount > 0 before any ledger write, so malformed input is
// never an error here. Fractional digits beyond the fixed-point scale are
// truncated rather than rounded so the transferable unit is never inflated.
func ToBaseUnits(s string, decimals uint) *big.Int {
	if s == "" {
		return new(big.Int)
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return new(big.Int)
	}
	if decimals > 255 {
		return new(big.Int)
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt()
}

// FromBaseUnits formats a base-unit amount as a full-precision decimal
// string, with trailing fractional zeroes trimmed
func FromBaseUnits(x *big.Int, decimals uint) string {
	if x == nil {
		return "0"
	}
	if decimals > 255 {
		return "0"
	}
	return decimal.NewFromBigInt(x, -int32(decimals)).String()
}

// Abbreviate formats a base-unit amount as a compact display string:
// one decimal place with an "M" suffix at or above one million whole tokens,
// "K" at or above one thousand, and a whole-number string below that. Used
// only for compact summaries; exact stakes use FromBaseUnits.
func Abbreviate(x *big.Int, decimals uint) string {
	if x == nil || decimals > 255 {
		return "0"
	}
	d := decimal.NewFromBigInt(x, -int32(decimals))
	switch {
	case d.GreaterThanOrEqual(million):
		return fmt.Sprintf("%sM", d.Div(million).StringFixed(1))
	case d.GreaterThanOrEqual(thousand):
		return fmt.Sprintf("%sK", d.Div(thousand).StringFixed(1))
	default:
		return d.StringFixed(0)
	}
}
