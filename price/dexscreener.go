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

package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultDexScreenerURL = "https://api.dexscreener.com"

// dexScreenerPair is one trading pair entry from the token endpoint
type dexScreenerPair struct {
	PriceUSD string `json:"priceUsd"`
}

type dexScreenerResponse struct {
	Pairs []dexScreenerPair `json:"pairs"`
}

// DexScreenerSource fetches USD token prices from a DexScreener-compatible
// API (GET /latest/dex/tokens/{token}).
type DexScreenerSource struct {
	baseURL    string
	httpClient *http.Client
}

// DexScreenerOption is a functional option for configuring a
// DexScreenerSource.
type DexScreenerOption func(*DexScreenerSource)

// WithHTTPClient sets a custom *http.Client for the source
func WithHTTPClient(hc *http.Client) DexScreenerOption {
	return func(d *DexScreenerSource) {
		if hc != nil {
			d.httpClient = hc
		}
	}
}

// NewDexScreenerSource creates a price source against the given base URL.
// An empty baseURL uses the public DexScreener API.
func NewDexScreenerSource(
	baseURL string,
	opts ...DexScreenerOption,
) *DexScreenerSource {
	if baseURL == "" {
		baseURL = DefaultDexScreenerURL
	}
	d := &DexScreenerSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Sample returns the USD price of the first listed pair for the token. A
// token with no pairs samples as zero, which is valid.
func (d *DexScreenerSource) Sample(
	ctx context.Context,
	token string,
) (decimal.Decimal, error) {
	reqURL := d.baseURL + "/latest/dex/tokens/" + url.PathEscape(token)
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		reqURL,
		nil,
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("executing request: %w", err)
	}
	if resp == nil || resp.Body == nil {
		return decimal.Zero, errors.New("nil response from server")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return decimal.Zero, fmt.Errorf(
			"unexpected status %d: %s",
			resp.StatusCode,
			string(bodyBytes),
		)
	}
	var parsed dexScreenerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return decimal.Zero, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Pairs) == 0 || parsed.Pairs[0].PriceUSD == "" {
		return decimal.Zero, nil
	}
	sample, err := decimal.NewFromString(parsed.Pairs[0].PriceUSD)
	if err != nil {
		return decimal.Zero, fmt.Errorf(
			"parsing price %q: %w",
			parsed.Pairs[0].PriceUSD,
			err,
		)
	}
	return sample, nil
}
