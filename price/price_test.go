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

package price_test

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/clawdworks/voice/price"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mutex  sync.Mutex
	sample decimal.Decimal
	err    error
}

func (f *fakeSource) set(sample decimal.Decimal, err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.sample = sample
	f.err = err
}

func (f *fakeSource) Sample(
	_ context.Context,
	_ string,
) (decimal.Decimal, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.sample, f.err
}

func newTestAnnotator(source price.Source) *price.Annotator {
	return price.NewAnnotator(price.AnnotatorConfig{
		Source:       source,
		PromRegistry: prometheus.NewRegistry(),
		Token:        "0xToken",
	})
}

// wholeTokens returns n whole tokens in 18-decimal base units
func wholeTokens(n int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return scale.Mul(scale, big.NewInt(n))
}

func TestToUSDUnknownBeforeFirstSample(t *testing.T) {
	annotator := newTestAnnotator(&fakeSource{})
	_, ok := annotator.USDPerToken()
	assert.False(t, ok)
	_, ok = annotator.ToUSD(wholeTokens(1000))
	assert.False(t, ok)
}

func TestToUSD(t *testing.T) {
	source := &fakeSource{}
	source.set(decimal.RequireFromString("0.5"), nil)
	annotator := newTestAnnotator(source)
	require.NoError(t, annotator.Refresh(context.Background()))
	value, ok := annotator.ToUSD(wholeTokens(1000))
	require.True(t, ok)
	assert.Equal(t, "500", value.String())
}

// Values below one cent are suppressed rather than rendered as $0.00
func TestToUSDSuppressedBelowThreshold(t *testing.T) {
	source := &fakeSource{}
	source.set(decimal.RequireFromString("0.0001"), nil)
	annotator := newTestAnnotator(source)
	require.NoError(t, annotator.Refresh(context.Background()))
	_, ok := annotator.ToUSD(wholeTokens(10))
	assert.False(t, ok)
	value, ok := annotator.ToUSD(wholeTokens(100))
	require.True(t, ok)
	assert.Equal(t, "0.01", value.String())
}

// A zero price is a valid sample, distinct from no sample
func TestZeroPriceSampleValid(t *testing.T) {
	source := &fakeSource{}
	source.set(decimal.Zero, nil)
	annotator := newTestAnnotator(source)
	require.NoError(t, annotator.Refresh(context.Background()))
	sample, ok := annotator.USDPerToken()
	require.True(t, ok)
	assert.True(t, sample.IsZero())
	_, ok = annotator.ToUSD(wholeTokens(1000))
	assert.False(t, ok)
}

func TestRefreshFailureRetainsSample(t *testing.T) {
	source := &fakeSource{}
	source.set(decimal.RequireFromString("0.25"), nil)
	annotator := newTestAnnotator(source)
	require.NoError(t, annotator.Refresh(context.Background()))
	source.set(decimal.Zero, errors.New("fetch failed"))
	require.Error(t, annotator.Refresh(context.Background()))
	sample, ok := annotator.USDPerToken()
	require.True(t, ok)
	assert.Equal(t, "0.25", sample.String())
}

func TestDexScreenerSample(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/latest/dex/tokens/0xToken", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(
				[]byte(
					`{"pairs":[{"priceUsd":"0.0123"},{"priceUsd":"0.0200"}]}`,
				),
			)
		},
	))
	defer srv.Close()
	source := price.NewDexScreenerSource(srv.URL)
	sample, err := source.Sample(context.Background(), "0xToken")
	require.NoError(t, err)
	assert.Equal(t, "0.0123", sample.String())
}

func TestDexScreenerNoPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"pairs":[]}`))
		},
	))
	defer srv.Close()
	source := price.NewDexScreenerSource(srv.URL)
	sample, err := source.Sample(context.Background(), "0xToken")
	require.NoError(t, err)
	assert.True(t, sample.IsZero())
}

func TestDexScreenerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "oops", http.StatusInternalServerError)
		},
	))
	defer srv.Close()
	source := price.NewDexScreenerSource(srv.URL)
	_, err := source.Sample(context.Background(), "0xToken")
	require.Error(t, err)
}
