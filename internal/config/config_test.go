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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetGlobalConfig restores the package-level config defaults between tests
func resetGlobalConfig() {
	*globalConfig = Config{
		DataDir:         ".voice",
		BindAddr:        "0.0.0.0",
		MetricsPort:     12791,
		PriceInterval:   "60s",
		RefreshInterval: "15s",
		ShutdownTimeout: DefaultShutdownTimeout,
		RunMode:         RunModeServe,
		PriceEnabled:    true,
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpFile := filepath.Join(t.TempDir(), "test-voice.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(content), 0o644))
	return tmpFile
}

func TestLoadConfigFileOverlaysDefaults(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfigFile(t, `
user: "0xUser"
spender: "0xSpender"
tokenAddress: "0xToken"
metricsPort: 8088
refreshInterval: "30s"
`)
	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)
	assert.Equal(t, "0xUser", cfg.User)
	assert.Equal(t, "0xSpender", cfg.Spender)
	assert.EqualValues(t, 8088, cfg.MetricsPort)
	assert.Equal(t, "30s", cfg.RefreshInterval)
	// Untouched keys keep defaults
	assert.Equal(t, ".voice", cfg.DataDir)
	assert.Equal(t, "60s", cfg.PriceInterval)
	assert.Equal(t, RunModeServe, cfg.RunMode)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfigFile(t, `
user: "0xUser"
spender: "0xSpender"
dataDir: "/var/lib/voice"
`)
	t.Setenv("VOICE_DATA_DIR", "/tmp/voice-env")
	t.Setenv("VOICE_METRICS_PORT", "9191")
	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/voice-env", cfg.DataDir)
	assert.EqualValues(t, 9191, cfg.MetricsPort)
}

func TestLoadConfigInvalidRunMode(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfigFile(t, `
user: "0xUser"
spender: "0xSpender"
runMode: "bogus"
`)
	_, err := LoadConfig(tmpFile)
	require.Error(t, err)
}

// Dev mode runs against the in-process mock ledger and needs no identities
func TestLoadConfigDevModeNoIdentities(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfigFile(t, `
runMode: "dev"
`)
	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)
	assert.True(t, cfg.RunMode.IsDevMode())
}

func TestLoadConfigServeRequiresIdentities(t *testing.T) {
	resetGlobalConfig()
	tmpFile := writeConfigFile(t, `
user: "0xUser"
`)
	_, err := LoadConfig(tmpFile)
	require.Error(t, err)
}

func TestRunModeValid(t *testing.T) {
	tests := []struct {
		mode  RunMode
		valid bool
	}{
		{RunModeServe, true},
		{RunModeDev, true},
		{"", true},
		{"invalid", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, tt.mode.Valid(), "mode=%q", tt.mode)
	}
}
