package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spfquery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
nameservers:
  - "1.1.1.1:53"
  - "8.8.8.8"
  - "2001:4860:4860::8888"
timeout: 3s
retries: 1
dnssec: true
rate_limit: 25
cache:
  enabled: true
  ttl: 2m
receiving_host: mx.example.org
default_explanation: "denied %{i}"
best_guess_record: "v=spf1 a mx ?all"
trusted_forwarder: tf.example.net
limits:
  max_lookups: 15
  max_void_lookups: 3
  max_depth: 8
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"1.1.1.1:53", "8.8.8.8:53", "[2001:4860:4860::8888]:53"}, cfg.NameserverAddrs())
	assert.Equal(t, Duration(3*time.Second), cfg.Timeout)
	assert.Equal(t, 1, cfg.Retries)
	assert.True(t, cfg.DNSSEC)
	assert.Equal(t, 25.0, cfg.RateLimit)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, Duration(2*time.Minute), cfg.Cache.TTL)

	opts := cfg.Options()
	assert.Equal(t, "mx.example.org", opts.ReceivingHost)
	assert.Equal(t, "denied %{i}", opts.DefaultExplanation)
	assert.Equal(t, "v=spf1 a mx ?all", opts.BestGuessRecord)
	assert.Equal(t, "tf.example.net", opts.TrustedForwarderDomain)
	assert.Equal(t, 15, opts.Limits.MaxLookups)
	assert.Equal(t, 3, opts.Limits.MaxVoidLookups)
	assert.Equal(t, 8, opts.Limits.MaxDepth)
	assert.False(t, opts.BestGuess, "overlays are enabled by flags only")
}

func TestLoadConfig_Empty(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Empty(t, cfg.NameserverAddrs())
	assert.Zero(t, cfg.Options().Limits.MaxLookups)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"unknown resolver", "resolver: bind\n", "unknown resolver"},
		{"system with nameservers", "resolver: system\nnameservers: [1.1.1.1]\n", "system resolver"},
		{"unknown field", "nameserver: 1.1.1.1\n", "failed to parse"},
		{"bad duration", "timeout: soon\n", "invalid duration"},
		{"bad nameserver", "nameservers: [dns.example.com]\n", "nameservers[0]"},
		{"negative retries", "retries: -1\n", "retries"},
		{"negative limit", "limits:\n  max_depth: -2\n", "limits"},
		{"best guess not spf", "best_guess_record: \"a mx\"\n", "not an SPF record"},
		{"best guess malformed", "best_guess_record: \"v=spf1 frob\"\n", "best_guess_record"},
		{"bad forwarder", "trusted_forwarder: \"-bad-.example\"\n", "trusted_forwarder"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
