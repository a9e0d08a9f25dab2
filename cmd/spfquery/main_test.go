package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synqronlabs/spfquery/dns"
	"github.com/synqronlabs/spfquery/internal/config"
	"github.com/synqronlabs/spfquery/spf"
)

func useMockResolver(t *testing.T, r dns.MockResolver) *[]string {
	t.Helper()
	var nameservers []string
	orig := newResolver
	newResolver = func(cfg *config.Config, ns []string) dns.Resolver {
		nameservers = ns
		if len(ns) == 0 {
			nameservers = cfg.NameserverAddrs()
		}
		return r
	}
	t.Cleanup(func() { newResolver = orig })
	return &nameservers
}

var testRecords = dns.MockResolver{
	TXT: map[string][]string{
		"pass.example.":      {"v=spf1 ip4:192.0.2.0/24 -all"},
		"soft.example.":      {"v=spf1 ~all"},
		"neutral.example.":   {"v=spf1 ?all"},
		"broken.example.":    {"v=spf1 bogus -all"},
		"mail.example.":      {"v=spf1 ip4:192.0.2.1 -all"},
		"explained.example.": {"v=spf1 -all"},
	},
	A:    map[string][]string{"none.example.": {"192.0.2.1"}},
	Fail: []string{"txt temp.example."},
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		sender string
		want   int
		status spf.Status
	}{
		{"user@pass.example", 0, spf.StatusPass},
		{"user@explained.example", 1, spf.StatusFail},
		{"user@soft.example", 2, spf.StatusSoftfail},
		{"user@neutral.example", 3, spf.StatusNeutral},
		{"user@temp.example", 4, spf.StatusTemperror},
		{"user@broken.example", 5, spf.StatusPermerror},
		{"user@none.example", 6, spf.StatusNone},
	}

	useMockResolver(t, testRecords)
	for _, tt := range tests {
		t.Run(tt.sender, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run([]string{"-i", "192.0.2.1", "-s", tt.sender, "-h", "mail.example"}, &stdout, &stderr)
			assert.Equal(t, tt.want, code, "stderr: %s", stderr.String())

			lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
			require.Len(t, lines, 2)
			assert.Equal(t, string(tt.status), lines[0])
			assert.True(t, strings.HasPrefix(lines[1], "Received-SPF: "+string(tt.status)), lines[1])
		})
	}
}

func TestExitCodeTable(t *testing.T) {
	assert.Equal(t, 255, exitCode(spf.Status("unknown")))
	assert.Equal(t, 255, exitCode(""))
}

func TestMissingRequiredFlags(t *testing.T) {
	useMockResolver(t, testRecords)

	for _, args := range [][]string{
		{},
		{"-i", "192.0.2.1", "-s", "user@pass.example"},
		{"--ip", "192.0.2.1", "--helo", "mail.example"},
		{"-s", "user@pass.example", "-h", "mail.example"},
	} {
		var stdout, stderr bytes.Buffer
		code := run(args, &stdout, &stderr)
		assert.Equal(t, 255, code, "args %v", args)
		assert.Empty(t, stdout.String())
		assert.Contains(t, stderr.String(), "is required")
		assert.Contains(t, stderr.String(), "Usage:")
	}
}

func TestUnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-i", "192.0.2.1", "-s", "a@b.example", "-h", "b.example", "--frobnicate"}, &stdout, &stderr)
	assert.Equal(t, 255, code)
	assert.Contains(t, stderr.String(), "Usage:")
}

func TestHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--help"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "--enable-best-guess")
	assert.Contains(t, stdout.String(), "-h, --helo")
}

func TestNullSenderUsesHelo(t *testing.T) {
	useMockResolver(t, testRecords)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-i", "192.0.2.1", "-s", "", "-h", "mail.example"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "identity=helo")
}

func TestOverlayFlags(t *testing.T) {
	useMockResolver(t, testRecords)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-i", "192.0.2.1", "-s", "user@none.example", "-h", "mail.example", "-b"}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.True(t, strings.HasPrefix(stdout.String(), "pass\n"))
}

func TestJSONOutput(t *testing.T) {
	useMockResolver(t, testRecords)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-i", "198.51.100.1", "-s", "user@pass.example", "-h", "mail.example",
		"-e", "go away %{i}", "--format", "json"}, &stdout, &stderr)
	assert.Equal(t, 1, code)

	var r spf.Result
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &r))
	assert.Equal(t, spf.StatusFail, r.Status)
	assert.Equal(t, "go away 198.51.100.1", r.Explanation)
	assert.Equal(t, "pass.example", r.Domain)
	assert.NotEmpty(t, r.QueryID)
}

func TestMsgpackOutput(t *testing.T) {
	useMockResolver(t, testRecords)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-i", "192.0.2.9", "-s", "user@pass.example", "-h", "mail.example", "--format", "msgpack"}, &stdout, &stderr)
	assert.Equal(t, 0, code)

	var r spf.Result
	_, err := r.UnmarshalMsg(stdout.Bytes())
	require.NoError(t, err)
	assert.Equal(t, spf.StatusPass, r.Status)
}

func TestBadFormat(t *testing.T) {
	useMockResolver(t, testRecords)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-i", "192.0.2.9", "-s", "user@pass.example", "-h", "mail.example", "--format", "xml"}, &stdout, &stderr)
	assert.Equal(t, 255, code)
	assert.Contains(t, stderr.String(), "unknown format")
}

func TestVerboseTrace(t *testing.T) {
	useMockResolver(t, testRecords)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-v", "-i", "192.0.2.9", "-s", "user@pass.example", "-h", "mail.example"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stderr.String(), "trace:")
	assert.Contains(t, stderr.String(), "query_id=")
}

func TestDebugCollectsTrace(t *testing.T) {
	useMockResolver(t, testRecords)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-d", "-i", "192.0.2.9", "-s", "user@pass.example", "-h", "mail.example", "--format", "json"}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.NotContains(t, stderr.String(), "trace:")

	var r spf.Result
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &r))
	assert.NotEmpty(t, r.Trace)

	// Without -d or -v no trace is collected.
	stdout.Reset()
	code = run([]string{"-i", "192.0.2.9", "-s", "user@pass.example", "-h", "mail.example", "--format", "json"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	var quiet spf.Result
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &quiet))
	assert.Empty(t, quiet.Trace)
}

func TestConfigFile(t *testing.T) {
	nameservers := useMockResolver(t, testRecords)

	path := filepath.Join(t.TempDir(), "spfquery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
nameservers: ["192.0.2.53"]
receiving_host: mx.example.org
`), 0644))

	var stdout, stderr bytes.Buffer
	code := run([]string{"--config", path, "-i", "192.0.2.9", "-s", "user@pass.example", "-h", "mail.example"}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "receiver=mx.example.org")
	assert.Equal(t, []string{"192.0.2.53:53"}, *nameservers)

	// Flags override the file.
	stdout.Reset()
	code = run([]string{"--config", path, "--nameserver", "198.51.100.53:5353", "-i", "192.0.2.9", "-s", "user@pass.example", "-h", "mail.example"}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.Equal(t, []string{"198.51.100.53:5353"}, *nameservers)
}

func TestBadConfigFile(t *testing.T) {
	useMockResolver(t, testRecords)

	var stdout, stderr bytes.Buffer
	code := run([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "-i", "192.0.2.9", "-s", "user@pass.example", "-h", "mail.example"}, &stdout, &stderr)
	assert.Equal(t, 255, code)
	assert.Contains(t, stderr.String(), "failed to read config file")
	assert.NotContains(t, stderr.String(), "Usage:")
}

func TestNewResolver(t *testing.T) {
	r := newResolver(&config.Config{Resolver: "system"}, nil)
	assert.IsType(t, &dns.StdResolver{}, r)

	r = newResolver(&config.Config{Resolver: "system"}, []string{"192.0.2.53:53"})
	assert.IsType(t, &dns.DNSResolver{}, r)

	r = newResolver(&config.Config{Nameservers: []string{"192.0.2.53"}, Cache: config.Cache{Enabled: true}}, nil)
	assert.IsType(t, &dns.CachingResolver{}, r)
}
