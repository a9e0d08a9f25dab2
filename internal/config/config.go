// Package config loads the spfquery configuration file.
//
// All fields are optional. Command line flags override values from the file.
//
// Example configuration:
//
//	resolver: dns
//	nameservers:
//	  - "1.1.1.1:53"
//	  - "8.8.8.8"
//	timeout: 5s
//	retries: 2
//	dnssec: true
//	rate_limit: 50
//	cache:
//	  enabled: true
//	  ttl: 5m
//	receiving_host: mx.example.org
//	default_explanation: "See https://example.org/spf?s=%{S}"
//	best_guess_record: "v=spf1 a/24 mx/24 ptr ?all"
//	trusted_forwarder: spf.trusted-forwarder.org
//	limits:
//	  max_lookups: 10
//	  max_void_lookups: 2
//	  max_depth: 20
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/synqronlabs/spfquery/spf"
)

const Version = "1.0.0"

// Duration is a time.Duration written as a Go duration string, e.g. "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

type Cache struct {
	Enabled    bool     `yaml:"enabled"`
	TTL        Duration `yaml:"ttl"`
	MaxEntries int      `yaml:"max_entries"`
}

type Limits struct {
	MaxLookups     int `yaml:"max_lookups"`
	MaxVoidLookups int `yaml:"max_void_lookups"`
	MaxDepth       int `yaml:"max_depth"`
}

type Config struct {
	Resolver           string   `yaml:"resolver"` // "dns" (default) or "system".
	Nameservers        []string `yaml:"nameservers"`
	Timeout            Duration `yaml:"timeout"`
	Retries            int      `yaml:"retries"`
	DNSSEC             bool     `yaml:"dnssec"`
	RateLimit          float64  `yaml:"rate_limit"` // Queries per second, 0 is unlimited.
	Cache              Cache    `yaml:"cache"`
	ReceivingHost      string   `yaml:"receiving_host"`
	DefaultExplanation string   `yaml:"default_explanation"`
	BestGuessRecord    string   `yaml:"best_guess_record"`
	TrustedForwarder   string   `yaml:"trusted_forwarder"`
	Limits             Limits   `yaml:"limits"`
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	switch c.Resolver {
	case "", "dns":
	case "system":
		if len(c.Nameservers) > 0 {
			return fmt.Errorf("nameservers cannot be used with the system resolver")
		}
	default:
		return fmt.Errorf("unknown resolver %q", c.Resolver)
	}
	for i, ns := range c.Nameservers {
		if err := validateNameserver(ns); err != nil {
			return fmt.Errorf("nameservers[%d]: %w", i, err)
		}
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	if c.Cache.TTL < 0 || c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache ttl and max_entries must not be negative")
	}
	if c.Limits.MaxLookups < 0 || c.Limits.MaxVoidLookups < 0 || c.Limits.MaxDepth < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if c.BestGuessRecord != "" {
		_, isSPF, err := spf.ParseRecord(c.BestGuessRecord)
		if !isSPF {
			return fmt.Errorf("best_guess_record %q is not an SPF record", c.BestGuessRecord)
		}
		if err != nil {
			return fmt.Errorf("best_guess_record: %w", err)
		}
	}
	if c.TrustedForwarder != "" && !isValidDomainName(c.TrustedForwarder) {
		return fmt.Errorf("invalid trusted_forwarder domain: %s", c.TrustedForwarder)
	}
	return nil
}

// validateNameserver accepts "ip" and "ip:port".
func validateNameserver(ns string) error {
	host := ns
	if h, port, err := net.SplitHostPort(ns); err == nil {
		if port == "" {
			return fmt.Errorf("missing port in %q", ns)
		}
		host = h
	}
	if net.ParseIP(host) == nil {
		return fmt.Errorf("invalid nameserver address %q", ns)
	}
	return nil
}

// isValidDomainName checks label lengths and characters of a domain name.
func isValidDomainName(domain string) bool {
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" || len(domain) > 253 {
		return false
	}
	for _, part := range strings.Split(domain, ".") {
		if len(part) == 0 || len(part) > 63 {
			return false
		}
		if strings.HasPrefix(part, "-") || strings.HasSuffix(part, "-") {
			return false
		}
		for _, c := range part {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
				return false
			}
		}
	}
	return true
}

// NameserverAddrs returns the nameservers with port 53 added where missing.
func (c *Config) NameserverAddrs() []string {
	var l []string
	for _, ns := range c.Nameservers {
		if _, _, err := net.SplitHostPort(ns); err != nil {
			ns = net.JoinHostPort(ns, "53")
		}
		l = append(l, ns)
	}
	return l
}

// Options returns the query options the configuration describes.
func (c *Config) Options() spf.Options {
	return spf.Options{
		ReceivingHost:          c.ReceivingHost,
		DefaultExplanation:     c.DefaultExplanation,
		BestGuessRecord:        c.BestGuessRecord,
		TrustedForwarderDomain: c.TrustedForwarder,
		Limits: spf.Limits{
			MaxLookups:     c.Limits.MaxLookups,
			MaxVoidLookups: c.Limits.MaxVoidLookups,
			MaxDepth:       c.Limits.MaxDepth,
		},
	}
}

// LoadConfig reads, parses and validates the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}
