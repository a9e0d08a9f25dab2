package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	mdns "github.com/miekg/dns"
)

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		isNotFound bool
		isTimeout  bool
		isServFail bool
		isTemp     bool
	}{
		{
			name:       "not found error",
			err:        ErrDNSNotFound,
			isNotFound: true,
		},
		{
			name:      "timeout error",
			err:       ErrDNSTimeout,
			isTimeout: true,
			isTemp:    true,
		},
		{
			name:      "context deadline",
			err:       context.DeadlineExceeded,
			isTimeout: true,
			isTemp:    true,
		},
		{
			name:       "server failure",
			err:        ErrDNSServFail,
			isServFail: true,
			isTemp:     true,
		},
		{
			name:       "wrapped server failure",
			err:        fmt.Errorf("%w: upstream", ErrDNSServFail),
			isServFail: true,
			isTemp:     true,
		},
		{
			name:   "refused",
			err:    ErrDNSRefused,
			isTemp: true,
		},
		{
			name: "text only not found",
			err:  errors.New("wrapper: " + ErrDNSNotFound.Error()),
		},
		{
			name: "nil error",
			err:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.isNotFound {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.isNotFound)
			}
			if got := IsTimeout(tt.err); got != tt.isTimeout {
				t.Errorf("IsTimeout() = %v, want %v", got, tt.isTimeout)
			}
			if got := IsServFail(tt.err); got != tt.isServFail {
				t.Errorf("IsServFail() = %v, want %v", got, tt.isServFail)
			}
			if got := IsTemporary(tt.err); got != tt.isTemp {
				t.Errorf("IsTemporary() = %v, want %v", got, tt.isTemp)
			}
		})
	}
}

func TestFilterNetwork(t *testing.T) {
	ips := []net.IP{net.ParseIP("192.0.2.1"), net.ParseIP("2001:db8::1"), net.ParseIP("198.51.100.7")}

	if got := filterNetwork("ip", ips); len(got) != 3 {
		t.Errorf("ip: got %d addresses, want 3", len(got))
	}
	if got := filterNetwork("ip4", ips); len(got) != 2 {
		t.Errorf("ip4: got %d addresses, want 2", len(got))
	}
	got := filterNetwork("ip6", ips)
	if len(got) != 1 || !got[0].Equal(net.ParseIP("2001:db8::1")) {
		t.Errorf("ip6: got %v", got)
	}
}

func TestResolverInterface(t *testing.T) {
	var _ Resolver = (*DNSResolver)(nil)
	var _ Resolver = (*StdResolver)(nil)
	var _ Resolver = (*CachingResolver)(nil)
	var _ Resolver = FromAsync(nil)
}

func TestNewResolverDefaults(t *testing.T) {
	r := NewResolver(ResolverConfig{})

	if r.config.Timeout == 0 {
		t.Error("expected default timeout to be set")
	}
	if r.config.Retries == 0 {
		t.Error("expected default retries to be set")
	}
	if len(r.config.Nameservers) == 0 {
		t.Error("expected nameservers to be set")
	}
	if r.limiter != nil {
		t.Error("expected no rate limiter by default")
	}

	r = NewResolver(ResolverConfig{Nameservers: []string{"192.0.2.53:53"}, QueriesPerSecond: 0.5})
	if r.limiter == nil {
		t.Fatal("expected rate limiter")
	}
	if r.limiter.Burst() != 1 {
		t.Errorf("burst = %d, want 1", r.limiter.Burst())
	}
}

func TestRateLimitDeadline(t *testing.T) {
	r := NewResolver(ResolverConfig{Nameservers: []string{"192.0.2.53:53"}, QueriesPerSecond: 0.5})
	// Use up the burst so the next query has to wait two seconds.
	if !r.limiter.Allow() {
		t.Fatal("expected a token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.LookupTXT(ctx, "example.com.")
	if !IsTimeout(err) {
		t.Errorf("err = %v, want timeout", err)
	}
	if !IsTemporary(err) {
		t.Errorf("err = %v, want temporary", err)
	}
}

func TestNewStdResolver(t *testing.T) {
	r := NewStdResolver()
	if r == nil || r.resolver == nil {
		t.Fatal("expected non-nil resolver")
	}
}

func TestMockResolver(t *testing.T) {
	var seen []string
	r := MockResolver{
		A:       map[string][]string{"example.com.": {"192.0.2.1"}},
		AAAA:    map[string][]string{"example.com.": {"2001:db8::1"}},
		TXT:     map[string][]string{"example.com.": {"v=spf1 -all"}},
		Fail:    []string{"mx example.com."},
		Timeout: []string{"txt slow.example."},
		OnLookup: func(req string) {
			seen = append(seen, req)
		},
	}
	ctx := context.Background()

	ips, err := r.LookupIP(ctx, "ip4", "example.com")
	if err != nil || len(ips.Records) != 1 {
		t.Errorf("ip4 lookup = %v, %v", ips.Records, err)
	}
	ips, err = r.LookupIP(ctx, "ip", "example.com.")
	if err != nil || len(ips.Records) != 2 {
		t.Errorf("ip lookup = %v, %v", ips.Records, err)
	}
	if _, err := r.LookupMX(ctx, "example.com"); !IsServFail(err) {
		t.Errorf("mx lookup error = %v, want servfail", err)
	}
	if _, err := r.LookupTXT(ctx, "slow.example"); !IsTimeout(err) {
		t.Errorf("txt lookup error = %v, want timeout", err)
	}
	if _, err := r.LookupTXT(ctx, "missing.example"); !IsNotFound(err) {
		t.Errorf("txt lookup error = %v, want not found", err)
	}

	want := []string{"a example.com.", "a example.com.", "aaaa example.com.", "mx example.com.", "txt slow.example.", "txt missing.example."}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("lookups = %v, want %v", seen, want)
	}
}

func TestFromAsync(t *testing.T) {
	rr := func(s string) mdns.RR {
		r, err := mdns.NewRR(s)
		if err != nil {
			t.Fatalf("NewRR(%q): %v", s, err)
		}
		return r
	}

	answers := map[Question]Answer{
		{Name: "example.com.", Type: mdns.TypeTXT}: {RRs: []mdns.RR{
			rr(`example.com. 300 IN TXT "v=spf1 " "ip4:192.0.2.0/24 -all"`),
		}},
		{Name: "example.com.", Type: mdns.TypeA}:    {RRs: []mdns.RR{rr("example.com. 300 IN A 192.0.2.10")}},
		{Name: "example.com.", Type: mdns.TypeAAAA}: {Rcode: mdns.RcodeNameError},
		{Name: "example.com.", Type: mdns.TypeMX}: {RRs: []mdns.RR{
			rr("example.com. 300 IN MX 10 mail.example.com."),
		}},
		{Name: "10.2.0.192.in-addr.arpa.", Type: mdns.TypePTR}: {RRs: []mdns.RR{
			rr("10.2.0.192.in-addr.arpa. 300 IN PTR mail.example.com."),
		}},
		{Name: "broken.example.", Type: mdns.TypeTXT}: {Rcode: mdns.RcodeServerFailure},
	}

	// Answers are delivered from another goroutine, twice, to check that
	// the second delivery is ignored.
	r := FromAsync(AsyncResolverFunc(func(q Question, done func(Answer)) {
		ans, ok := answers[q]
		if !ok {
			ans = Answer{Rcode: mdns.RcodeNameError}
		}
		go func() {
			done(ans)
			done(Answer{Err: errors.New("duplicate")})
		}()
	}))
	ctx := context.Background()

	txt, err := r.LookupTXT(ctx, "example.com")
	if err != nil || len(txt.Records) != 1 || txt.Records[0] != "v=spf1 ip4:192.0.2.0/24 -all" {
		t.Errorf("LookupTXT = %v, %v", txt.Records, err)
	}

	ips, err := r.LookupIP(ctx, "ip", "example.com")
	if err != nil || len(ips.Records) != 1 || !ips.Records[0].Equal(net.ParseIP("192.0.2.10")) {
		t.Errorf("LookupIP = %v, %v", ips.Records, err)
	}

	mx, err := r.LookupMX(ctx, "example.com")
	if err != nil || len(mx.Records) != 1 || mx.Records[0].Host != "mail.example.com." {
		t.Errorf("LookupMX = %v, %v", mx.Records, err)
	}

	names, err := r.LookupAddr(ctx, net.ParseIP("192.0.2.10"))
	if err != nil || len(names.Records) != 1 || names.Records[0] != "mail.example.com." {
		t.Errorf("LookupAddr = %v, %v", names.Records, err)
	}

	if _, err := r.LookupTXT(ctx, "broken.example"); !IsServFail(err) {
		t.Errorf("LookupTXT(broken) error = %v, want servfail", err)
	}
	if _, err := r.LookupTXT(ctx, "nothing.example"); !IsNotFound(err) {
		t.Errorf("LookupTXT(nothing) error = %v, want not found", err)
	}
}

func TestFromAsyncCancel(t *testing.T) {
	never := FromAsync(AsyncResolverFunc(func(q Question, done func(Answer)) {}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := never.LookupTXT(ctx, "example.com")
	if !IsTimeout(err) {
		t.Errorf("error = %v, want timeout", err)
	}
}

// Integration test - skip if no network
func TestDNSResolverIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	r := NewResolver(ResolverConfig{
		Nameservers: []string{"8.8.8.8:53"},
	})

	ctx := context.Background()

	txtResult, err := r.LookupTXT(ctx, "google.com")
	if err != nil {
		t.Logf("TXT lookup failed (may be expected): %v", err)
	} else if len(txtResult.Records) == 0 {
		t.Log("No TXT records found for google.com")
	}

	_, err = r.LookupTXT(ctx, "nonexistent-subdomain-12345.example.com")
	if err != nil && !IsNotFound(err) && !IsTemporary(err) {
		t.Errorf("unexpected error class: %v", err)
	}
}
