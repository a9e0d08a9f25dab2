package dns

import (
	"context"
	"net"
	"slices"
)

// MockResolver is a Resolver used for testing.
// Set DNS records in the fields, which map FQDNs (with trailing dot) to values.
// PTR is keyed by the textual IP address.
type MockResolver struct {
	PTR  map[string][]string
	A    map[string][]string
	AAAA map[string][]string
	TXT  map[string][]string
	MX   map[string][]*net.MX

	// Fail contains records that will return a temporary error (SERVFAIL).
	// Format: "type name", e.g. "txt example.com." where type is lowercase.
	Fail []string

	// Timeout contains records that will return ErrDNSTimeout, same format as Fail.
	Timeout []string

	// AllAuthentic sets the default value for Authentic in responses.
	// Overridden by Authentic and Inauthentic lists.
	AllAuthentic bool

	// Authentic contains records that will have Authentic=true.
	Authentic []string

	// Inauthentic contains records that will have Authentic=false.
	Inauthentic []string

	// OnLookup, if set, is called with every request before it is answered.
	OnLookup func(req string)
}

var _ Resolver = MockResolver{}

// mockReq represents a mock DNS request.
type mockReq struct {
	Type string // E.g. "txt", "a", "aaaa", "mx", "ptr"
	Name string
}

func (mr mockReq) String() string {
	return mr.Type + " " + mr.Name
}

// ensureFQDN ensures the name ends with a dot.
func ensureFQDN(name string) string {
	if len(name) == 0 || name[len(name)-1] != '.' {
		return name + "."
	}
	return name
}

// check applies configured failures and returns the authentication status.
func (r MockResolver) check(ctx context.Context, mr mockReq) (bool, error) {
	if r.OnLookup != nil {
		r.OnLookup(mr.String())
	}

	authentic := r.AllAuthentic
	if err := ctx.Err(); err != nil {
		return authentic, err
	}
	if slices.Contains(r.Fail, mr.String()) {
		return authentic, ErrDNSServFail
	}
	if slices.Contains(r.Timeout, mr.String()) {
		return authentic, ErrDNSTimeout
	}
	if slices.Contains(r.Authentic, mr.String()) {
		authentic = true
	}
	if slices.Contains(r.Inauthentic, mr.String()) {
		authentic = false
	}
	return authentic, nil
}

// LookupTXT returns TXT records for the given domain.
func (r MockResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	fqdn := ensureFQDN(name)
	authentic, err := r.check(ctx, mockReq{"txt", fqdn})
	if err != nil {
		return Result[string]{Authentic: authentic}, err
	}

	records := r.TXT[fqdn]
	if len(records) == 0 {
		return Result[string]{Authentic: authentic}, ErrDNSNotFound
	}
	return Result[string]{Records: records, Authentic: authentic}, nil
}

// LookupIP returns A and/or AAAA records for the given host.
func (r MockResolver) LookupIP(ctx context.Context, network, host string) (Result[net.IP], error) {
	fqdn := ensureFQDN(host)

	authentic := true
	var ips []net.IP
	lookup := func(typ string, records map[string][]string) error {
		auth, err := r.check(ctx, mockReq{typ, fqdn})
		if err != nil {
			return err
		}
		authentic = authentic && auth
		for _, s := range records[fqdn] {
			ips = append(ips, net.ParseIP(s))
		}
		return nil
	}

	if network != "ip6" {
		if err := lookup("a", r.A); err != nil {
			return Result[net.IP]{}, err
		}
	}
	if network != "ip4" {
		if err := lookup("aaaa", r.AAAA); err != nil {
			return Result[net.IP]{}, err
		}
	}

	if len(ips) == 0 {
		return Result[net.IP]{Authentic: authentic}, ErrDNSNotFound
	}
	return Result[net.IP]{Records: ips, Authentic: authentic}, nil
}

// LookupMX returns MX records for the given domain.
func (r MockResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	fqdn := ensureFQDN(name)
	authentic, err := r.check(ctx, mockReq{"mx", fqdn})
	if err != nil {
		return Result[*net.MX]{Authentic: authentic}, err
	}

	records := r.MX[fqdn]
	if len(records) == 0 {
		return Result[*net.MX]{Authentic: authentic}, ErrDNSNotFound
	}
	return Result[*net.MX]{Records: records, Authentic: authentic}, nil
}

// LookupAddr performs a reverse DNS lookup.
func (r MockResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	ipStr := ip.String()
	authentic, err := r.check(ctx, mockReq{"ptr", ipStr})
	if err != nil {
		return Result[string]{Authentic: authentic}, err
	}

	records := r.PTR[ipStr]
	if len(records) == 0 {
		return Result[string]{Authentic: authentic}, ErrDNSNotFound
	}
	return Result[string]{Records: records, Authentic: authentic}, nil
}
