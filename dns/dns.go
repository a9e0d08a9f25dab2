// Package dns provides the resolver contract consumed by SPF evaluation and
// a few implementations of it.
//
// Lookups return ErrDNSNotFound for both NXDOMAIN and empty answers, so
// callers can treat "no records" uniformly. Transient failures (timeouts,
// SERVFAIL, REFUSED, DNSSEC validation failures) are reported with their own
// sentinel errors and IsTemporary returns true for them.
package dns

import (
	"context"
	"errors"
	"net"

	mdns "github.com/miekg/dns"
)

// DNS lookup errors.
var (
	ErrDNSNotFound = errors.New("dns: no such record")
	ErrDNSTimeout  = errors.New("dns: query timed out")
	ErrDNSServFail = errors.New("dns: server failure")
	ErrDNSRefused  = errors.New("dns: query refused")
	ErrDNSBogus    = errors.New("dns: DNSSEC validation failed")
)

// Result holds the records of a successful lookup.
type Result[T any] struct {
	Records []T

	// Authentic is set when the answer was DNSSEC-validated by the upstream resolver.
	Authentic bool
}

// Resolver is the lookup contract used by the SPF evaluator.
//
// Implementations must be safe for concurrent use.
type Resolver interface {
	// LookupTXT returns the TXT records for name, with character-strings
	// of each record concatenated.
	LookupTXT(ctx context.Context, name string) (Result[string], error)

	// LookupIP returns address records for host. network is "ip" for
	// A and AAAA, "ip4" for A only and "ip6" for AAAA only.
	LookupIP(ctx context.Context, network, host string) (Result[net.IP], error)

	// LookupMX returns the MX records for name.
	LookupMX(ctx context.Context, name string) (Result[*net.MX], error)

	// LookupAddr returns the PTR names of ip.
	LookupAddr(ctx context.Context, ip net.IP) (Result[string], error)
}

// IsNotFound reports whether err means the name or record type does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDNSNotFound)
}

// IsTimeout reports whether err is a query timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrDNSTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsServFail reports whether err is a SERVFAIL answer.
func IsServFail(err error) bool {
	return errors.Is(err, ErrDNSServFail)
}

// IsTemporary reports whether retrying the lookup later may succeed.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	return IsTimeout(err) || IsServFail(err) ||
		errors.Is(err, ErrDNSRefused) || errors.Is(err, ErrDNSBogus)
}

// filterNetwork keeps the addresses of ips that belong to network.
func filterNetwork(network string, ips []net.IP) []net.IP {
	if network == "ip" || network == "" {
		return ips
	}
	var filtered []net.IP
	for _, ip := range ips {
		is4 := ip.To4() != nil
		if network == "ip4" && is4 || network == "ip6" && !is4 {
			filtered = append(filtered, ip)
		}
	}
	return filtered
}

// ipQueryTypes returns the record types queried for a LookupIP network.
func ipQueryTypes(network string) []uint16 {
	switch network {
	case "ip4":
		return []uint16{mdns.TypeA}
	case "ip6":
		return []uint16{mdns.TypeAAAA}
	}
	return []uint16{mdns.TypeA, mdns.TypeAAAA}
}
