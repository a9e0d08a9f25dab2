package dns

import (
	"context"
	"fmt"
	"net"
	"sync"

	mdns "github.com/miekg/dns"
)

// Question is a single lookup handed to an AsyncResolver.
type Question struct {
	Name string
	Type uint16 // One of mdns.TypeTXT, TypeA, TypeAAAA, TypeMX, TypePTR.
}

// Answer is the raw response an AsyncResolver delivers for a Question.
type Answer struct {
	RRs       []mdns.RR
	Rcode     int
	Authentic bool

	// Err is set when no response was obtained at all (timeout, network error).
	Err error
}

// AsyncResolver is a callback-driven lookup service, e.g. an event loop
// multiplexing many queries over one socket. Submit must not block; done is
// called when the answer arrives.
type AsyncResolver interface {
	Submit(q Question, done func(Answer))
}

// AsyncResolverFunc adapts a function to AsyncResolver.
type AsyncResolverFunc func(q Question, done func(Answer))

// Submit calls f(q, done).
func (f AsyncResolverFunc) Submit(q Question, done func(Answer)) {
	f(q, done)
}

// FromAsync returns a Resolver that suspends each lookup until the
// AsyncResolver answers. Each call has one outstanding question at a time.
// Only the first answer for a question is used. A cancelled context abandons
// the wait and a late answer is dropped.
func FromAsync(a AsyncResolver) Resolver {
	return &asyncResolver{r: a}
}

type asyncResolver struct {
	r AsyncResolver
}

func (a *asyncResolver) exchange(ctx context.Context, name string, qtype uint16) ([]mdns.RR, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	ch := make(chan Answer, 1)
	var once sync.Once
	a.r.Submit(Question{Name: ensureAbsolute(name), Type: qtype}, func(ans Answer) {
		once.Do(func() { ch <- ans })
	})

	var ans Answer
	select {
	case ans = <-ch:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}

	if ans.Err != nil {
		if IsTemporary(ans.Err) || IsNotFound(ans.Err) {
			return nil, ans.Authentic, ans.Err
		}
		return nil, ans.Authentic, fmt.Errorf("%w: %v", ErrDNSServFail, ans.Err)
	}

	switch ans.Rcode {
	case mdns.RcodeSuccess:
		return ans.RRs, ans.Authentic, nil
	case mdns.RcodeNameError:
		return nil, ans.Authentic, ErrDNSNotFound
	case mdns.RcodeRefused:
		return nil, ans.Authentic, ErrDNSRefused
	default:
		return nil, ans.Authentic, ErrDNSServFail
	}
}

func (a *asyncResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	rrs, authentic, err := a.exchange(ctx, name, mdns.TypeTXT)
	if err != nil {
		return Result[string]{Authentic: authentic}, err
	}
	records := txtRecords(rrs)
	if len(records) == 0 {
		return Result[string]{Authentic: authentic}, ErrDNSNotFound
	}
	return Result[string]{Records: records, Authentic: authentic}, nil
}

func (a *asyncResolver) LookupIP(ctx context.Context, network, host string) (Result[net.IP], error) {
	var ips []net.IP
	authentic := true
	for _, qtype := range ipQueryTypes(network) {
		rrs, auth, err := a.exchange(ctx, host, qtype)
		authentic = authentic && auth
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return Result[net.IP]{}, err
		}
		ips = append(ips, addressRecords(rrs)...)
	}
	if len(ips) == 0 {
		return Result[net.IP]{Authentic: authentic}, ErrDNSNotFound
	}
	return Result[net.IP]{Records: ips, Authentic: authentic}, nil
}

func (a *asyncResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	rrs, authentic, err := a.exchange(ctx, name, mdns.TypeMX)
	if err != nil {
		return Result[*net.MX]{Authentic: authentic}, err
	}
	records := mxRecords(rrs)
	if len(records) == 0 {
		return Result[*net.MX]{Authentic: authentic}, ErrDNSNotFound
	}
	return Result[*net.MX]{Records: records, Authentic: authentic}, nil
}

func (a *asyncResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	if ip == nil {
		return Result[string]{}, fmt.Errorf("dns: nil IP address")
	}
	arpa, err := mdns.ReverseAddr(ip.String())
	if err != nil {
		return Result[string]{}, fmt.Errorf("dns: invalid IP for reverse lookup: %w", err)
	}
	rrs, authentic, err := a.exchange(ctx, arpa, mdns.TypePTR)
	if err != nil {
		return Result[string]{Authentic: authentic}, err
	}
	names := ptrRecords(rrs)
	if len(names) == 0 {
		return Result[string]{Authentic: authentic}, ErrDNSNotFound
	}
	return Result[string]{Records: names, Authentic: authentic}, nil
}
