package spf

import (
	"fmt"
	"strings"

	"github.com/synqronlabs/spfquery/dns"
)

// includeMatch translates the result of an included record into the outcome
// of the include mechanism. Statuses not listed are errors of the include.
var includeMatch = map[Status]bool{
	StatusPass:     true,
	StatusFail:     false,
	StatusSoftfail: false,
	StatusNeutral:  false,
}

// match evaluates mechanism t for the record of domain.
// A returned error decides the query: see statusFor.
func (s *session) match(t Term, domain string) (bool, error) {
	if t.Kind.countsLookup() {
		if err := s.countLookup(t.Kind); err != nil {
			return false, err
		}
	}

	switch t.Kind {
	case KindAll:
		return true, nil

	case KindIP4:
		return s.remote4 != nil && t.Net.Contains(s.remote4), nil

	case KindIP6:
		return s.remote4 == nil && t.Net.Contains(s.ip), nil

	case KindA:
		host, err := s.targetDomain(t, domain)
		if err != nil {
			return false, err
		}
		ips, err := s.lookupIPs(host)
		if err != nil {
			return false, err
		}
		for _, ip := range ips {
			if s.matchIP(ip, t) {
				return true, nil
			}
		}
		return false, nil

	case KindMX:
		return s.matchMX(t, domain)

	case KindPTR:
		return s.matchPTR(t, domain)

	case KindExists:
		name, err := s.targetDomain(t, domain)
		if err != nil {
			return false, err
		}
		// exists always uses an A lookup, whatever the client address family.
		res, err := s.resolver.LookupIP(s.ctx, "ip4", name+".")
		s.authentic = s.authentic && res.Authentic
		if verr := s.recordVoid(err); verr != nil {
			return false, verr
		}
		if err != nil && !dns.IsNotFound(err) {
			return false, fmt.Errorf("looking up %s: %w", name, err)
		}
		return len(res.Records) > 0, nil

	case KindInclude:
		return s.matchInclude(t, domain)
	}

	return false, fmt.Errorf("%w: %s", ErrInvalidMechanism, t.Kind)
}

func (s *session) matchMX(t Term, domain string) (bool, error) {
	host, err := s.targetDomain(t, domain)
	if err != nil {
		return false, err
	}

	res, err := s.resolver.LookupMX(s.ctx, host+".")
	s.authentic = s.authentic && res.Authentic
	if verr := s.recordVoid(err); verr != nil {
		return false, verr
	}
	if err != nil && !dns.IsNotFound(err) {
		return false, fmt.Errorf("looking up MX of %s: %w", host, err)
	}

	// A single "." exchange is an explicit "no mail" MX (RFC 7505).
	if len(res.Records) == 1 && res.Records[0].Host == "." {
		return false, nil
	}
	if len(res.Records) > mxPtrLimit {
		return false, fmt.Errorf("%w: %s has %d", ErrTooManyMX, host, len(res.Records))
	}

	for _, mx := range res.Records {
		exchange := strings.TrimSuffix(mx.Host, ".")
		if exchange == "" {
			continue
		}
		ips, err := s.lookupIPs(exchange)
		if err != nil {
			return false, err
		}
		for _, ip := range ips {
			if s.matchIP(ip, t) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *session) matchPTR(t Term, domain string) (bool, error) {
	target, err := s.targetDomain(t, domain)
	if err != nil {
		return false, err
	}
	target = strings.ToLower(target)

	res, err := s.resolver.LookupAddr(s.ctx, s.ip)
	s.authentic = s.authentic && res.Authentic
	if verr := s.recordVoid(err); verr != nil {
		return false, verr
	}
	if err != nil && !dns.IsNotFound(err) {
		return false, fmt.Errorf("reverse lookup of %s: %w", s.ip, err)
	}

	validated := 0
	for _, name := range res.Records {
		name = strings.ToLower(strings.TrimSuffix(name, "."))
		if name != target && !strings.HasSuffix(name, "."+target) {
			continue
		}
		if validated >= mxPtrLimit {
			break
		}
		validated++
		if s.resolvesToClient(name) {
			return true, nil
		}
	}
	return false, nil
}

func (s *session) matchInclude(t Term, domain string) (bool, error) {
	if err := s.descend(); err != nil {
		return false, err
	}
	target, err := s.targetDomain(t, domain)
	if err != nil {
		return false, err
	}

	s.tracef("include %s from %s", target, domain)
	s.includes++
	o := s.checkHost(target)
	s.includes--

	if matched, ok := includeMatch[o.status]; ok {
		return matched, nil
	}
	if o.status == StatusNone {
		return false, fmt.Errorf("include %s references no SPF record: %w", target, o.err)
	}
	return false, fmt.Errorf("include %s: %w", target, o.err)
}
