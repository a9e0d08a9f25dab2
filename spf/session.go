package spf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/synqronlabs/spfquery/dns"
)

// Limit errors. All of them make the query a permerror.
var (
	ErrTooManyDNSRequests = errors.New("spf: exceeded maximum DNS lookups")
	ErrTooManyVoidLookups = errors.New("spf: exceeded maximum void lookups")
	ErrTooDeep            = errors.New("spf: include/redirect nesting too deep")
	ErrTooManyMX          = errors.New("spf: too many MX records")
)

// Default evaluation limits. RFC 7208 section 4.6.4 fixes the DNS lookup
// and void lookup limits; the nesting limit only needs to be higher than
// any sane include chain.
const (
	DefaultMaxLookups     = 10
	DefaultMaxVoidLookups = 2
	DefaultMaxDepth       = 20

	// Maximum number of MX or PTR names to process per mechanism.
	mxPtrLimit = 10
)

// Limits bound the work of one top-level query.
type Limits struct {
	// MaxLookups caps mechanisms and modifiers that cause DNS lookups:
	// include, a, mx, ptr, exists and redirect.
	MaxLookups int

	// MaxVoidLookups caps lookups that return no records.
	MaxVoidLookups int

	// MaxDepth caps the total number of include and redirect recursions.
	MaxDepth int
}

func (l Limits) withDefaults() Limits {
	if l.MaxLookups <= 0 {
		l.MaxLookups = DefaultMaxLookups
	}
	if l.MaxVoidLookups <= 0 {
		l.MaxVoidLookups = DefaultMaxVoidLookups
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxDepth
	}
	return l
}

// session is the mutable state of one top-level query. It is shared by all
// include and redirect recursions of that query and never by two queries.
type session struct {
	ctx      context.Context
	resolver dns.Resolver
	logger   *slog.Logger
	limits   Limits
	id       string

	ip           net.IP
	remote4      net.IP // nil for IPv6 clients
	localPart    string
	senderDomain string
	helo         string
	receiver     string

	defaultExplanation string

	lookups  int
	voids    int
	depth    int
	includes int // current include nesting, explanations are skipped inside includes

	authentic bool
	debug     bool
	trace     []string
}

func newSession(ctx context.Context, resolver dns.Resolver, args Args, opts Options) *session {
	id := ulid.Make().String()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	expl := opts.DefaultExplanation
	if expl == "" {
		expl = DefaultExplanation
	}
	return &session{
		ctx:          ctx,
		resolver:     resolver,
		logger:       logger.With("query_id", id),
		limits:       opts.Limits.withDefaults(),
		id:           id,
		ip:           args.RemoteIP,
		remote4:      args.RemoteIP.To4(),
		localPart:    args.MailFromLocal,
		senderDomain: args.MailFromDomain,
		helo:         args.HelloDomain,
		receiver:     opts.ReceivingHost,

		defaultExplanation: expl,

		authentic: true,
		debug:     opts.Debug,
	}
}

func (s *session) tracef(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.logger.Debug(msg)
	if s.debug {
		s.trace = append(s.trace, msg)
	}
}

// countLookup charges one unit of the DNS lookup budget for a term of kind k.
func (s *session) countLookup(k Kind) error {
	s.lookups++
	metricLookups.WithLabelValues(k.String()).Inc()
	if s.lookups > s.limits.MaxLookups {
		return fmt.Errorf("%w (limit %d)", ErrTooManyDNSRequests, s.limits.MaxLookups)
	}
	return nil
}

// recordVoid counts err against the void lookup limit if it means "no records".
func (s *session) recordVoid(err error) error {
	if !dns.IsNotFound(err) {
		return nil
	}
	s.voids++
	if s.voids > s.limits.MaxVoidLookups {
		return fmt.Errorf("%w (limit %d)", ErrTooManyVoidLookups, s.limits.MaxVoidLookups)
	}
	return nil
}

// descend enters one include or redirect level.
func (s *session) descend() error {
	s.depth++
	if s.depth > s.limits.MaxDepth {
		return fmt.Errorf("%w (limit %d)", ErrTooDeep, s.limits.MaxDepth)
	}
	return nil
}

func (s *session) macroContext(domain string) MacroContext {
	return MacroContext{
		LocalPart:    s.localPart,
		SenderDomain: s.senderDomain,
		Domain:       domain,
		IP:           s.ip,
		Helo:         s.helo,
		Receiver:     s.receiver,
		ValidatedName: func() (string, error) {
			return s.validatedName(domain)
		},
	}
}

// targetDomain returns the domain a term applies to: the expanded
// domain-spec, or domain itself when there is none.
func (s *session) targetDomain(t Term, domain string) (string, error) {
	if t.DomainSpec == "" {
		return domain, nil
	}
	name, err := ExpandDomainSpec(t.DomainSpec, s.macroContext(domain))
	if err != nil {
		return "", fmt.Errorf("expanding %s: %w", t, err)
	}
	return name, nil
}

// network returns the LookupIP network matching the client address family.
func (s *session) network() string {
	if s.remote4 != nil {
		return "ip4"
	}
	return "ip6"
}

// lookupIPs fetches the addresses of host in the client's address family.
// "No records" is not an error but counts as a void lookup.
func (s *session) lookupIPs(host string) ([]net.IP, error) {
	res, err := s.resolver.LookupIP(s.ctx, s.network(), host+".")
	s.authentic = s.authentic && res.Authentic
	if verr := s.recordVoid(err); verr != nil {
		return nil, verr
	}
	if err != nil && !dns.IsNotFound(err) {
		return nil, fmt.Errorf("looking up addresses of %s: %w", host, err)
	}
	return res.Records, nil
}

// matchIP reports whether ip is in the same network as the client address,
// using the prefix lengths of t.
func (s *session) matchIP(ip net.IP, t Term) bool {
	if s.remote4 != nil {
		ip4 := ip.To4()
		if ip4 == nil {
			return false
		}
		mask := net.CIDRMask(t.CIDR4, 32)
		return ip4.Mask(mask).Equal(s.remote4.Mask(mask))
	}

	if ip.To4() != nil {
		return false
	}
	mask := net.CIDRMask(t.CIDR6, 128)
	return ip.To16().Mask(mask).Equal(s.ip.To16().Mask(mask))
}

// validatedName returns the value of the "p" macro: a PTR name of the client
// that resolves back to it, preferring domain and its subdomains.
func (s *session) validatedName(domain string) (string, error) {
	if err := s.countLookup(KindPTR); err != nil {
		return "", err
	}
	res, err := s.resolver.LookupAddr(s.ctx, s.ip)
	s.authentic = s.authentic && res.Authentic
	if verr := s.recordVoid(err); verr != nil {
		return "", verr
	}
	if err != nil || len(res.Records) == 0 {
		return "unknown", nil
	}

	domain = strings.ToLower(domain)
	rank := func(name string) int {
		switch {
		case name == domain:
			return 0
		case strings.HasSuffix(name, "."+domain):
			return 1
		}
		return 2
	}

	names := res.Records
	if len(names) > mxPtrLimit {
		names = names[:mxPtrLimit]
	}
	for want := range 3 {
		for _, name := range names {
			name = strings.ToLower(strings.TrimSuffix(name, "."))
			if rank(name) == want && s.resolvesToClient(name) {
				return name, nil
			}
		}
	}
	return "unknown", nil
}

// resolvesToClient reports whether name has an address equal to the client IP.
// Lookup errors count as no match.
func (s *session) resolvesToClient(name string) bool {
	res, err := s.resolver.LookupIP(s.ctx, s.network(), name+".")
	s.authentic = s.authentic && res.Authentic
	if err != nil {
		return false
	}
	for _, ip := range res.Records {
		if ip.Equal(s.ip) {
			return true
		}
	}
	return false
}
