package spf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/net/idna"

	"github.com/synqronlabs/spfquery/dns"
)

// SPF evaluation errors.
var (
	ErrNoRecord        = errors.New("spf: no SPF record found")
	ErrMultipleRecords = errors.New("spf: multiple SPF records found")
	ErrInvalidDomain   = errors.New("spf: invalid domain name")
	ErrInvalidAddress  = errors.New("spf: invalid client IP address")
)

// DefaultExplanation is used for fail results when a record has no usable exp modifier.
const DefaultExplanation = "See http://www.open-spf.org/Why?s=%{S};ip=%{I};r=%{R}"

// Options configure a query. The zero value is usable.
type Options struct {
	// Logger receives debug output for each evaluation step. Defaults to slog.Default().
	Logger *slog.Logger

	// ReceivingHost is the name of the receiving MTA, used for the "r" macro
	// and the Received-SPF header.
	ReceivingHost string

	// DefaultExplanation overrides the explanation macro-string used for
	// fail results when the record has no usable exp modifier.
	DefaultExplanation string

	// BestGuess evaluates BestGuessRecord when the domain publishes no SPF record.
	BestGuess bool

	// BestGuessRecord defaults to DefaultBestGuessRecord.
	BestGuessRecord string

	// TrustedForwarder checks TrustedForwarderDomain when the domain
	// publishes no SPF record.
	TrustedForwarder bool

	// TrustedForwarderDomain defaults to DefaultTrustedForwarderDomain.
	TrustedForwarderDomain string

	Limits Limits

	// Debug records evaluation steps in Result.Trace.
	Debug bool
}

// Args are the transaction facts of a query.
type Args struct {
	// RemoteIP is the IP address of the sending server to check.
	RemoteIP net.IP

	// MailFromLocal is the local-part from SMTP MAIL FROM.
	MailFromLocal string

	// MailFromDomain is the domain from SMTP MAIL FROM.
	// Empty for null reverse-path (bounces).
	MailFromDomain string

	// HelloDomain is the domain from SMTP EHLO/HELO.
	HelloDomain string
}

// outcome is the verdict of one check_host invocation.
type outcome struct {
	status      Status
	mechanism   string
	explanation string
	err         error
}

// policyErrors are the errors that make a query a permerror. Any other
// failure comes from a lookup and is temperror.
var policyErrors = []error{
	ErrRecordSyntax,
	ErrInvalidMechanism,
	ErrInvalidCIDR,
	ErrInvalidIP,
	ErrMacroSyntax,
	ErrTooManyDNSRequests,
	ErrTooManyVoidLookups,
	ErrTooDeep,
	ErrTooManyMX,
	ErrNoRecord,
	ErrMultipleRecords,
	ErrInvalidDomain,
	ErrInvalidAddress,
}

// statusFor maps an evaluation error to its result.
func statusFor(err error) Status {
	for _, perr := range policyErrors {
		if errors.Is(err, perr) {
			return StatusPermerror
		}
	}
	return StatusTemperror
}

// Check runs a complete SPF query for a connection. ip is the client
// address, sender the MAIL FROM address (possibly empty) and helo the
// EHLO/HELO name. A sender without "@" is taken as a bare domain.
func Check(ctx context.Context, resolver dns.Resolver, ip, sender, helo string, opts Options) Result {
	args := Args{RemoteIP: net.ParseIP(strings.TrimSpace(ip)), HelloDomain: helo}
	if at := strings.LastIndexByte(sender, '@'); at >= 0 {
		args.MailFromLocal = sender[:at]
		args.MailFromDomain = sender[at+1:]
	} else {
		args.MailFromDomain = sender
	}
	return Verify(ctx, resolver, args, opts)
}

// Verify checks whether args.RemoteIP may send mail for the MAIL FROM
// domain, or for the HELO domain when MAIL FROM is empty.
func Verify(ctx context.Context, resolver dns.Resolver, args Args, opts Options) Result {
	start := time.Now()

	identity, ok := prepareArgs(&args)
	s := newSession(ctx, resolver, args, opts)
	if args.RemoteIP == nil {
		err := fmt.Errorf("%w: missing or malformed", ErrInvalidAddress)
		return finish(s, start, args.MailFromDomain, identity, outcome{status: StatusPermerror, err: err})
	}
	if !ok {
		err := fmt.Errorf("%w: no usable domain (MAIL FROM %q, HELO %q)", ErrInvalidDomain, args.MailFromDomain, args.HelloDomain)
		return finish(s, start, args.MailFromDomain, identity, outcome{status: StatusNone, err: err})
	}

	s.tracef("checking %s for %s (%s)", args.MailFromDomain, args.RemoteIP, identity)
	o := s.checkHost(args.MailFromDomain)

	if o.status == StatusNone && errors.Is(o.err, ErrNoRecord) {
		if ov, name, ok := applyOverlays(ctx, resolver, args, opts, s); ok {
			return finishOverlay(s, start, args.MailFromDomain, identity, ov, name)
		}
	}
	return finish(s, start, args.MailFromDomain, identity, o)
}

// Evaluate evaluates a pre-parsed record for the MAIL FROM (or HELO) domain
// of args. This is useful when the record has been looked up and cached separately.
func Evaluate(ctx context.Context, resolver dns.Resolver, record *Record, args Args, opts Options) Result {
	start := time.Now()

	identity, ok := prepareArgs(&args)
	s := newSession(ctx, resolver, args, opts)
	switch {
	case record == nil:
		return finish(s, start, args.MailFromDomain, identity, outcome{status: StatusPermerror, err: ErrRecordSyntax})
	case args.RemoteIP == nil:
		err := fmt.Errorf("%w: missing or malformed", ErrInvalidAddress)
		return finish(s, start, args.MailFromDomain, identity, outcome{status: StatusPermerror, err: err})
	case !ok:
		err := fmt.Errorf("%w: no usable domain", ErrInvalidDomain)
		return finish(s, start, args.MailFromDomain, identity, outcome{status: StatusNone, err: err})
	}
	return finish(s, start, args.MailFromDomain, identity, s.evaluate(record, args.MailFromDomain))
}

// prepareArgs normalizes the identities of args. It returns the identity
// being checked and whether there is a domain to check.
func prepareArgs(args *Args) (identity string, ok bool) {
	identity = "mailfrom"
	if args.MailFromDomain == "" {
		identity = "helo"
		args.MailFromDomain = args.HelloDomain
		args.MailFromLocal = ""
	}
	if args.MailFromLocal == "" {
		args.MailFromLocal = "postmaster"
	}

	if net.ParseIP(strings.Trim(args.MailFromDomain, "[]")) != nil {
		return identity, false
	}
	domain, err := normalizeDomain(args.MailFromDomain)
	if err != nil || validateIdentity(domain) != nil {
		return identity, false
	}
	args.MailFromDomain = domain

	if helo, err := normalizeDomain(args.HelloDomain); err == nil {
		args.HelloDomain = helo
	}
	return identity, true
}

// idnaProfile converts internationalized names to A-labels. Underscores stay
// allowed since SPF names like _spf.example.com use them.
var idnaProfile = idna.New(idna.MapForLookup(), idna.StrictDomainName(false), idna.Transitional(false))

// normalizeDomain lower-cases d, strips a trailing dot and converts
// internationalized labels to punycode.
func normalizeDomain(d string) (string, error) {
	d = strings.TrimSuffix(strings.TrimSpace(d), ".")
	for _, c := range d {
		if c >= 0x80 {
			a, err := idnaProfile.ToASCII(d)
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrInvalidDomain, err)
			}
			return strings.ToLower(a), nil
		}
	}
	return toLower(d), nil
}

// validateDomain checks the length limits of a domain name.
func validateDomain(s string) error {
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return fmt.Errorf("%w: empty domain", ErrInvalidDomain)
	}
	if len(s) > 253 {
		return fmt.Errorf("%w: domain too long", ErrInvalidDomain)
	}
	for _, label := range strings.Split(s, ".") {
		if label == "" {
			return fmt.Errorf("%w: empty label in %q", ErrInvalidDomain, s)
		}
		if len(label) > 63 {
			return fmt.Errorf("%w: label too long in %q", ErrInvalidDomain, s)
		}
	}
	return nil
}

// validateIdentity checks that s can be an SPF identity: a valid
// multi-label domain name (RFC 7208 section 4.3).
func validateIdentity(s string) error {
	if err := validateDomain(s); err != nil {
		return err
	}
	if !strings.Contains(strings.TrimSuffix(s, "."), ".") {
		return fmt.Errorf("%w: %q is not a fully qualified domain", ErrInvalidDomain, s)
	}
	return nil
}

// Lookup looks up and parses the SPF TXT record of a domain.
//
// On success status is StatusNone and err is nil. Otherwise status is the
// result the lookup failure implies: none for a missing record, temperror
// for DNS failures and permerror for ambiguous or malformed records.
func Lookup(ctx context.Context, resolver dns.Resolver, domain string) (status Status, txt string, record *Record, authentic bool, err error) {
	domain = strings.TrimSuffix(domain, ".")
	if err := validateDomain(domain); err != nil {
		return StatusNone, "", nil, false, err
	}

	res, err := resolver.LookupTXT(ctx, domain+".")
	if dns.IsNotFound(err) {
		return StatusNone, "", nil, res.Authentic, fmt.Errorf("%w for %s", ErrNoRecord, domain)
	}
	if err != nil {
		return StatusTemperror, "", nil, res.Authentic, fmt.Errorf("looking up SPF record for %s: %w", domain, err)
	}

	var parseErr error
	found := 0
	for _, t := range res.Records {
		r, isSPF, err := ParseRecord(t)
		if !isSPF {
			continue
		}
		found++
		if found > 1 {
			return StatusPermerror, "", nil, res.Authentic, fmt.Errorf("%w for %s", ErrMultipleRecords, domain)
		}
		txt, record, parseErr = t, r, err
	}

	if found == 0 {
		return StatusNone, "", nil, res.Authentic, fmt.Errorf("%w for %s", ErrNoRecord, domain)
	}
	if parseErr != nil {
		return StatusPermerror, txt, nil, res.Authentic, parseErr
	}
	return StatusNone, txt, record, res.Authentic, nil
}

// checkHost fetches the record of domain and evaluates it.
func (s *session) checkHost(domain string) outcome {
	status, txt, record, authentic, err := Lookup(s.ctx, s.resolver, domain)
	s.authentic = s.authentic && authentic
	if err != nil {
		s.tracef("record for %s: %s (%v)", domain, status, err)
		return outcome{status: status, err: err}
	}
	s.tracef("record for %s: %q", domain, txt)
	return s.evaluate(record, domain)
}

// evaluate runs the terms of record left to right. The first matching
// mechanism or the first error decides the result.
func (s *session) evaluate(record *Record, domain string) outcome {
	for _, t := range record.Mechanisms() {
		matched, err := s.match(t, domain)
		if err != nil {
			status := statusFor(err)
			s.tracef("%s on %s: %s (%v)", t, domain, status, err)
			return outcome{status: status, mechanism: t.String(), err: err}
		}
		if !matched {
			s.tracef("%s on %s: no match", t, domain)
			continue
		}

		o := outcome{status: t.Qualifier.Status(), mechanism: t.String()}
		s.tracef("%s on %s: match, %s", t, domain, o.status)
		if o.status == StatusFail && s.includes == 0 {
			o.explanation = s.explain(record, domain)
		}
		return o
	}

	if rd := record.Redirect(); rd != nil {
		return s.redirect(*rd, domain)
	}

	s.tracef("no mechanism matched on %s", domain)
	return outcome{status: StatusNeutral, mechanism: "default"}
}

// redirect replaces the evaluation of domain with that of the redirect target.
func (s *session) redirect(t Term, domain string) outcome {
	fail := func(err error) outcome {
		return outcome{status: statusFor(err), mechanism: t.String(), err: err}
	}
	if err := s.countLookup(KindRedirect); err != nil {
		return fail(err)
	}
	if err := s.descend(); err != nil {
		return fail(err)
	}
	target, err := s.targetDomain(t, domain)
	if err != nil {
		return fail(err)
	}

	s.tracef("redirect from %s to %s", domain, target)
	o := s.checkHost(target)
	if o.status == StatusNone {
		return fail(fmt.Errorf("redirect to %s: %w", target, o.err))
	}
	return o
}

// explain returns the explanation for a fail result of record. Problems
// with the exp modifier fall back to the default explanation.
func (s *session) explain(record *Record, domain string) string {
	mc := s.macroContext(domain)
	if exp := record.Explanation(); exp != nil {
		expl, err := s.fetchExplanation(*exp, mc)
		if err == nil {
			return expl
		}
		s.tracef("exp on %s ignored: %v", domain, err)
	}

	expl, err := ExpandExplanation(s.defaultExplanation, mc)
	if err != nil {
		s.tracef("default explanation ignored: %v", err)
		return ""
	}
	return expl
}

func (s *session) fetchExplanation(exp Term, mc MacroContext) (string, error) {
	name, err := ExpandDomainSpec(exp.DomainSpec, mc)
	if err != nil {
		return "", err
	}
	res, err := s.resolver.LookupTXT(s.ctx, name+".")
	if err != nil {
		return "", err
	}
	if len(res.Records) != 1 {
		return "", fmt.Errorf("%d explanation records at %s", len(res.Records), name)
	}
	s.authentic = s.authentic && res.Authentic
	return ExpandExplanation(res.Records[0], mc)
}

// finish converts the outcome of a query into a Result.
func finish(s *session, start time.Time, domain, identity string, o outcome) Result {
	r := Result{
		Status:    o.status,
		Domain:    domain,
		Mechanism: o.mechanism,
		Identity:  identity,
		QueryID:   s.id,
		Authentic: s.authentic,
		Trace:     s.trace,
		Err:       o.err,
	}
	if o.status == StatusFail {
		r.Explanation = o.explanation
	}
	if o.err != nil && (o.status == StatusTemperror || o.status == StatusPermerror) {
		r.Problem = o.err.Error()
	}

	r.Header = Received{
		Result:       r.Status,
		Comment:      comment(s.receiver, r.Status, domain, s.ip),
		ClientIP:     s.ip,
		EnvelopeFrom: s.localPart + "@" + s.senderDomain,
		Helo:         s.helo,
		Problem:      r.Problem,
		Receiver:     s.receiver,
		Identity:     identity,
		Mechanism:    r.Mechanism,
	}.Header()

	observe(r.Status, time.Since(start))
	s.logger.Debug("spf result", "status", r.Status, "domain", domain, "mechanism", r.Mechanism,
		"lookups", s.lookups, "void_lookups", s.voids, "err", o.err)
	return r
}
