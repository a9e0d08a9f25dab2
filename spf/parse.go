package spf

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// SPF record parsing errors.
var (
	ErrRecordSyntax     = errors.New("spf: malformed SPF record")
	ErrInvalidMechanism = errors.New("spf: invalid mechanism")
	ErrInvalidCIDR      = errors.New("spf: invalid CIDR length")
	ErrInvalidIP        = errors.New("spf: invalid IP address")
)

// Kind identifies a mechanism or modifier. The set is closed.
type Kind uint8

const (
	KindAll Kind = iota + 1
	KindInclude
	KindA
	KindMX
	KindPTR
	KindIP4
	KindIP6
	KindExists
	KindRedirect
	KindExp
)

var kindNames = [...]string{
	KindAll:      "all",
	KindInclude:  "include",
	KindA:        "a",
	KindMX:       "mx",
	KindPTR:      "ptr",
	KindIP4:      "ip4",
	KindIP6:      "ip6",
	KindExists:   "exists",
	KindRedirect: "redirect",
	KindExp:      "exp",
}

// mechanismKinds maps lower-case mechanism names to their kind.
var mechanismKinds = map[string]Kind{
	"all":     KindAll,
	"include": KindInclude,
	"a":       KindA,
	"mx":      KindMX,
	"ptr":     KindPTR,
	"ip4":     KindIP4,
	"ip6":     KindIP6,
	"exists":  KindExists,
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// IsModifier reports whether k is redirect or exp.
func (k Kind) IsModifier() bool {
	return k == KindRedirect || k == KindExp
}

// countsLookup reports whether evaluating k counts against the DNS lookup limit.
func (k Kind) countsLookup() bool {
	switch k {
	case KindInclude, KindA, KindMX, KindPTR, KindExists, KindRedirect:
		return true
	}
	return false
}

// Qualifier is the prefix of a mechanism that sets the result on a match.
type Qualifier byte

const (
	QualifierPass     Qualifier = '+'
	QualifierFail     Qualifier = '-'
	QualifierSoftfail Qualifier = '~'
	QualifierNeutral  Qualifier = '?'
)

var qualifierStatus = map[Qualifier]Status{
	QualifierPass:     StatusPass,
	QualifierFail:     StatusFail,
	QualifierSoftfail: StatusSoftfail,
	QualifierNeutral:  StatusNeutral,
}

// Status returns the result a matching mechanism with this qualifier produces.
func (q Qualifier) Status() Status {
	if s, ok := qualifierStatus[q]; ok {
		return s
	}
	return StatusPass
}

// Record is a parsed SPF DNS record.
//
// An example record for example.com:
//
//	v=spf1 +mx a:colo.example.com/28 -all
type Record struct {
	// Version is always "spf1".
	Version string

	// Terms holds mechanisms and the redirect and exp modifiers in record order.
	Terms []Term

	// Unknown holds modifiers other than redirect and exp. They are ignored
	// during evaluation.
	Unknown []Modifier
}

// Term is a single mechanism or a redirect/exp modifier.
type Term struct {
	// Qualifier is set for mechanisms only; QualifierPass when omitted.
	Qualifier Qualifier

	Kind Kind

	// DomainSpec is the macro-string argument. For a, mx and ptr an empty
	// DomainSpec means the domain under evaluation.
	DomainSpec string

	// Net is the network of ip4 and ip6 mechanisms.
	Net *net.IPNet

	// CIDR4 and CIDR6 are the prefix lengths applied to addresses of
	// a and mx mechanisms. They default to 32 and 128.
	CIDR4 int
	CIDR6 int
}

// Modifier is a name=value term that is not redirect or exp.
type Modifier struct {
	Key   string // Key is case-insensitive.
	Value string
}

// Mechanisms returns the mechanism terms in order.
func (r *Record) Mechanisms() []Term {
	var l []Term
	for _, t := range r.Terms {
		if !t.Kind.IsModifier() {
			l = append(l, t)
		}
	}
	return l
}

func (r *Record) modifier(k Kind) *Term {
	for i := range r.Terms {
		if r.Terms[i].Kind == k {
			return &r.Terms[i]
		}
	}
	return nil
}

// Redirect returns the redirect modifier, or nil.
func (r *Record) Redirect() *Term {
	return r.modifier(KindRedirect)
}

// Explanation returns the exp modifier, or nil.
func (r *Record) Explanation() *Term {
	return r.modifier(KindExp)
}

// String returns the SPF record as a DNS TXT record string.
func (r Record) String() string {
	var b strings.Builder
	b.WriteString("v=")
	b.WriteString(r.Version)
	for _, t := range r.Terms {
		b.WriteByte(' ')
		b.WriteString(t.String())
	}
	for _, m := range r.Unknown {
		b.WriteByte(' ')
		b.WriteString(m.Key)
		b.WriteByte('=')
		b.WriteString(m.Value)
	}
	return b.String()
}

// String returns the term in record syntax.
func (t Term) String() string {
	var b strings.Builder
	if t.Kind.IsModifier() {
		b.WriteString(t.Kind.String())
		b.WriteByte('=')
		b.WriteString(t.DomainSpec)
		return b.String()
	}

	if t.Qualifier != 0 && t.Qualifier != QualifierPass {
		b.WriteByte(byte(t.Qualifier))
	}
	b.WriteString(t.Kind.String())

	switch t.Kind {
	case KindIP4, KindIP6:
		b.WriteByte(':')
		b.WriteString(t.Net.IP.String())
		ones, bits := t.Net.Mask.Size()
		if ones != bits {
			fmt.Fprintf(&b, "/%d", ones)
		}
		return b.String()
	}

	if t.DomainSpec != "" {
		b.WriteByte(':')
		b.WriteString(t.DomainSpec)
	}
	if t.Kind == KindA || t.Kind == KindMX {
		if t.CIDR4 != 32 {
			fmt.Fprintf(&b, "/%d", t.CIDR4)
		}
		if t.CIDR6 != 128 {
			fmt.Fprintf(&b, "//%d", t.CIDR6)
		}
	}
	return b.String()
}

// parser is the internal state for parsing one SPF term.
type parser struct {
	s     string // Original string
	lower string // Lower-cased string for case-insensitive matching
	o     int    // Current offset
}

// parseError is a recoverable parsing error.
type parseError struct {
	base error
	msg  string
}

func (e parseError) Error() string {
	return e.msg
}

// toLower lower-cases ASCII A-Z without affecting other bytes.
func toLower(s string) string {
	r := []byte(s)
	for i, c := range r {
		if c >= 'A' && c <= 'Z' {
			r[i] = c + 0x20
		}
	}
	return string(r)
}

// ParseRecord parses an SPF DNS TXT record.
//
// isSPF reports whether s is an SPF record at all, i.e. whether its first
// whitespace-separated token is "v=spf1" in any case. A record that is SPF
// but contains a malformed term returns isSPF true and an error wrapping
// ErrRecordSyntax, ErrInvalidMechanism or ErrInvalidCIDR.
func ParseRecord(s string) (r *Record, isSPF bool, err error) {
	fields := strings.Fields(s)
	if len(fields) == 0 || toLower(fields[0]) != "v=spf1" {
		return nil, false, nil
	}
	isSPF = true

	defer func() {
		x := recover()
		if x == nil {
			return
		}
		if perr, ok := x.(parseError); ok {
			r = nil
			err = fmt.Errorf("%w: %s", perr.base, perr.msg)
			return
		}
		panic(x)
	}()

	r = &Record{Version: "spf1"}
	var sawAll, sawRedirect, sawExp bool
	for _, field := range fields[1:] {
		p := parser{s: field, lower: toLower(field)}
		t, mod := p.xterm()
		if mod != nil {
			r.Unknown = append(r.Unknown, *mod)
			continue
		}

		switch t.Kind {
		case KindAll:
			sawAll = true
		case KindRedirect:
			if sawRedirect {
				p.xerrorf("duplicate redirect modifier")
			}
			if sawAll {
				p.xerrorf("redirect modifier after all mechanism")
			}
			sawRedirect = true
		case KindExp:
			if sawExp {
				p.xerrorf("duplicate exp modifier")
			}
			sawExp = true
		}
		r.Terms = append(r.Terms, t)
	}

	return r, true, nil
}

// xterm parses a complete term. Unknown modifiers are returned as a Modifier.
func (p *parser) xterm() (Term, *Modifier) {
	var q Qualifier
	switch c := p.peekchar(); c {
	case '+', '-', '~', '?':
		q = Qualifier(c)
		p.o++
	}

	name := p.xtakefn1(func(c rune, i int) bool {
		alpha := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
		return alpha || i > 0 && (c >= '0' && c <= '9' || c == '-' || c == '_' || c == '.')
	})
	lname := toLower(name)

	if p.take("=") {
		if q != 0 {
			p.xerrorf("qualifier on modifier %q", name)
		}
		var t Term
		switch lname {
		case "redirect":
			t = Term{Kind: KindRedirect, DomainSpec: p.xdomainSpec(true)}
		case "exp":
			t = Term{Kind: KindExp, DomainSpec: p.xdomainSpec(true)}
		default:
			return Term{}, &Modifier{Key: name, Value: p.xmacroString(true)}
		}
		p.xend()
		return t, nil
	}

	kind, ok := mechanismKinds[lname]
	if !ok {
		panic(parseError{ErrInvalidMechanism, fmt.Sprintf("unknown mechanism %q", name)})
	}
	if q == 0 {
		q = QualifierPass
	}
	t := Term{Qualifier: q, Kind: kind, CIDR4: 32, CIDR6: 128}

	switch kind {
	case KindAll:
		// No parameters.

	case KindInclude, KindExists:
		p.xtake(":")
		t.DomainSpec = p.xdomainSpec(true)

	case KindA, KindMX:
		if p.take(":") {
			t.DomainSpec = p.xdomainSpec(false)
		}
		if p.take("//") {
			t.CIDR6 = p.xcidr(128)
		} else if p.take("/") {
			t.CIDR4 = p.xcidr(32)
			if p.take("//") {
				t.CIDR6 = p.xcidr(128)
			}
		}

	case KindPTR:
		if p.take(":") {
			t.DomainSpec = p.xdomainSpec(true)
		}

	case KindIP4:
		p.xtake(":")
		ip := p.xip4address()
		ones := 32
		if p.take("/") {
			ones = p.xcidr(32)
		}
		mask := net.CIDRMask(ones, 32)
		t.Net = &net.IPNet{IP: ip.Mask(mask), Mask: mask}

	case KindIP6:
		p.xtake(":")
		ip := p.xip6address()
		ones := 128
		if p.take("/") {
			ones = p.xcidr(128)
		}
		mask := net.CIDRMask(ones, 128)
		t.Net = &net.IPNet{IP: ip.Mask(mask), Mask: mask}
	}

	p.xend()
	return t, nil
}

func (p *parser) xerrorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !p.empty() {
		msg += fmt.Sprintf(" (remaining: %q)", p.s[p.o:])
	}
	panic(parseError{ErrRecordSyntax, fmt.Sprintf("%s in %q", msg, p.s)})
}

func (p *parser) xend() {
	if !p.empty() {
		p.xerrorf("unexpected characters")
	}
}

func (p *parser) empty() bool {
	return p.o >= len(p.s)
}

func (p *parser) peekchar() byte {
	if p.empty() {
		return 0
	}
	return p.s[p.o]
}

func (p *parser) take(s string) bool {
	if strings.HasPrefix(p.lower[p.o:], s) {
		p.o += len(s)
		return true
	}
	return false
}

func (p *parser) xtake(s string) string {
	if !p.take(s) {
		p.xerrorf("expected %q", s)
	}
	return s
}

func (p *parser) takelist(l ...string) string {
	for _, w := range l {
		if strings.HasPrefix(p.lower[p.o:], w) {
			p.o += len(w)
			return w
		}
	}
	return ""
}

func (p *parser) xtakelist(l ...string) string {
	w := p.takelist(l...)
	if w == "" {
		p.xerrorf("no match for %v", l)
	}
	return w
}

// xtakefn1 takes one or more characters matching fn.
func (p *parser) xtakefn1(fn func(rune, int) bool) string {
	n := 0
	for i, c := range p.s[p.o:] {
		if !fn(c, i) {
			break
		}
		n = i + len(string(c))
	}
	if n == 0 {
		p.xerrorf("need at least 1 character")
	}
	r := p.s[p.o : p.o+n]
	p.o += n
	return r
}

// digits parses zero or more digits.
func (p *parser) digits() string {
	start := p.o
	for !p.empty() {
		b := p.peekchar()
		if b < '0' || b > '9' {
			break
		}
		p.o++
	}
	return p.s[start:p.o]
}

func (p *parser) xnumber() int {
	s := p.digits()
	if s == "" {
		p.xerrorf("expected number")
	}
	if len(s) > 1 && s[0] == '0' {
		p.xerrorf("invalid leading zero in number")
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		p.xerrorf("parsing number %q: %s", s, err)
	}
	return v
}

// xcidr parses a prefix length of at most max bits.
func (p *parser) xcidr(max int) int {
	v := p.xnumber()
	if v > max {
		panic(parseError{ErrInvalidCIDR, fmt.Sprintf("prefix length %d exceeds %d in %q", v, max, p.s)})
	}
	return v
}

// xdomainSpec parses a domain-spec.
// includingSlash should be false when parsing "a" or "mx" to leave the CIDR suffix.
func (p *parser) xdomainSpec(includingSlash bool) string {
	s := p.xmacroString(includingSlash)

	// domain-end is a macro-expand or a valid toplabel.
	for _, suf := range []string{"%%", "%_", "%-", "}"} {
		if strings.HasSuffix(s, suf) {
			return s
		}
	}

	tl := strings.Split(strings.TrimSuffix(s, "."), ".")
	t := tl[len(tl)-1]
	if t == "" {
		p.xerrorf("invalid empty toplabel")
	}

	nums := 0
	for i, c := range t {
		switch {
		case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			nums++
		case c == '-':
			if i == 0 {
				p.xerrorf("toplabel cannot start with dash")
			}
			if i == len(t)-1 {
				p.xerrorf("toplabel cannot end with dash")
			}
		default:
			p.xerrorf("invalid character in toplabel")
		}
	}
	if nums == len(t) {
		p.xerrorf("toplabel cannot be all digits")
	}

	return s
}

// xmacroString parses a macro-string. It checks macro syntax only;
// expansion happens at evaluation time.
func (p *parser) xmacroString(includingSlash bool) string {
	start := p.o
	for !p.empty() {
		w := p.takelist("%{", "%%", "%_", "%-")
		if w == "" {
			b := p.peekchar()
			if b == '%' {
				p.xerrorf("invalid macro escape")
			}
			if b > ' ' && b < 0x7f && (includingSlash || b != '/') {
				p.o++
				continue
			}
			break
		}
		if w != "%{" {
			continue
		}

		p.xtakelist("s", "l", "o", "d", "i", "p", "h", "c", "r", "t", "v")
		p.digits()
		p.take("r")
		for p.takelist(".", "-", "+", ",", "/", "_", "=") != "" {
		}
		p.xtake("}")
	}
	return p.s[start:p.o]
}

func (p *parser) xip4address() net.IP {
	ip4num := func() byte {
		v := p.xnumber()
		if v > 255 {
			p.xerrorf("invalid IPv4 octet %d", v)
		}
		return byte(v)
	}

	a := ip4num()
	p.xtake(".")
	b := ip4num()
	p.xtake(".")
	c := ip4num()
	p.xtake(".")
	d := ip4num()

	return net.IPv4(a, b, c, d).To4()
}

func (p *parser) xip6address() net.IP {
	s := p.xtakefn1(func(c rune, i int) bool {
		return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F' || c == ':' || c == '.'
	})
	ip := net.ParseIP(s)
	if ip == nil || !strings.Contains(s, ":") {
		panic(parseError{ErrInvalidIP, fmt.Sprintf("invalid IPv6 address %q", s)})
	}
	return ip.To16()
}
