package spf

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrMacroSyntax is returned for malformed or disallowed macros.
var ErrMacroSyntax = errors.New("spf: macro syntax error")

// Mocked for testing the "t" macro.
var timeNow = time.Now

// MacroContext provides the values of macro letters.
type MacroContext struct {
	LocalPart    string // l; s is LocalPart@SenderDomain
	SenderDomain string // o
	Domain       string // d, the domain under evaluation
	IP           net.IP // i, c and v
	Helo         string // h
	Receiver     string // r

	// ValidatedName returns the value of the "p" macro. When nil, "p"
	// expands to "unknown".
	ValidatedName func() (string, error)
}

// ExpandDomainSpec expands the macros of a domain-spec and returns a domain
// name. Names over 253 characters are shortened by dropping labels from the
// left. The c, r and t macros are not allowed.
func ExpandDomainSpec(spec string, mc MacroContext) (string, error) {
	s, err := expandMacros(spec, mc, true)
	if err != nil {
		return "", err
	}

	s = strings.TrimSuffix(s, ".")
	for len(s) > 253 {
		i := strings.IndexByte(s, '.')
		if i < 0 {
			return "", fmt.Errorf("%w: expanded domain too long", ErrInvalidDomain)
		}
		s = s[i+1:]
	}
	if err := validateDomain(s); err != nil {
		return "", err
	}
	return s, nil
}

// ExpandExplanation expands the macros of an explanation string.
func ExpandExplanation(spec string, mc MacroContext) (string, error) {
	return expandMacros(spec, mc, false)
}

func expandMacros(spec string, mc MacroContext, isDNS bool) (string, error) {
	var b strings.Builder
	i := 0
	n := len(spec)

	for i < n {
		c := spec[i]
		i++

		if c != '%' {
			b.WriteByte(c)
			continue
		}

		if i >= n {
			return "", fmt.Errorf("%w: trailing %%", ErrMacroSyntax)
		}
		c = spec[i]
		i++

		switch c {
		case '%':
			b.WriteByte('%')
			continue
		case '_':
			b.WriteByte(' ')
			continue
		case '-':
			b.WriteString("%20")
			continue
		case '{':
		default:
			return "", fmt.Errorf("%w: invalid macro %%%c", ErrMacroSyntax, c)
		}

		end := strings.IndexByte(spec[i:], '}')
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated macro %q", ErrMacroSyntax, spec[i-2:])
		}
		v, err := expandMacro(spec[i:i+end], mc, isDNS)
		if err != nil {
			return "", err
		}
		i += end + 1
		b.WriteString(v)
	}

	return b.String(), nil
}

// expandMacro expands the body of one %{...} macro.
func expandMacro(m string, mc MacroContext, isDNS bool) (string, error) {
	if m == "" {
		return "", fmt.Errorf("%w: empty macro", ErrMacroSyntax)
	}

	letter := m[0]
	upper := letter >= 'A' && letter <= 'Z'
	if upper {
		letter += 'a' - 'A'
	}

	var v string
	switch letter {
	case 's':
		v = mc.LocalPart + "@" + mc.SenderDomain
	case 'l':
		v = mc.LocalPart
	case 'o':
		v = mc.SenderDomain
	case 'd':
		v = mc.Domain
	case 'i':
		v = expandIP(mc.IP)
	case 'p':
		if mc.ValidatedName == nil {
			v = "unknown"
			break
		}
		name, err := mc.ValidatedName()
		if err != nil {
			return "", err
		}
		v = name
	case 'v':
		if mc.IP.To4() != nil {
			v = "in-addr"
		} else {
			v = "ip6"
		}
	case 'h':
		v = mc.Helo
	case 'c', 'r', 't':
		if isDNS {
			return "", fmt.Errorf("%w: macro %%{%c} only allowed in explanation", ErrMacroSyntax, letter)
		}
		switch letter {
		case 'c':
			v = mc.IP.String()
		case 'r':
			v = mc.Receiver
			if v == "" {
				v = "unknown"
			}
		case 't':
			v = strconv.FormatInt(timeNow().Unix(), 10)
		}
	default:
		return "", fmt.Errorf("%w: unknown macro letter %q", ErrMacroSyntax, m[0])
	}

	// Transformers: digits, reverse, delimiters.
	i := 1
	for i < len(m) && m[i] >= '0' && m[i] <= '9' {
		i++
	}
	keep := 0
	if i > 1 {
		n, err := strconv.Atoi(m[1:i])
		if err != nil {
			return "", fmt.Errorf("%w: invalid digits %q", ErrMacroSyntax, m[1:i])
		}
		keep = n
	}

	reverse := false
	if i < len(m) && (m[i] == 'r' || m[i] == 'R') {
		reverse = true
		i++
	}

	delim := m[i:]
	for _, d := range delim {
		if !strings.ContainsRune(".-+,/_=", d) {
			return "", fmt.Errorf("%w: invalid delimiter %q", ErrMacroSyntax, d)
		}
	}

	if keep > 0 || reverse || delim != "" {
		if delim == "" {
			delim = "."
		}
		parts := strings.FieldsFunc(v, func(c rune) bool {
			return strings.ContainsRune(delim, c)
		})
		if reverse {
			reverseSlice(parts)
		}
		if keep > 0 && keep < len(parts) {
			parts = parts[len(parts)-keep:]
		}
		v = strings.Join(parts, ".")
	}

	if upper {
		v = strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
	}
	return v, nil
}

// expandIP expands an IP address for the "i" macro: dotted quad for IPv4,
// dot-separated nibbles for IPv6.
func expandIP(ip net.IP) string {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	ip6 := ip.To16()
	if ip6 == nil {
		return ""
	}
	var b strings.Builder
	for i, by := range ip6 {
		if i > 0 {
			b.WriteByte('.')
		}
		fmt.Fprintf(&b, "%x.%x", by>>4, by&0xf)
	}
	return b.String()
}

// reverseSlice reverses a slice in place.
func reverseSlice(s []string) {
	n := len(s)
	for i := range n / 2 {
		s[i], s[n-1-i] = s[n-1-i], s[i]
	}
}
