package spf

import (
	"fmt"
	"net"
	"strings"
	"unicode/utf8"
)

//go:generate msgp -io=false -tests=false
//msgp:ignore Received

// Status is the result of SPF verification per RFC 7208 section 2.6.
type Status string

const (
	// StatusNone indicates no SPF record was found or no domain to check.
	StatusNone Status = "none"

	// StatusNeutral indicates the domain owner has explicitly stated nothing about the IP.
	// Equivalent to "?" qualifier or no match with no redirect.
	StatusNeutral Status = "neutral"

	// StatusPass indicates the IP is authorized to send mail for the domain.
	StatusPass Status = "pass"

	// StatusFail indicates the IP is explicitly not authorized. "-" qualifier.
	StatusFail Status = "fail"

	// StatusSoftfail indicates weak statement that IP is probably not authorized. "~" qualifier.
	StatusSoftfail Status = "softfail"

	// StatusTemperror indicates a temporary error (e.g., DNS timeout).
	StatusTemperror Status = "temperror"

	// StatusPermerror indicates a permanent error (e.g., invalid SPF record).
	StatusPermerror Status = "permerror"
)

// Result is the outcome of one top-level SPF query.
type Result struct {
	Status Status `json:"status" msg:"status"`

	// Domain is the domain whose policy was checked first.
	Domain string `json:"domain" msg:"domain"`

	// Mechanism is the term that produced the result, "default" when no
	// mechanism matched.
	Mechanism string `json:"mechanism,omitempty" msg:"mechanism"`

	// Explanation is only set for StatusFail.
	Explanation string `json:"explanation,omitempty" msg:"explanation"`

	// Header is the Received-SPF header for this result.
	Header string `json:"header" msg:"header"`

	// Identity is "mailfrom" or "helo".
	Identity string `json:"identity" msg:"identity"`

	// QueryID identifies the query in logs.
	QueryID string `json:"query_id" msg:"query_id"`

	// Authentic is set when every DNS answer used was DNSSEC-validated.
	Authentic bool `json:"authentic" msg:"authentic"`

	// Overlay names the fallback policy that produced the result, if any:
	// "best-guess" or "trusted-forwarder".
	Overlay string `json:"overlay,omitempty" msg:"overlay"`

	// Problem describes the error behind a temperror or permerror.
	Problem string `json:"problem,omitempty" msg:"problem"`

	// Trace holds the evaluation steps when Options.Debug is set.
	Trace []string `json:"trace,omitempty" msg:"trace"`

	// Err is the underlying error, for use with errors.Is.
	Err error `json:"-" msg:"-"`
}

// Received contains the fields of a Received-SPF header (RFC 7208 section 9.1).
type Received struct {
	Result       Status
	Comment      string
	ClientIP     net.IP
	EnvelopeFrom string
	Helo         string
	Problem      string
	Receiver     string
	Identity     string
	Mechanism    string
}

// commentFormats describe a result from the point of view of the receiver.
// Arguments are the checked domain and the client IP.
var commentFormats = map[Status]string{
	StatusPass:      "domain of %s designates %s as permitted sender",
	StatusFail:      "domain of %s does not designate %s as permitted sender",
	StatusSoftfail:  "transitioning domain of %s does not designate %s as permitted sender",
	StatusNeutral:   "%[2]s is neither permitted nor denied by domain of %[1]s",
	StatusNone:      "domain of %s does not designate permitted sender hosts%.0s",
	StatusTemperror: "error in processing during lookup of %s%.0s",
	StatusPermerror: "permanent error in processing domain of %s%.0s",
}

func comment(receiver string, status Status, domain string, ip net.IP) string {
	format, ok := commentFormats[status]
	if !ok {
		return ""
	}
	if receiver == "" {
		receiver = "unknown"
	}
	return receiver + ": " + fmt.Sprintf(format, domain, ip.String())
}

// Header generates a Received-SPF header.
func (r Received) Header() string {
	var b strings.Builder
	b.WriteString("Received-SPF: ")
	b.WriteString(string(r.Result))

	if r.Comment != "" {
		b.WriteString(" (")
		b.WriteString(r.Comment)
		b.WriteString(")")
	}

	b.WriteString(" client-ip=")
	b.WriteString(encodeHeaderValue(r.ClientIP.String()))
	b.WriteByte(';')

	b.WriteString(" envelope-from=")
	b.WriteString(encodeHeaderValue(r.EnvelopeFrom))
	b.WriteByte(';')

	b.WriteString(" helo=")
	b.WriteString(encodeHeaderValue(r.Helo))
	b.WriteByte(';')

	if r.Problem != "" {
		// Keep headers short.
		problem := truncate(r.Problem, 60)
		b.WriteString(" problem=")
		b.WriteString(encodeHeaderValue(problem))
		b.WriteByte(';')
	}

	if r.Mechanism != "" {
		b.WriteString(" mechanism=")
		b.WriteString(encodeHeaderValue(r.Mechanism))
		b.WriteByte(';')
	}

	b.WriteString(" receiver=")
	b.WriteString(encodeHeaderValue(r.Receiver))
	b.WriteByte(';')

	b.WriteString(" identity=")
	b.WriteString(encodeHeaderValue(r.Identity))

	return b.String()
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// encodeHeaderValue returns s as a dot-atom or a quoted-string.
func encodeHeaderValue(s string) string {
	if s == "" {
		return `""`
	}
	if !strings.ContainsFunc(s, func(c rune) bool { return !isAtext(c) && c != '.' }) {
		return s
	}

	var b strings.Builder
	b.WriteByte('"')
	for _, c := range s {
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	b.WriteByte('"')
	return b.String()
}

// isAtext reports whether c is an RFC 5322 atext character.
func isAtext(c rune) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		strings.ContainsRune("!#$%&'*+-/=?^_`{|}~", c)
}
