package spf

import (
	"context"
	"time"

	"github.com/synqronlabs/spfquery/dns"
)

// Fallback policies for domains without an SPF record.
const (
	DefaultBestGuessRecord        = "v=spf1 a/24 mx/24 ptr ?all"
	DefaultTrustedForwarderDomain = "spf.trusted-forwarder.org"
)

const (
	OverlayBestGuess        = "best-guess"
	OverlayTrustedForwarder = "trusted-forwarder"
)

// overlay is a local policy evaluated when the checked domain publishes
// no SPF record. Only the statuses in accept replace the none result.
type overlay struct {
	name   string
	record func(Options) string
	accept map[Status]bool
}

var overlays = []overlay{
	{
		name: OverlayTrustedForwarder,
		record: func(opts Options) string {
			if !opts.TrustedForwarder {
				return ""
			}
			domain := opts.TrustedForwarderDomain
			if domain == "" {
				domain = DefaultTrustedForwarderDomain
			}
			return "v=spf1 include:" + domain
		},
		accept: map[Status]bool{StatusPass: true},
	},
	{
		name: OverlayBestGuess,
		record: func(opts Options) string {
			if !opts.BestGuess {
				return ""
			}
			if opts.BestGuessRecord != "" {
				return opts.BestGuessRecord
			}
			return DefaultBestGuessRecord
		},
		accept: map[Status]bool{StatusPass: true, StatusFail: true, StatusSoftfail: true, StatusNeutral: true},
	},
}

// applyOverlays evaluates the enabled overlays in order and returns the first
// accepted result. Each overlay runs with a fresh lookup budget. Errors in an
// overlay leave the primary none result in place.
func applyOverlays(ctx context.Context, resolver dns.Resolver, args Args, opts Options, primary *session) (outcome, string, bool) {
	for _, ov := range overlays {
		txt := ov.record(opts)
		if txt == "" {
			continue
		}
		record, _, err := ParseRecord(txt)
		if err != nil {
			primary.tracef("%s record %q ignored: %v", ov.name, txt, err)
			continue
		}

		s := newSession(ctx, resolver, args, opts)
		s.logger = primary.logger.With("overlay", ov.name)
		o := s.evaluate(record, args.MailFromDomain)
		primary.trace = append(primary.trace, s.trace...)
		primary.authentic = primary.authentic && s.authentic
		primary.tracef("%s for %s: %s", ov.name, args.MailFromDomain, o.status)

		if ov.accept[o.status] {
			o.err = nil
			return o, ov.name, true
		}
	}
	return outcome{}, "", false
}

// finishOverlay is finish for results produced by an overlay.
func finishOverlay(s *session, start time.Time, domain, identity string, o outcome, name string) Result {
	r := finish(s, start, domain, identity, o)
	r.Overlay = name
	return r
}
