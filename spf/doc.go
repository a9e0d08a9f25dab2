// Package spf implements Sender Policy Framework (SPF) verification according to RFC 7208.
//
// SPF allows domain owners to publish a policy as a DNS TXT record describing which IP
// addresses are authorized to send email with the domain in the MAIL FROM command,
// and how to handle messages from unauthorized IPs.
//
// This package provides:
//   - SPF record parsing with all mechanisms and modifiers
//   - Evaluation bounded by DNS lookup, void lookup and nesting limits
//   - Macro expansion for domain-specs and explanations
//   - Received-SPF header generation
//   - Optional best-guess and trusted-forwarder fallbacks for domains without a record
//
// Basic Usage:
//
//	resolver := dns.NewResolver(dns.ResolverConfig{
//	    Nameservers: []string{"8.8.8.8:53"},
//	    DNSSEC:      true,
//	})
//
//	args := spf.Args{
//	    RemoteIP:       net.ParseIP("192.0.2.1"),
//	    MailFromDomain: "example.com",
//	    MailFromLocal:  "user",
//	    HelloDomain:    "mail.example.com",
//	}
//
//	result := spf.Verify(ctx, resolver, args, spf.Options{ReceivingHost: "mx.example.org"})
//	switch result.Status {
//	case spf.StatusPass:
//	    // Accept the message
//	case spf.StatusFail:
//	    // Reject the message, quoting result.Explanation
//	case spf.StatusTemperror:
//	    // Defer
//	}
//
// References:
//   - RFC 7208: Sender Policy Framework (SPF)
//   - RFC 7505: A "Null MX" No Service Resource Record
package spf
