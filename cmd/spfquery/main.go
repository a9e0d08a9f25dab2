package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/synqronlabs/spfquery/dns"
	"github.com/synqronlabs/spfquery/internal/config"
	"github.com/synqronlabs/spfquery/spf"
)

// Exit codes per result. Anything else, including usage errors, exits with exitUnknown.
var exitCodes = map[spf.Status]int{
	spf.StatusPass:      0,
	spf.StatusFail:      1,
	spf.StatusSoftfail:  2,
	spf.StatusNeutral:   3,
	spf.StatusTemperror: 4,
	spf.StatusPermerror: 5,
	spf.StatusNone:      6,
}

const exitUnknown = 255

func exitCode(s spf.Status) int {
	if code, ok := exitCodes[s]; ok {
		return code
	}
	return exitUnknown
}

// CLIConfig holds CLI flag values
type CLIConfig struct {
	IP                 string
	Sender             string
	Helo               string
	DefaultExplanation string
	BestGuess          bool
	TrustedForwarder   bool
	Debug              bool
	Verbose            bool
	ConfigPath         string
	Nameservers        []string
	Format             string
	Timeout            time.Duration
}

// errUsage makes the command print its usage before exiting.
var errUsage = errors.New("usage")

// newResolver builds the resolver for a query. Replaced in tests.
var newResolver = func(cfg *config.Config, nameservers []string) dns.Resolver {
	if len(nameservers) == 0 {
		nameservers = cfg.NameserverAddrs()
	}
	var r dns.Resolver
	if cfg.Resolver == "system" && len(nameservers) == 0 {
		r = dns.NewStdResolver()
	} else {
		r = dns.NewResolver(dns.ResolverConfig{
			Nameservers:      nameservers,
			DNSSEC:           cfg.DNSSEC,
			Timeout:          time.Duration(cfg.Timeout),
			Retries:          cfg.Retries,
			QueriesPerSecond: cfg.RateLimit,
		})
	}
	if cfg.Cache.Enabled {
		r = dns.NewCachingResolver(r, dns.CacheConfig{
			TTL:        time.Duration(cfg.Cache.TTL),
			MaxEntries: cfg.Cache.MaxEntries,
		})
	}
	return r
}

func newRootCmd(stdout, stderr io.Writer, code *int) *cobra.Command {
	cli := &CLIConfig{}

	cmd := &cobra.Command{
		Use:   "spfquery -i <ip> -s <sender> -h <helo>",
		Short: "Check the SPF policy of a sender.",
		Long: "spfquery evaluates the SPF policy of the MAIL FROM domain (or the HELO name for an empty sender)\n" +
			"for a client IP address. It prints the result and a Received-SPF header, and exits with\n" +
			"0 pass, 1 fail, 2 softfail, 3 neutral, 4 temperror, 5 permerror or 6 none.",
		Version:       config.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range []string{"ip", "sender", "helo"} {
				if !cmd.Flags().Changed(name) {
					return fmt.Errorf("%w: flag --%s is required", errUsage, name)
				}
			}
			switch cli.Format {
			case "text", "json", "msgpack":
			default:
				return fmt.Errorf("%w: unknown format %q", errUsage, cli.Format)
			}

			status, err := query(cmd.Context(), cli, stdout, stderr)
			if errors.Is(err, errUsage) {
				return err
			}
			if err != nil {
				return queryError{err}
			}
			*code = exitCode(status)
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringVarP(&cli.IP, "ip", "i", "", "Sender IP address")
	f.StringVarP(&cli.Sender, "sender", "s", "", "Sender address, empty for a null reverse-path")
	f.StringVarP(&cli.Helo, "helo", "h", "", "HELO name")
	f.StringVarP(&cli.DefaultExplanation, "default-explanation", "e", "", "Default explanation for fail results")
	f.BoolVarP(&cli.BestGuess, "enable-best-guess", "b", false, "Enable the 'best guess' rule")
	f.BoolVarP(&cli.TrustedForwarder, "enable-trusted-forwarder", "t", false, "Enable the 'trusted forwarder' rule")
	f.BoolVarP(&cli.Debug, "debug", "d", false, "Enable debug logging and collect the evaluation trace")
	f.BoolVarP(&cli.Verbose, "verbose", "v", false, "Enable verbose mode: debug mode plus source locations and the printed trace")
	f.StringVar(&cli.ConfigPath, "config", "", "Path to configuration file")
	f.StringSliceVar(&cli.Nameservers, "nameserver", nil, "DNS server to query, as ip or ip:port (repeatable)")
	f.StringVar(&cli.Format, "format", "text", "Output format: text, json or msgpack")
	f.DurationVar(&cli.Timeout, "timeout", 20*time.Second, "Timeout for the whole query")
	// -h is the HELO name, help is --help only.
	f.Bool("help", false, "Help for spfquery")

	return cmd
}

func query(ctx context.Context, cli *CLIConfig, stdout, stderr io.Writer) (spf.Status, error) {
	level := slog.LevelError
	if cli.Debug || cli.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level, AddSource: cli.Verbose}))

	cfg := &config.Config{}
	if cli.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadConfig(cli.ConfigPath); err != nil {
			return "", err
		}
	}
	for i, ns := range cli.Nameservers {
		nsCfg := config.Config{Nameservers: []string{ns}}
		if err := nsCfg.Validate(); err != nil {
			return "", fmt.Errorf("%w: --nameserver %d: %v", errUsage, i+1, err)
		}
		cli.Nameservers[i] = nsCfg.NameserverAddrs()[0]
	}

	opts := cfg.Options()
	opts.Logger = logger
	opts.BestGuess = cli.BestGuess
	opts.TrustedForwarder = cli.TrustedForwarder
	opts.Debug = cli.Debug || cli.Verbose
	if cli.DefaultExplanation != "" {
		opts.DefaultExplanation = cli.DefaultExplanation
	}

	ctx, cancel := context.WithTimeout(ctx, cli.Timeout)
	defer cancel()

	resolver := newResolver(cfg, cli.Nameservers)
	logger.Debug("checking", "ip", cli.IP, "sender", cli.Sender, "helo", cli.Helo)
	r := spf.Check(ctx, resolver, cli.IP, cli.Sender, cli.Helo, opts)

	if cli.Verbose {
		for _, line := range r.Trace {
			fmt.Fprintln(stderr, "trace:", line)
		}
	}
	if err := writeResult(stdout, cli.Format, r); err != nil {
		return "", err
	}
	return r.Status, nil
}

func writeResult(w io.Writer, format string, r spf.Result) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "msgpack":
		b, err := r.MarshalMsg(nil)
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		_, err = w.Write(b)
		return err
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", r.Status, r.Header)
	return err
}

// run executes the command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	code := exitUnknown
	cmd := newRootCmd(stdout, stderr, &code)
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err == nil {
		help, _ := cmd.Flags().GetBool("help")
		version, _ := cmd.Flags().GetBool("version")
		if help || version {
			return 0
		}
		return code
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	// Flag parse errors are usage errors too.
	if !isQueryError(err) {
		cmd.SetOut(stderr)
		_ = cmd.Usage()
	}
	return exitUnknown
}

// queryError marks failures after argument parsing, which need no usage output.
type queryError struct{ error }

func isQueryError(err error) bool {
	var qe queryError
	return errors.As(err, &qe)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
