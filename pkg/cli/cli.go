package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dmdmdm-nz/netusage/pkg/version"
)

// EnvPrefix is prepended to every key when reading the environment, so
// `interval` is NETUSAGE_INTERVAL and `max-malformed` NETUSAGE_MAX_MALFORMED.
const EnvPrefix = "NETUSAGE"

var logLevels = []string{"trace", "debug", "info", "warn", "error"}

// Config holds the application configuration from flags, environment and
// an optional config file, in that order of precedence.
type Config struct {
	Interval     time.Duration
	Interfaces   []string
	Source       string
	ProcPath     string
	NetstatPath  string
	MaxMalformed int
	LogLevel     string

	Listen    string
	MaxConns  int
	Advertise bool

	NoColor bool
	Once    bool

	ShowVersion bool
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "Config file (yaml, json or toml)")
	fs.DurationP("interval", "n", time.Second, "Sampling interval")
	fs.StringSliceP("interface", "i", nil, "Only report these interfaces (repeatable, comma separated)")
	fs.String("source", "auto", "Counter source (auto, netstat, procfs, netlink, psutil, pdh)")
	fs.String("proc-path", "/proc/net/dev", "Path of the procfs counters file")
	fs.String("netstat-path", "netstat", "netstat binary")
	fs.Int("max-malformed", 0, "Consecutive malformed readings to skip before failing")
	fs.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	fs.String("listen", "", "Serve the HTTP API on this address (disabled when empty)")
	fs.Int("max-conns", 64, "Maximum concurrent API connections (0 for no limit)")
	fs.Bool("advertise", false, "Advertise the API over mDNS")
	fs.Bool("no-color", false, "Disable colored output")
	fs.Bool("once", false, "Print one snapshot and exit")
	fs.BoolP("version", "v", false, "Show version information")
	return fs
}

// Parse reads the configuration from args (without the program name) and
// the process environment.
func Parse(args []string) (*Config, error) {
	fs := newFlagSet("netusage")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Interval:     v.GetDuration("interval"),
		Interfaces:   splitList(v.GetStringSlice("interface")),
		Source:       strings.ToLower(v.GetString("source")),
		ProcPath:     v.GetString("proc-path"),
		NetstatPath:  v.GetString("netstat-path"),
		MaxMalformed: v.GetInt("max-malformed"),
		LogLevel:     strings.ToLower(v.GetString("log-level")),
		Listen:       v.GetString("listen"),
		MaxConns:     v.GetInt("max-conns"),
		Advertise:    v.GetBool("advertise"),
		NoColor:      v.GetBool("no-color"),
		Once:         v.GetBool("once"),
		ShowVersion:  v.GetBool("version"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseFlags parses the command line and exits on --help, --version or an
// invalid configuration.
func ParseFlags() *Config {
	cfg, err := Parse(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if cfg.ShowVersion {
		fmt.Printf("netusage version %s (commit: %s, built at: %s)\n",
			version.Version,
			version.CommitHash,
			version.BuildTime)
		os.Exit(0)
	}

	return cfg
}

func (c *Config) validate() error {
	if c.MaxMalformed < 0 {
		return fmt.Errorf("max-malformed must not be negative, got %d", c.MaxMalformed)
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("max-conns must not be negative, got %d", c.MaxConns)
	}
	for _, l := range logLevels {
		if c.LogLevel == l {
			return nil
		}
	}
	return fmt.Errorf("unknown log level %q", c.LogLevel)
}

// splitList accepts both repeated values and comma or space separated
// lists, which is how they arrive from the environment.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, part)
		}
	}
	return out
}

// String returns a string representation of the Config
func (c *Config) String() string {
	return fmt.Sprintf("Interval: %s, Interfaces: %v, Source: %s, Listen: %q, MaxConns: %d, Advertise: %t, LogLevel: %s",
		c.Interval, c.Interfaces, c.Source, c.Listen, c.MaxConns, c.Advertise, c.LogLevel)
}
