package commands

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/openquran/pagevfs/internal/cli"
	"github.com/openquran/pagevfs/pagevfs"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		// Dev build: include epoch and commit for troubleshooting
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	// Prod build: version with date
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

var (
	cfg *cli.Config

	flagConfig   string
	flagBaseURL  string
	flagIndex    string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "pagevfs",
	Short: "Inspect page-addressed database files on a static host",
	Long: `Inspect collections of page-addressed database files served by a static
HTTP host. Commands resolve editions through the hosted index, fetch
individual pages with ranged reads, and report snapshot identity.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip initialization for help commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		path := flagConfig
		if path == "" {
			path = cli.DefaultPath()
		}
		loaded, err := cli.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded

		// Flags override the config file
		if flagBaseURL != "" {
			cfg.BaseURL = flagBaseURL
		}
		if flagIndex != "" {
			cfg.Index = flagIndex
		}
		if flagLogLevel != "" {
			cfg.Logging = flagLogLevel
		}

		configureLogging(cfg)
		return nil
	},
}

// configureLogging maps the config level onto the global logrus logger.
// The default stays at warn so command output is not drowned out.
func configureLogging(cfg *cli.Config) {
	switch cfg.LogLevel() {
	case "none":
		logrus.SetOutput(io.Discard)
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	default:
		logrus.SetLevel(logrus.WarnLevel)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("pagevfs version {{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (default: ~/.config/pagevfs/config.yaml)")
	pf.StringVar(&flagBaseURL, "base-url", "", "hosting root URL, e.g. https://cdn.example.com/quran")
	pf.StringVar(&flagIndex, "index", "", "index document path relative to the base URL")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: none, warn, info, debug, trace")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// newHost builds the HTTP host from the merged configuration.
func newHost() (*pagevfs.HTTPHost, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("no base URL configured (use --base-url or set base_url in config.yaml)")
	}
	return pagevfs.NewHTTPHost(cfg.BaseURL, cfg.Options()...)
}

// newClient builds a client over the configured HTTP host.
func newClient() (*pagevfs.Client, error) {
	host, err := newHost()
	if err != nil {
		return nil, err
	}
	return pagevfs.New(host, cfg.Options()...)
}
