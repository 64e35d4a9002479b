package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/burrmill/miller/pkg/config"
	"github.com/burrmill/miller/pkg/engine"
	"github.com/burrmill/miller/pkg/locators"
	"github.com/burrmill/miller/pkg/telemetry"
)

// shutdownTimeout bounds flushing spans and metrics at exit.
const shutdownTimeout = 5 * time.Second

// locatorFactory creates the artifact locators of one run and a function
// releasing them.
type locatorFactory func(opts locators.Options, tel *telemetry.Telemetry) (engine.Locators, func() error)

// app is the state shared by all commands of one invocation.
type app struct {
	version   string
	commit    string
	buildDate string

	// Global flags
	configPath  string
	debug       int
	logFormat   string
	metricsFile string
	trace       string

	stderr      io.Writer
	executable  func() (string, error)
	newLocators locatorFactory

	cfg   *config.Config
	tel   *telemetry.Telemetry
	timer *telemetry.Timer
}

func newApp(version, commit, buildDate string) *app {
	return &app{
		version:     version,
		commit:      commit,
		buildDate:   buildDate,
		stderr:      os.Stderr,
		executable:  os.Executable,
		newLocators: sessionLocators,
	}
}

// sessionLocators backs the locators with a cloud session.
func sessionLocators(opts locators.Options, tel *telemetry.Telemetry) (engine.Locators, func() error) {
	s := locators.NewSession(opts,
		locators.WithSessionLogger(tel.Logger.NewComponentLogger("locators").Zerolog()),
		locators.WithListingObserver(tel.Metrics.SetTarballCandidates),
	)
	return locators.Instrument(s.Locators(), tel), s.Close
}

// Execute runs the root command. A failure is logged as a single fatal
// diagnostic before it is returned.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	a := newApp(version, commit, buildDate)
	root := newRootCommand(a)
	return a.execute(ctx, root)
}

func (a *app) execute(ctx context.Context, root *cobra.Command) error {
	cmd, err := root.ExecuteContextC(ctx)
	if a.tel != nil {
		status := "success"
		if err != nil {
			status = "failure"
			a.tel.Metrics.RecordError(errorLabels(err))
		}
		a.tel.Metrics.RecordRunCompleted(cmd.Name(), status, a.timer.Duration())

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := a.tel.Shutdown(sctx); serr != nil {
			a.logger().Warnf("telemetry shutdown failed: %v", serr)
		}
	}
	if err != nil {
		a.logger().Fatal(err.Error())
	}
	return err
}

// errorLabels returns the metric labels of a fatal error.
func errorLabels(err error) (class, code string) {
	if class, code = telemetry.ErrorLabels(err); class != "" {
		return class, code
	}
	return "usage", ""
}

// logger returns the configured logger, or a console logger on stderr if
// setup did not get that far.
func (a *app) logger() *telemetry.Logger {
	if a.tel != nil {
		return a.tel.Logger
	}
	cfg := telemetry.DefaultConfig().Logging
	if a.logFormat != "" {
		cfg.Format = a.logFormat
	}
	return telemetry.NewLoggerTo(cfg, a.stderr)
}

// setup loads the configuration and creates the telemetry of the run.
func (a *app) setup(cmd *cobra.Command) error {
	a.timer = telemetry.NewTimer()

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.debug > 0 {
		cfg.Logging.Level = telemetry.LevelForVerbosity(a.debug)
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	if a.metricsFile != "" {
		cfg.Metrics.Textfile = a.metricsFile
	}
	if a.trace != "" {
		cfg.Tracing.Exporter = a.trace
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	tc := cfg.Telemetry(a.version)
	var tel *telemetry.Telemetry
	if tc.Logging.Output == "" || tc.Logging.Output == "stderr" {
		tel, err = telemetry.NewTelemetryWithLogger(tc, telemetry.NewLoggerTo(tc.Logging, a.stderr))
	} else {
		tel, err = telemetry.NewTelemetry(tc)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a.cfg = cfg
	a.tel = tel
	tel.Command = cmd.Name()
	cmd.SetContext(tel.WithContext(cmd.Context()))
	zl := tel.Logger.Zerolog()
	zl.Debug().
		Str("version", a.version).
		Str("commit", a.commit).
		Str("config", a.configPath).
		Msg("configuration loaded")
	return nil
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "miller",
		Short: "miller - Millfile build planner",
		Long: `miller examines the build targets declared in Millfiles and the artifacts
already present in the software bucket and the container registry, and
tells an external build executor what to build, in which order.

Millfiles declare the desired state of the components of the shared
software disk. Standard output carries only build or gather directives;
all diagnostics go to standard error.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", a.version, a.commit, a.buildDate),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().IntVarP(&a.debug, "debug", "d", 0, "print debug messages; the larger N, the merrier")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: console or json")
	rootCmd.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file at exit")
	rootCmd.PersistentFlags().StringVar(&a.trace, "trace", "", "trace exporter: none, stdout or otlp")

	rootCmd.AddCommand(newBuildCommand(a))
	rootCmd.AddCommand(newGatherCommand(a))
	rootCmd.AddCommand(newOrderCommand(a))
	rootCmd.AddCommand(newCheckCommand(a))

	return rootCmd
}
