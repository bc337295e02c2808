// Command spoofwatch sends LLMNR, NBNS and mDNS lookups for names that
// should not exist and reports hosts that answer them.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/marcuoli/go-spoofwatch/internal/logging"
	"github.com/marcuoli/go-spoofwatch/internal/metrics"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch"
	"github.com/marcuoli/go-spoofwatch/pkg/spoofwatch/detection"
)

// Process exit statuses.
const (
	exitOK           = 0
	exitFailure      = 1
	exitBadArguments = 0xA0
	exitNoServices   = 0x41
)

const invalidArgumentsMsg = "Invalid arguments (ports out of range or missing critical argument)."

// exitError carries the process exit status for an error returned by a
// command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

func main() {
	root := newRootCmd()
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "spoofwatch: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func newRootCmd() *cobra.Command {
	var f watchFlags
	root := &cobra.Command{
		Use:           "spoofwatch",
		Short:         "Detect LLMNR, NBNS and mDNS spoofing on the local network",
		Version:       spoofwatch.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, &f)
		},
	}
	f.register(root.Flags())
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &exitError{code: exitBadArguments, err: err}
	})

	root.AddCommand(newQueryCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), spoofwatch.VersionInfo())
		},
	}
}

func newLogger(f *watchFlags) zerolog.Logger {
	o := logging.FromEnv(logging.DefaultOptions())
	o.JSON = f.jsonLogs
	if f.debug && o.Level > zerolog.DebugLevel {
		o.Level = zerolog.DebugLevel
	}
	return logging.New(o)
}

func runWatch(cmd *cobra.Command, f *watchFlags) error {
	logger := newLogger(f)
	ev := logging.EventLogger{L: logger}

	cfg, err := f.resolve(cmd.Flags())
	if err != nil {
		return invalidArguments(ev, err)
	}

	spoofwatch.SetDebugLogger(ev.Debug)
	defer spoofwatch.SetDebugLogger(nil)
	switch {
	case f.debug:
		spoofwatch.SetDebugLevel(spoofwatch.DebugVerbose)
	case logger.GetLevel() <= zerolog.DebugLevel:
		spoofwatch.SetDebugLevel(spoofwatch.DebugBasic)
	}

	if elevated() {
		ev.Log(spoofwatch.SeverityWarning, spoofwatch.EventRunningAsAdmin, spoofwatch.CategorySecurityWarning,
			"It appears the application is running with elevated privileges. This is not required and isn't a good idea.")
	}

	rec := metrics.New()
	det, err := spoofwatch.New(cfg.Settings,
		spoofwatch.WithLogger(ev),
		spoofwatch.WithMetrics(rec),
		spoofwatch.WithConfidenceChange(func(c detection.Confidence) {
			logger.Debug().Stringer("confidence", c).Msg("confidence changed")
		}),
		spoofwatch.WithMessagesSent(func() {
			logger.Debug().Msg("request round sent")
		}),
	)
	if err != nil {
		return invalidArguments(ev, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := det.Start(ctx); err != nil {
		if errors.Is(err, spoofwatch.ErrNoProtocols) {
			return &exitError{code: exitNoServices, err: err}
		}
		return err
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := rec.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server failed")
			}
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
	}

	logger.Info().Stringer("protocols", protocolList(det.Enabled())).Msg("watching for spoofed responses (Ctrl+C to stop)")
	<-ctx.Done()
	det.Stop()
	err = det.Wait()
	logger.Info().Stringer("confidence", det.Level()).Msg("stopped")
	return err
}

func invalidArguments(ev logging.EventLogger, err error) error {
	ev.Log(spoofwatch.SeverityError, spoofwatch.EventInvalidArguments, spoofwatch.CategoryFatalError, invalidArgumentsMsg)
	return &exitError{code: exitBadArguments, err: err}
}

// elevated reports whether the process runs as root. os.Geteuid is -1 on
// Windows.
func elevated() bool {
	return os.Geteuid() == 0
}

type protocolList []detection.Protocol

func (l protocolList) String() string {
	s := ""
	for i, p := range l {
		if i > 0 {
			s += ","
		}
		s += p.String()
	}
	return s
}
