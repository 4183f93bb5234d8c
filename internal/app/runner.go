package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ggonzalez94/relay/internal/config"
	clierr "github.com/ggonzalez94/relay/internal/errors"
	"github.com/ggonzalez94/relay/internal/events"
	"github.com/ggonzalez94/relay/internal/execution"
	"github.com/ggonzalez94/relay/internal/logx"
	"github.com/ggonzalez94/relay/internal/model"
	"github.com/ggonzalez94/relay/internal/out"
	"github.com/ggonzalez94/relay/internal/policy"
	"github.com/ggonzalez94/relay/internal/schema"
	"github.com/ggonzalez94/relay/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner       *Runner
	flags        config.GlobalFlags
	settings     config.Settings
	log          zerolog.Logger
	root         *cobra.Command
	lastCommand  string
	lastWarnings []string
	lastPartial  bool

	actionStore *execution.Store
	journal     *events.Journal
	metrics     *events.Metrics
	registry    *prometheus.Registry
	metricsFile string
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, log: logx.Nop()}
	root := state.newRootCommand()
	state.root = root
	state.resetCommandDiagnostics()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if err == nil {
		err = state.flushMetrics()
	}
	state.close()
	if err == nil {
		return 0
	}

	state.renderError("", err, state.lastWarnings, state.lastPartial)
	return clierr.ExitCode(err)
}

func (s *runtimeState) close() {
	if s.actionStore != nil {
		_ = s.actionStore.Close()
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Cross-chain stablecoin relay: route, swap and deliver bridged transfers",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				if _, ok := clierr.As(err); ok {
					return err
				}
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.log = logx.New(s.runner.stderr, settings.LogLevel, settings.LogFormat)

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}

			if shouldOpenActionStore(path) && s.actionStore == nil {
				if err := s.ensureActionStore(); err != nil {
					return err
				}
			}
			if settings.JournalEnabled && shouldOpenJournal(path) && s.journal == nil {
				journal, err := events.OpenJournal(settings.JournalPath, settings.JournalLockPath, s.log)
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "open event journal", err)
				}
				s.journal = journal
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated, dotted paths allowed)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.Strict, "strict", false, "Fail when a transfer is left undelivered")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Command timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per upstream HTTP request")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.DeploymentPath, "deployment", "", "Path to deployment manifest (YAML)")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&s.flags.NoJournal, "no-journal", false, "Do not record relay events in the journal")
	cmd.PersistentFlags().StringVar(&s.metricsFile, "metrics-textfile", "", "Write relay counters to this file in Prometheus text format")

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newRoutesCommand())
	cmd.AddCommand(s.newSwappersCommand())
	cmd.AddCommand(s.newSendCommand())
	cmd.AddCommand(s.newSimulateCommand())
	cmd.AddCommand(s.newActionsCommand())
	cmd.AddCommand(s.newEventsCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, false)
		},
	}
}

// eventSink fans relay events out to the logger, the journal when open, and
// the process counters. extra sinks (e.g. a Recorder) are appended.
func (s *runtimeState) eventSink(extra ...events.Sink) (events.Sink, error) {
	if s.metrics == nil {
		s.registry = prometheus.NewRegistry()
		m, err := events.NewMetrics(s.registry)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "register relay metrics", err)
		}
		s.metrics = m
	}
	sinks := []events.Sink{events.NewLogSink(s.log), s.metrics}
	if s.journal != nil {
		sinks = append(sinks, s.journal)
	}
	return events.Multi(append(sinks, extra...)...), nil
}

func (s *runtimeState) flushMetrics() error {
	if s.metricsFile == "" || s.registry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(s.metricsFile, s.registry); err != nil {
		return clierr.Wrap(clierr.CodeInternal, "write metrics textfile", err)
	}
	return nil
}

func (s *runtimeState) ensureActionStore() error {
	if s.actionStore != nil {
		return nil
	}
	store, err := execution.OpenStore(s.settings.ActionStorePath, s.settings.ActionLockPath)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "open action store", err)
	}
	s.actionStore = store
	return nil
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, partial bool) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta:     s.meta(commandPath, partial),
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) meta(commandPath string, partial bool) model.EnvelopeMeta {
	return model.EnvelopeMeta{
		RequestID:  newRequestID(),
		Timestamp:  s.runner.now().UTC(),
		Command:    commandPath,
		Deployment: s.settings.Deployment.Name,
		Transport:  s.settings.Deployment.Transport,
		Partial:    partial,
	}
}

func (s *runtimeState) renderError(commandPath string, err error, warnings []string, partial bool) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := clierr.TypeName(clierr.CodeInternal)
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		typ = clierr.TypeName(cErr.Code)
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Warnings: warnings,
		Meta:     s.meta(commandPath, partial),
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		norm := strings.ToLower(strings.TrimSpace(part))
		if norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}

func shouldOpenActionStore(commandPath string) bool {
	path := normalizeCommandPath(commandPath)
	return path == "send plan" || path == "actions" || strings.HasPrefix(path, "actions ")
}

// shouldOpenJournal reports whether commandPath emits or reads relay events.
func shouldOpenJournal(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "simulate", "send plan", "events list", "events prune":
		return true
	default:
		return false
	}
}

func (s *runtimeState) resetCommandDiagnostics() {
	s.lastWarnings = nil
	s.lastPartial = false
}

func (s *runtimeState) captureCommandDiagnostics(warnings []string, partial bool) {
	if len(warnings) == 0 {
		s.lastWarnings = nil
	} else {
		s.lastWarnings = append([]string(nil), warnings...)
	}
	s.lastPartial = partial
}
