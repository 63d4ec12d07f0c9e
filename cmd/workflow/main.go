// Command workflow is the CLI over the execution core: run a workflow once,
// fire one scheduled release, serve the cron release scheduler, or validate
// definitions.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/config"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/workflow"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/execution"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/infrastructure/audit"
	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/infrastructure/trace"
)

// Exit codes mirror the terminal workflow status.
const (
	exitSuccess = 0
	exitFailed  = 1
	exitTimeout = 2
	exitCancel  = 130
)

var (
	envFile    string
	paramFlags []string
	atFlag     string
	fromFlag   string
	forceFlag  bool
)

var rootCmd = &cobra.Command{
	Use:           "workflow",
	Short:         "YAML-defined workflow orchestrator",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var runCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Execute a workflow once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		wf, err := app.loader.Load(args[0])
		if err != nil {
			return err
		}
		params, err := parseParams(paramFlags)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()
		res, err := app.engine.Execute(ctx, wf, params)
		if err != nil {
			return err
		}
		return finish(res)
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release <name>",
	Short: "Fire one scheduled release at a logical date",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		wf, err := app.loader.Load(args[0])
		if err != nil {
			return err
		}
		params, err := parseParams(paramFlags)
		if err != nil {
			return err
		}
		at, err := parseReleaseTime(atFlag)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()
		res, err := app.engine.Release(ctx, wf, at, params)
		if err != nil {
			return err
		}
		return finish(res)
	},
}

var rerunCmd = &cobra.Command{
	Use:   "rerun <name>",
	Short: "Re-execute a workflow from a prior result context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		wf, err := app.loader.Load(args[0])
		if err != nil {
			return err
		}
		prior, err := readResultContext(fromFlag)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()
		res, err := app.engine.Rerun(ctx, wf, prior, forceFlag)
		if err != nil {
			return err
		}
		return finish(res)
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule [name...]",
	Short: "Serve the cron release scheduler",
	Long: `Registers the named workflows (every schedulable workflow found in the
registry paths when no names are given) and fires their cron releases until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.close()

		names := args
		if len(names) == 0 {
			names, err = schedulableNames(app.cfg.RegistryPaths)
			if err != nil {
				return err
			}
		}
		if len(names) == 0 {
			return fmt.Errorf("no schedulable workflows found under %s",
				strings.Join(app.cfg.RegistryPaths, ", "))
		}

		sched := execution.NewReleaseScheduler(app.engine, 0)
		for _, name := range names {
			wf, err := app.loader.Load(name)
			if err != nil {
				return err
			}
			if err := sched.Add(wf); err != nil {
				return err
			}
		}

		ctx, stop := signalContext()
		defer stop()
		go app.loader.Watch(ctx)
		return sched.Start(ctx)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Validate workflow definitions in a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := workflow.LoadFile(args[0])
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			return fmt.Errorf("no workflow documents in %s", args[0])
		}
		for name := range defs {
			fmt.Printf("ok: %s\n", name)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file")
	runCmd.Flags().StringArrayVarP(&paramFlags, "param", "p", nil, "parameter value as key=value (repeatable)")
	releaseCmd.Flags().StringArrayVarP(&paramFlags, "param", "p", nil, "parameter value as key=value (repeatable)")
	releaseCmd.Flags().StringVar(&atFlag, "at", "", "logical release time (RFC3339, default: latest matching minute)")
	rerunCmd.Flags().StringVar(&fromFlag, "from", "", "path to a prior result JSON")
	rerunCmd.Flags().BoolVar(&forceFlag, "force", false, "re-execute succeeded jobs too")
	rerunCmd.MarkFlagRequired("from")
	rootCmd.AddCommand(runCmd, releaseCmd, rerunCmd, scheduleCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitFailed)
	}
}

// app wires the process-level collaborators the commands share.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	loader *workflow.Loader
	engine *execution.Engine

	tracer *trace.Dispatcher
	store  audit.Store
}

func newApp() (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	loader := workflow.NewLoader(cfg.RegistryPaths, logger)

	var tracer trace.Tracer = trace.Nop{}
	var disp *trace.Dispatcher
	if cfg.EnableTraceWrite {
		sink, err := trace.SinkFromURL(cfg.TraceURL, logger)
		if err != nil {
			return nil, err
		}
		disp = trace.NewDispatcher(logger, trace.DefaultBuffer, sink)
		tracer = disp
	}

	store := audit.Store(audit.Nop{})
	if cfg.EnableAudit {
		if store, err = audit.FromURL(cfg.AuditURL); err != nil {
			return nil, err
		}
	}

	engine := execution.NewEngine(cfg, logger, execution.Options{
		Source: loader,
		Tracer: tracer,
		Audit:  store,
	})
	return &app{
		cfg:    cfg,
		logger: logger,
		loader: loader,
		engine: engine,
		tracer: disp,
		store:  store,
	}, nil
}

func (a *app) close() {
	if a.tracer != nil {
		a.tracer.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error().Err(err).Msg("audit store close failed")
	}
}

// signalContext cancels on SIGINT or SIGTERM with the external-cancel cause.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sig, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig.Done()
		cancel(errors.ErrCancel)
	}()
	return sig, func() {
		stop()
		cancel(nil)
	}
}

// finish prints the result JSON to stdout and exits with its status code.
func finish(res execution.Result) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	os.Exit(exitCode(res))
	return nil
}

func exitCode(res execution.Result) int {
	switch res.Status {
	case workflow.StatusSuccess, workflow.StatusSkip:
		return exitSuccess
	case workflow.StatusCancel:
		return exitCancel
	}
	for _, rec := range res.Errors {
		if rec.Kind == errors.KindWorkflow && rec.Code == errors.CodeTimeout {
			return exitTimeout
		}
	}
	return exitFailed
}

// parseParams turns repeated key=value flags into a parameter mapping; the
// value part is parsed as a YAML scalar so numbers and booleans keep their
// native type.
func parseParams(flags []string) (map[string]any, error) {
	params := make(map[string]any, len(flags))
	for _, kv := range flags {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --param %q, want key=value", kv)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		params[key] = value
	}
	return params, nil
}

// parseReleaseTime resolves --at, defaulting to the current minute.
func parseReleaseTime(flag string) (time.Time, error) {
	if flag == "" {
		return time.Now().Truncate(time.Minute), nil
	}
	at, err := time.Parse(time.RFC3339, flag)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: %w", flag, err)
	}
	return at, nil
}

// readResultContext loads the context tree out of a prior result JSON.
func readResultContext(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var res execution.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("invalid result file %s: %w", path, err)
	}
	if res.Context == nil {
		return nil, fmt.Errorf("result file %s has no context", path)
	}
	return res.Context, nil
}

// schedulableNames walks the registry paths for workflows carrying schedules.
func schedulableNames(paths []string) ([]string, error) {
	var names []string
	for _, root := range paths {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if !strings.HasSuffix(name, ".yml") && !strings.HasSuffix(name, ".yaml") {
				continue
			}
			defs, err := workflow.LoadFile(root + "/" + name)
			if err != nil {
				continue
			}
			for wfName, wf := range defs {
				if wf.On != nil && len(wf.On.Schedule) > 0 {
					names = append(names, wfName)
				}
			}
		}
	}
	return names, nil
}
