package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deskpilot/deskpilot/internal/agent"
	"github.com/deskpilot/deskpilot/internal/config"
	"github.com/deskpilot/deskpilot/internal/logging"
	"github.com/deskpilot/deskpilot/internal/ratelimit"
	"github.com/deskpilot/deskpilot/internal/runstore"
	"github.com/deskpilot/deskpilot/internal/session"
)

type runFlags struct {
	promptFile     string
	apiKeyFile     string
	model          string
	maxIterations  int
	tokenBudget    int
	textFile       string
	graphFile      string
	stepsDSN       string
	dbPasswordFile string
	logFile        string
	runsDir        string
}

// NewRunCmd runs a task locally against this machine's desktop.
func NewRunCmd(opts *Options) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run [\"<prompt>\"]",
		Short: "Run a desktop task locally",
		Long: "Run a desktop task locally. The task comes from --prompt-file or the argument. " +
			"Process documentation is given either as plain text (--text-file) or as a step graph (--graph-file).",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			task, err := resolveTask(f.promptFile, args)
			if err != nil {
				return err
			}
			processText, err := readOptionalFile(f.textFile)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cfg, f); err != nil {
				return err
			}

			logger, err := logging.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := session.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer res.Close()

			runID := runstore.NewRunID()
			out := cmd.OutOrStdout()
			prepared, err := res.Prepare(session.Request{
				Task:          task,
				ProcessText:   processText,
				Model:         f.model,
				MaxIterations: f.maxIterations,
				MaxTokens:     f.tokenBudget,
			}, session.Hooks{
				Observer: func(ev agent.Event) { printEvent(cmd, ev) },
				Throttle: func(th ratelimit.Throttle) {
					fmt.Fprintf(out, "[throttled] retrying in %s (attempt %d)\n", th.Wait, th.Attempt)
				},
			})
			if err != nil {
				return err
			}

			started := time.Now()
			logger.Info("run started", zap.String("run_id", runID), zap.String("model", prepared.Model))
			outcome := prepared.Run(ctx)

			if err := writeRunArtifacts(cfg.Runs.Dir, runID, task, prepared.Model, started, outcome); err != nil {
				logger.Error("write run artifacts", zap.Error(err))
			} else {
				logger.Info(fmt.Sprintf("action count (%d) saved to %s", outcome.Actions, runstore.ActionCountFile))
			}

			if outcome.Err != nil && outcome.Reason != agent.ReasonCancelled {
				return fmt.Errorf("run aborted (%s): %w", outcome.Reason, outcome.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&f.promptFile, "prompt-file", "", "File holding the task description")
	cmd.Flags().StringVar(&f.apiKeyFile, "api-key-file", "", "File holding the provider API key")
	cmd.Flags().StringVar(&f.model, "model", "", "Logical model id for this run")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "Iteration budget (default from config)")
	cmd.Flags().IntVar(&f.tokenBudget, "token-budget", 0, "Max tokens per model response (default from config)")
	cmd.Flags().StringVar(&f.textFile, "text-file", "", "Plain-text process description appended to the task")
	cmd.Flags().StringVar(&f.graphFile, "graph-file", "", "Process step graph (YAML) navigated through the documentation tool")
	cmd.Flags().StringVar(&f.stepsDSN, "steps-dsn", "", "PostgreSQL DSN holding the step graph; --graph-file is imported there first")
	cmd.Flags().StringVar(&f.dbPasswordFile, "db-password-file", "", "File holding the database password")
	cmd.Flags().StringVar(&f.logFile, "log-file", "agent.log", "Rotated JSON log file; empty disables it")
	cmd.Flags().StringVar(&f.runsDir, "runs-dir", "", "Directory for steps.txt and meta.json (default from config)")
	cmd.MarkFlagsMutuallyExclusive("text-file", "graph-file")
	return cmd
}

func resolveTask(promptFile string, args []string) (string, error) {
	switch {
	case promptFile != "" && len(args) > 0:
		return "", fmt.Errorf("give the task either as argument or with --prompt-file")
	case promptFile != "":
		data, err := os.ReadFile(promptFile)
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", fmt.Errorf("prompt file %s is empty", promptFile)
		}
		return string(data), nil
	case len(args) == 1 && strings.TrimSpace(args[0]) != "":
		return args[0], nil
	default:
		return "", fmt.Errorf("a task is required (argument or --prompt-file)")
	}
}

func applyRunFlags(cfg *config.Config, f *runFlags) error {
	if f.apiKeyFile != "" {
		key, err := config.ReadSecret(f.apiKeyFile)
		if err != nil {
			return err
		}
		for name, p := range cfg.Providers {
			p.APIKey = key
			cfg.Providers[name] = p
		}
	}
	if f.graphFile != "" {
		cfg.Steps.File = f.graphFile
		if cfg.Steps.Backend != "postgres" {
			cfg.Steps.Backend = "memory"
		}
	}
	if f.stepsDSN != "" {
		cfg.Steps.Backend = "postgres"
		cfg.Steps.DSN = f.stepsDSN
	}
	if f.dbPasswordFile != "" {
		cfg.Steps.DSNPasswordFile = f.dbPasswordFile
	}
	if f.textFile != "" {
		cfg.Steps.Backend = "none"
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = f.logFile
	}
	if f.runsDir != "" {
		cfg.Runs.Dir = f.runsDir
	}
	return nil
}

func writeRunArtifacts(dir, runID, task, model string, started time.Time, o agent.Outcome) error {
	if dir == "" {
		dir = "."
	}
	if err := runstore.WriteActionCount(dir, o.Actions); err != nil {
		return err
	}
	meta := runstore.Meta{
		RunID:        runID,
		Task:         task,
		Model:        model,
		State:        string(o.State),
		Reason:       o.Reason,
		Iterations:   o.Iterations,
		Actions:      o.Actions,
		CursorStepID: o.CursorStepID,
		StartedAt:    started.UTC(),
		Duration:     o.Duration,
	}
	if o.Err != nil {
		meta.Error = o.Err.Error()
	}
	return runstore.WriteMeta(dir, meta)
}

func printEvent(cmd *cobra.Command, ev agent.Event) {
	out := cmd.OutOrStdout()
	switch ev.Type {
	case agent.EventIteration:
		fmt.Fprintf(out, "=== Iteration %d (%d actions) ===\n", ev.Iteration, ev.Actions)
	case agent.EventMessage:
		fmt.Fprintln(out, ev.Text)
	case agent.EventAction:
		status := "ok"
		if ev.IsError {
			status = "error"
		}
		fmt.Fprintf(out, "[%s %s] %s\n", ev.Action, status, ev.Text)
	case agent.EventDone:
		if ev.Outcome == nil {
			return
		}
		o := ev.Outcome
		summary := "completed"
		if !o.Done() {
			summary = o.Reason
		}
		fmt.Fprintf(out, "[%s] %s after %d iterations, %d actions\n", o.State, summary, o.Iterations, o.Actions)
	}
}

func readOptionalFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
