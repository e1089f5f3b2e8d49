package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deskpilot/deskpilot/internal/logging"
	"github.com/deskpilot/deskpilot/internal/session"
	"github.com/deskpilot/deskpilot/internal/steps"
)

// NewStepsCmd groups the process documentation commands.
func NewStepsCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steps",
		Short: "Manage the process step graph",
	}
	cmd.AddCommand(newStepsImportCmd(opts), newStepsShowCmd(opts))
	return cmd
}

func newStepsImportCmd(opts *Options) *cobra.Command {
	var graphFile, dsn, passwordFile string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a step graph YAML file into PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if dsn == "" {
				dsn = cfg.Steps.DSN
			}
			if passwordFile == "" {
				passwordFile = cfg.Steps.DSNPasswordFile
			}
			if dsn == "" {
				return fmt.Errorf("no database configured (--steps-dsn or steps.dsn)")
			}

			specs, err := steps.Load(graphFile)
			if err != nil {
				return err
			}

			logger, err := logging.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort

			graph, closeFn, err := session.OpenPostgres(cmd.Context(), dsn, passwordFile, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := graph.Import(cmd.Context(), specs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d steps from %s\n", len(specs), graphFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&graphFile, "graph-file", "", "Step graph YAML file")
	cmd.Flags().StringVar(&dsn, "steps-dsn", "", "PostgreSQL DSN (default steps.dsn)")
	cmd.Flags().StringVar(&passwordFile, "db-password-file", "", "File holding the database password")
	_ = cmd.MarkFlagRequired("graph-file")
	return cmd
}

func newStepsShowCmd(opts *Options) *cobra.Command {
	var graphFile string
	var id int

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a step with its neighbours",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			stepsCfg := cfg.Steps
			if graphFile != "" {
				stepsCfg.Backend, stepsCfg.File = "memory", graphFile
			}

			nav, closeFn, err := session.OpenSteps(cmd.Context(), stepsCfg, nil)
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer closeFn()
			}
			if nav == nil {
				return fmt.Errorf("no step graph configured (--graph-file or steps.backend)")
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			for _, q := range []struct {
				label string
				fn    func() (steps.Step, error)
			}{
				{"prev", func() (steps.Step, error) { return nav.Previous(ctx, id) }},
				{"curr", func() (steps.Step, error) { return nav.Current(ctx, id) }},
				{"next", func() (steps.Step, error) { return nav.Next(ctx, id) }},
			} {
				step, err := q.fn()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\t%d\t%s\n", q.label, step.ID, step.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&graphFile, "graph-file", "", "Step graph YAML file (default: configured backend)")
	cmd.Flags().IntVar(&id, "id", 1, "Step id")
	return cmd
}
