package cli

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/deskpilot/deskpilot/internal/llm/configbuilder"
)

// NewDoctorCmd returns a health-check command validating config and environment.
func NewDoctorCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK. Providers: %d, models: %d\n", len(cfg.Providers), len(cfg.Models))
			reg, err := configbuilder.BuildRegistryFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("model routes: %w", err)
			}
			for _, route := range reg.Models() {
				marker := ""
				if route.Name == reg.DefaultModel() {
					marker = " (default)"
				}
				fmt.Fprintf(out, "Model %s -> %s/%s%s\n", route.Name, route.Provider, route.Model, marker)
			}
			fmt.Fprintf(out, "Display: %dx%d, steps backend: %s, metrics: %v\n",
				cfg.Desktop.DisplayWidth, cfg.Desktop.DisplayHeight, cfg.Steps.Backend, cfg.Server.MetricsEnabled)

			helpers := []string{cfg.Desktop.XDoTool}
			if len(cfg.Desktop.ScreenshotCommand) > 0 {
				helpers = append(helpers, cfg.Desktop.ScreenshotCommand[0])
			}
			for _, bin := range helpers {
				if path, err := exec.LookPath(bin); err != nil {
					fmt.Fprintf(out, "WARN %s not found in PATH\n", bin)
				} else {
					fmt.Fprintf(out, "Found %s at %s\n", bin, path)
				}
			}
			return nil
		},
	}
}
