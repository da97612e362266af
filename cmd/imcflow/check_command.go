package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"imcflow/internal/backend"
	"imcflow/internal/manifest"
	"imcflow/internal/pipeline"
	"imcflow/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run preflight checks for the configured project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			for _, line := range renderSectionHeader("Configuration", colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderStatusLine("Config file", statusInfo, ctx.configPath, colorize))

			kind, err := backend.ParseKind(cfg.Backend.Kind)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderStatusLine("Backend", statusInfo, string(kind), colorize))

			stages, err := pipeline.Stages(cfg)
			if err != nil {
				fmt.Fprintln(out, renderStatusLine("Stages", statusError, err.Error(), colorize))
				return err
			}
			fmt.Fprintln(out, renderStatusLine("Stages", statusOK, fmt.Sprintf("%d defined", len(stages)), colorize))

			var m *manifest.Manifest
			if cfg.Manifest.Path == "" {
				fmt.Fprintln(out, renderStatusLine("Manifest", statusWarn, "not configured", colorize))
			} else if m, err = manifest.Load(cfg.Manifest.Path, cfg.Manifest.PanelPath, manifest.OptionsFromConfig(cfg.Manifest)); err != nil {
				fmt.Fprintln(out, renderStatusLine("Manifest", statusError, err.Error(), colorize))
			} else {
				detail := fmt.Sprintf("%d samples", len(m.Samples))
				if len(m.Disabled) > 0 {
					detail += fmt.Sprintf(", %d disabled", len(m.Disabled))
				}
				fmt.Fprintln(out, renderStatusLine("Manifest", statusOK, detail, colorize))
				fmt.Fprintln(out, renderStatusLine("Panel", statusOK, fmt.Sprintf("%d markers", m.Panel.Len()), colorize))
			}
			manifestErr := err

			fmt.Fprintln(out)
			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(out, line)
			}
			results := preflight.RunAll(cmd.Context(), cfg, m, stages, kind)
			for _, r := range results {
				status := statusOK
				switch {
				case !r.Passed && r.Optional:
					status = statusWarn
				case !r.Passed:
					status = statusError
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, status, r.Detail, colorize))
			}

			if manifestErr != nil {
				return fmt.Errorf("manifest: %w", manifestErr)
			}
			if blocking := preflight.Blocking(results); len(blocking) > 0 {
				return fmt.Errorf("%d preflight checks failed", len(blocking))
			}
			return nil
		},
	}
}
