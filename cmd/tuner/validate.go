package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/config"
)

func newValidateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration and print it with defaults applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.validate(cmd.OutOrStdout())
		},
	}
	cmd.Flags().Bool("quiet", false, "only report whether the configuration is valid")
	return cmd
}

func (a *app) validate(out io.Writer) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "configuration OK: %d stages, %d parameters, %d trials (%d initial)\n",
		len(cfg.Stages), len(cfg.Parameters), cfg.Budget.TotalTrials, cfg.Budget.InitialSamples)
	if a.v.GetBool("quiet") {
		return nil
	}

	data, err := config.MarshalYAML(cfg)
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}
	_, err = out.Write(data)
	return err
}
