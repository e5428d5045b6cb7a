package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewValidateCmd checks the loaded configuration
func NewValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, a)
		},
	}
}

func runValidate(cmd *cobra.Command, a *app) error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	cmd.Printf("configuration is valid: %s\n", a.cfg.DataSource.String())
	return nil
}
