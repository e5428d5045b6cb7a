package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kasuganosora/dal/pkg/api"
	"github.com/kasuganosora/dal/pkg/bootstrap"
	"github.com/kasuganosora/dal/pkg/config"
)

// app 命令共享的配置和日志, 在 PersistentPreRunE 中初始化
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *api.ZerologLogger
}

// NewRootCmd creates the dalctl root command
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "dalctl",
		Short:         "Inspect data sources and run batched imports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "configuration file (yaml or json)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "override log format (text, json)")

	cmd.AddCommand(
		NewPingCmd(a),
		NewImportCmd(a),
		NewValidateCmd(a),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	if a.configPath == "" {
		a.cfg = config.LoadConfigOrDefault()
	} else {
		cfg, err := config.LoadConfig(a.configPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		a.cfg = cfg
	}

	logCfg := a.cfg.Log
	if a.logLevel != "" {
		logCfg.Level = a.logLevel
	}
	if a.logFormat != "" {
		logCfg.Format = a.logFormat
	}
	a.logger = bootstrap.NewLogger(cmd.ErrOrStderr(), logCfg).With("command", cmd.Name())
	a.logger.Debug("configuration: %s", a.cfg.DataSource.String())
	return nil
}
