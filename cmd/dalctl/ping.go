package main

import (
	"github.com/spf13/cobra"

	"github.com/kasuganosora/dal/pkg/bootstrap"
	"github.com/kasuganosora/dal/pkg/session"
)

// NewPingCmd opens the configured data source and one session
func NewPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Open and release one session against the configured data source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPing(cmd, a)
		},
	}
}

func runPing(cmd *cobra.Command, a *app) error {
	ctx := cmd.Context()

	p, err := bootstrap.Open(ctx, &a.cfg.DataSource, nil, a.logger)
	if err != nil {
		return err
	}
	defer p.Close()

	s, err := p.OpenSession(ctx)
	if err != nil {
		return err
	}
	id := s.ID()
	if err := s.Close(); err != nil {
		return err
	}

	cmd.Printf("ok: %s session %s\n", a.cfg.DataSource.Driver, id)
	if f, ok := p.(*session.Factory); ok {
		stats := f.Stats()
		cmd.Printf("pool: open=%d idle=%d max=%d\n",
			stats.Pool.OpenConnections, stats.Pool.Idle, stats.Pool.MaxOpenConnections)
	}
	return nil
}
