package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"agora.org/internal/audit"
	"agora.org/internal/governance"
	"agora.org/internal/store/pg"
	"agora.org/internal/sweep"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire overdue proposals once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		if cfg.Database.DSN == "" {
			return errors.New("missing DSN: set database.dsn or AGORA_DATABASE_DSN")
		}
		st, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{MaxOpenConns: 2},
			pg.WithRetries(cfg.Database.TxRetries), pg.WithLogger(log))
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer st.Close()

		notifier, queue, err := buildNotifier(cfg, log)
		if err != nil {
			return err
		}
		svc, err := governance.NewService(st,
			governance.WithNotifier(notifier),
			governance.WithAuditSink(audit.NewSink(log)),
			governance.WithLogger(log))
		if err != nil {
			return err
		}
		s, err := sweep.New(svc, cfg.Sweep.Schedule, log)
		if err != nil {
			return err
		}
		n, err := s.RunOnce(cmd.Context())
		if queue != nil {
			err = errors.Join(err, queue.Close(cmd.Context()))
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d proposals\n", n)
		return nil
	},
}
