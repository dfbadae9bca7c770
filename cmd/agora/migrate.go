package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agora.org/internal/migrate"
	"agora.org/internal/store/pg"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|status]",
	Short: "Apply or roll back the Postgres schema",
	Args:  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{
		"up", "down", "status",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		if cfg.Database.DSN == "" {
			return errors.New("missing DSN: set database.dsn or AGORA_DATABASE_DSN")
		}
		st, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{MaxOpenConns: 2})
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer st.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		mgr := migrate.NewManager(st.DB(), migrate.Governance())
		out := cmd.OutOrStdout()

		switch args[0] {
		case "up":
			applied, err := mgr.Up(ctx)
			if err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			for _, name := range applied {
				log.Info("migration applied", zap.String("name", name))
			}
			if len(applied) == 0 {
				fmt.Fprintln(out, "schema is up to date")
			}
		case "down":
			name, err := mgr.Down(ctx)
			if errors.Is(err, migrate.ErrNothingApplied) {
				fmt.Fprintln(out, "nothing to roll back")
				return nil
			}
			if err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			log.Info("migration rolled back", zap.String("name", name))
		case "status":
			history, err := mgr.Status(ctx)
			if err != nil {
				return fmt.Errorf("migrate status: %w", err)
			}
			for _, item := range history {
				fmt.Fprintln(out, item)
			}
		}
		return nil
	},
}
