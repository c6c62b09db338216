package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tremedam/Agendamento-Pro/internal/agenda"
	"github.com/tremedam/Agendamento-Pro/internal/platform/db"
)

func newDBCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the schedules database",
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			if cfg.PGDSN == "" {
				return errors.New("PG_DSN is not set")
			}
			pool, err := db.New(cmd.Context(), cfg.PGDSN)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			return opts.print(cmd, map[string]bool{"migrated": true}, "migrations applied\n")
		},
	}

	seed := &cobra.Command{
		Use:   "seed",
		Short: "Insert demonstration schedules into an empty database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			if cfg.PGDSN == "" {
				return errors.New("PG_DSN is not set")
			}
			pool, err := db.New(cmd.Context(), cfg.PGDSN)
			if err != nil {
				return err
			}
			defer pool.Close()
			n, err := agenda.Seed(cmd.Context(), pool)
			if err != nil {
				return err
			}
			return opts.print(cmd, map[string]int{"inserted": n}, fmt.Sprintf("inserted %d schedules\n", n))
		},
	}

	cmd.AddCommand(migrate, seed)
	return cmd
}
