package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/tremedam/Agendamento-Pro/internal/shared"
)

func newTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		secret string
		user   string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, err := opts.config()
				if err != nil {
					return err
				}
				secret = cfg.JWTSecret
			}
			if secret == "" {
				return errors.New("no signing secret: pass --secret or set JWT_SECRET")
			}
			r, err := shared.ParseRole(role)
			if err != nil {
				return err
			}
			token, err := shared.SignToken(secret, shared.Identity{UserID: user, Role: r}, ttl)
			if err != nil {
				return err
			}
			return opts.print(cmd, map[string]string{"token": token}, token+"\n")
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret, defaults to JWT_SECRET")
	cmd.Flags().StringVar(&user, "user", "1", "subject user id")
	cmd.Flags().StringVar(&role, "role", string(shared.RoleAdmin), "role claim (admin|store)")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")
	return cmd
}
