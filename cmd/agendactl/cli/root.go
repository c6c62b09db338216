// Package cli implements the agendactl operator commands.
package cli

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/tremedam/Agendamento-Pro/internal/app"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "json" | "text"

	// load is swapped in tests.
	load func() (*app.Config, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the agendactl command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{load: app.LoadConfig})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "agendactl",
		Short:         "Operate the schedule overlay service",
		Long:          "Inspect and repair the overlay mirror, trigger reconcile passes and manage the schedules database.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newMirrorCommand(opts))
	cmd.AddCommand(newJobsCommand(opts))
	cmd.AddCommand(newDBCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	return cmd
}

func (o *RootOptions) config() (*app.Config, error) {
	if o.load == nil {
		return app.LoadConfig()
	}
	return o.load()
}

// print writes v as JSON or text depending on --format.
func (o *RootOptions) print(cmd *cobra.Command, v any, text string) error {
	out := cmd.OutOrStdout()
	if o.Format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprint(out, text)
	return err
}
