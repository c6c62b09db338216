package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/tremedam/Agendamento-Pro/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, name, reason string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	switch name {
	case "reconcile", jobs.TaskOverlayReconcile:
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	task, err := jobs.NewReconcileTask(reason)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

func newJobsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}

	var reason string
	trigger := &cobra.Command{
		Use:   "trigger <job>",
		Short: "Enqueue a job now (supported: reconcile)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			c := NewJobsCLI(cfg.RedisAddr)
			defer c.Close()
			info, err := c.Trigger(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return opts.print(cmd, map[string]string{"id": info.ID, "queue": info.Queue, "type": info.Type},
				fmt.Sprintf("enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue))
		},
	}
	trigger.Flags().StringVar(&reason, "reason", "manual", "reason recorded in the task payload")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			c := NewJobsCLI(cfg.RedisAddr)
			defer c.Close()
			s, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd, s, fmt.Sprintf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry))
		},
	}

	cmd.AddCommand(trigger, stats)
	return cmd
}
