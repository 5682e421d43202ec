package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/synod-schools/portal/jobs"
)

// JobsCLI wraps manual maintenance helpers for the session queues.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the helpers against the given Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
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

// Prune enqueues an immediate retention run.
func (c *JobsCLI) Prune(ctx context.Context, retentionDays int) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueuePrune(ctx, retentionDays)
}

// QueueStats summarises one queue.
type QueueStats struct {
	Queue     string `json:"queue" yaml:"queue"`
	Pending   int    `json:"pending" yaml:"pending"`
	Active    int    `json:"active" yaml:"active"`
	Scheduled int    `json:"scheduled" yaml:"scheduled"`
	Retry     int    `json:"retry" yaml:"retry"`
	Archived  int    `json:"archived" yaml:"archived"`
}

// InspectQueues reports the audit and default queues. A queue that has
// never seen a task reports zeros.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	queues := []string{jobs.QueueAudit, jobs.QueueDefault}
	out := make([]QueueStats, 0, len(queues))
	for _, name := range queues {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stats := QueueStats{Queue: name}
		info, err := c.inspector.GetQueueInfo(name)
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, fmt.Errorf("inspect %s: %w", name, err)
		}
		if info != nil {
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
			stats.Archived = info.Archived
		}
		out = append(out, stats)
	}
	return out, nil
}

func (rt *env) jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger session audit jobs",
	}

	var days int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete session events older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rt.context(cmd)
			defer cancel()
			c, err := NewJobsCLI(rt.cfg.RedisAddr)
			if err != nil {
				return err
			}
			defer c.Close()
			info, err := c.Prune(ctx, days)
			if err != nil {
				return fmt.Errorf("enqueue prune: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s on %s (id %s).\n", info.Type, info.Queue, info.ID)
			return nil
		},
	}
	prune.Flags().IntVar(&days, "days", jobs.DefaultRetentionDays, "Retention window in days")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth for the session queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rt.context(cmd)
			defer cancel()
			c, err := NewJobsCLI(rt.cfg.RedisAddr)
			if err != nil {
				return err
			}
			defer c.Close()
			out, err := c.InspectQueues(ctx)
			if err != nil {
				return err
			}
			if done, err := rt.formatOutput(cmd.OutOrStdout(), out); done {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
			for _, q := range out {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", q.Queue, q.Pending, q.Active, q.Scheduled, q.Retry, q.Archived)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(prune, stats)
	return cmd
}
