package cli

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tremedam/Agendamento-Pro/internal/app"
	"github.com/tremedam/Agendamento-Pro/internal/overlay"
	"github.com/tremedam/Agendamento-Pro/internal/platform/cache"
)

// PeriodSummary counts the records of one period per owner.
type PeriodSummary struct {
	Period  string         `json:"period"`
	Records int            `json:"records"`
	Owners  map[string]int `json:"owners"`
	Masks   int            `json:"masks"`
	Pending int            `json:"pending"`
}

// MirrorSummary describes a mirror document.
type MirrorSummary struct {
	Records int             `json:"records"`
	Periods []PeriodSummary `json:"periods"`
}

// RepairReport describes what mirror repair changed.
type RepairReport struct {
	Before  int  `json:"before"`
	After   int  `json:"after"`
	Healed  bool `json:"healed"`
	Evicted int  `json:"evicted"`
}

// Summarize groups snap by period and owner.
func Summarize(snap overlay.Snapshot) MirrorSummary {
	out := MirrorSummary{Records: snap.Len(), Periods: []PeriodSummary{}}
	for period, owners := range snap {
		ps := PeriodSummary{Period: period, Owners: map[string]int{}}
		for owner, recs := range owners {
			ps.Owners[owner] = len(recs)
			ps.Records += len(recs)
			for _, rec := range recs {
				if rec.IsMask() {
					ps.Masks++
				}
				if rec.ApprovalStatus == overlay.StatusPending {
					ps.Pending++
				}
			}
		}
		out.Periods = append(out.Periods, ps)
	}
	sort.Slice(out.Periods, func(i, j int) bool { return out.Periods[i].Period < out.Periods[j].Period })
	return out
}

// Repair loads mirror through a Store so that drifted ids and expiries are
// healed and written back. With evict, expired records are dropped as well.
func Repair(ctx context.Context, mirror overlay.Mirror, evict bool) (RepairReport, error) {
	before, err := mirror.Load(ctx)
	if err != nil {
		return RepairReport{}, err
	}
	raw, err := overlay.EncodeSnapshot(before)
	if err != nil {
		return RepairReport{}, err
	}

	store := overlay.NewStore(mirror, overlay.Config{})
	if err := store.Init(ctx); err != nil {
		return RepairReport{}, err
	}
	healed, err := store.Snapshot()
	if err != nil {
		return RepairReport{}, err
	}
	report := RepairReport{Before: before.Len(), Healed: !bytes.Equal(raw, healed)}
	if evict {
		report.Evicted = store.EvictExpired(ctx)
	}
	report.After = store.Len()
	if err := store.Close(ctx); err != nil {
		return report, err
	}
	if err := store.LastPersistError(); err != nil {
		return report, fmt.Errorf("write mirror: %w", err)
	}
	return report, nil
}

type mirrorFlags struct {
	path     string
	redisKey string
	backend  string
}

func (f *mirrorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.backend, "backend", "", "mirror backend (file|redis), defaults to MIRROR_BACKEND")
	cmd.Flags().StringVar(&f.path, "path", "", "mirror file, defaults to MIRROR_PATH")
	cmd.Flags().StringVar(&f.redisKey, "redis-key", "", "mirror key, defaults to MIRROR_REDIS_KEY")
}

// open resolves the mirror from flags and configuration. The returned func
// releases any connection.
func (f *mirrorFlags) open(ctx context.Context, opts *RootOptions) (overlay.Mirror, func(), error) {
	noop := func() {}
	if f.path != "" && f.backend == "" {
		return overlay.NewFileMirror(f.path), noop, nil
	}
	cfg, err := opts.config()
	if err != nil {
		return nil, noop, err
	}
	backend := f.backend
	if backend == "" {
		backend = cfg.MirrorBackend
	}
	switch backend {
	case app.MirrorFile:
		path := f.path
		if path == "" {
			path = cfg.MirrorPath
		}
		return overlay.NewFileMirror(path), noop, nil
	case app.MirrorRedis:
		key := f.redisKey
		if key == "" {
			key = cfg.MirrorRedisKey
		}
		client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
		if err != nil {
			return nil, noop, err
		}
		return overlay.NewRedisMirror(client, key), func() { _ = client.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unsupported mirror backend %q", backend)
	}
}

func newMirrorCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Inspect and repair the overlay mirror",
	}

	var inspectFlags mirrorFlags
	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize the records held by the mirror",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mirror, release, err := inspectFlags.open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer release()
			snap, err := mirror.Load(cmd.Context())
			if err != nil {
				return err
			}
			summary := Summarize(snap)
			return opts.print(cmd, summary, summaryText(summary))
		},
	}
	inspectFlags.register(inspect)

	var (
		repairFlags mirrorFlags
		evict       bool
	)
	repair := &cobra.Command{
		Use:   "repair",
		Short: "Heal drifted records and write the mirror back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mirror, release, err := repairFlags.open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer release()
			report, err := Repair(cmd.Context(), mirror, evict)
			if err != nil {
				return err
			}
			return opts.print(cmd, report, fmt.Sprintf("records %d -> %d, healed=%t, evicted=%d\n",
				report.Before, report.After, report.Healed, report.Evicted))
		},
	}
	repairFlags.register(repair)
	repair.Flags().BoolVar(&evict, "evict", false, "also drop records of past periods")

	cmd.AddCommand(inspect, repair)
	return cmd
}

func summaryText(s MirrorSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "records: %d\n", s.Records)
	for _, p := range s.Periods {
		fmt.Fprintf(&b, "%s: %d records, %d masks, %d pending\n", p.Period, p.Records, p.Masks, p.Pending)
		owners := make([]string, 0, len(p.Owners))
		for owner := range p.Owners {
			owners = append(owners, owner)
		}
		sort.Strings(owners)
		for _, owner := range owners {
			fmt.Fprintf(&b, "  %s: %d\n", owner, p.Owners[owner])
		}
	}
	return b.String()
}
