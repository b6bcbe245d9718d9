// Package loadtest simulates concurrent devices syncing against one server.
//
// Each device keeps its own replica and runs a sync client. Every round a
// device writes a few changes locally (new thoughts, edits to a set of
// shared thoughts that every device fights over, deletes of its own
// thoughts) and then syncs. When all devices finish, each one resyncs from
// scratch and the replicas are compared: with last-write-wins merging they
// must all hold the same state as the server.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enso-notes/enso/internal/client"
	"github.com/enso-notes/enso/internal/clock"
	"github.com/enso-notes/enso/internal/store"
	thoughtsync "github.com/enso-notes/enso/internal/sync"
	"github.com/enso-notes/enso/internal/thought"
)

// maxDivergent bounds the mismatches listed in a report.
const maxDivergent = 20

var tagPool = []string{"work", "home", "idea", "todo", "later", "reading"}

// Config controls the simulated workload.
type Config struct {
	Devices        int
	Rounds         int
	WritesPerRound int
	// SharedThoughts are seeded once and edited by every device.
	SharedThoughts int
	// DeleteRatio is the chance that a write deletes one of the device's
	// own thoughts instead of creating or editing.
	DeleteRatio float64
	// EditRatio is the chance that a write edits a shared thought.
	EditRatio float64
	Seed      int64
	// Workdir holds the replica databases. Empty means a temp dir that is
	// removed afterwards.
	Workdir string
	Logger  *zap.Logger
}

// DefaultConfig returns a small workload that finishes in a few seconds.
func DefaultConfig() Config {
	return Config{
		Devices:        10,
		Rounds:         5,
		WritesPerRound: 5,
		SharedThoughts: 5,
		DeleteRatio:    0.1,
		EditRatio:      0.3,
		Seed:           42,
	}
}

// LatencyStats captures the latency of sync requests.
type LatencyStats struct {
	Min           time.Duration
	Max           time.Duration
	Mean          time.Duration
	P50           time.Duration // Median
	P95           time.Duration
	P99           time.Duration
	TotalRequests int
	Errors        int
}

// Report is the outcome of a run.
type Report struct {
	Devices  int
	Rounds   int
	Writes   int
	Pushed   int
	Applied  int
	Stale    int
	Rejected int
	Pulled   int
	Latency  *LatencyStats
	Elapsed  time.Duration
	// Thoughts is the number of thoughts, tombstones included, every replica
	// ended with.
	Thoughts  int
	Converged bool
	Divergent []string
}

// Run executes the workload against target. When server is non-nil the
// replicas are also compared with it.
func Run(ctx context.Context, target client.Transport, server store.Reader, cfg Config) (*Report, error) {
	if cfg.Devices < 1 || cfg.Rounds < 1 || cfg.WritesPerRound < 0 || cfg.SharedThoughts < 0 {
		return nil, fmt.Errorf("invalid load test config: %d devices, %d rounds, %d writes, %d shared",
			cfg.Devices, cfg.Rounds, cfg.WritesPerRound, cfg.SharedThoughts)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	workdir := cfg.Workdir
	if workdir == "" {
		dir, err := os.MkdirTemp("", "enso-loadtest-")
		if err != nil {
			return nil, fmt.Errorf("failed to create workdir: %w", err)
		}
		defer os.RemoveAll(dir)
		workdir = dir
	}

	clk := clock.NewSequence(time.Now().UTC(), time.Microsecond)
	timed := &timedTransport{next: target}
	start := time.Now()

	shared, err := seed(ctx, timed, clk, cfg.SharedThoughts)
	if err != nil {
		return nil, err
	}

	devices := make([]*device, cfg.Devices)
	for i := range devices {
		d, err := newDevice(ctx, i, workdir, timed, clk, shared, cfg)
		if err != nil {
			closeAll(devices)
			return nil, err
		}
		devices[i] = d
	}
	defer closeAll(devices)

	report := &Report{Devices: cfg.Devices, Rounds: cfg.Rounds}
	var mu sync.Mutex
	var wg sync.WaitGroup
	errCh := make(chan error, cfg.Devices)
	for _, d := range devices {
		wg.Add(1)
		go func(d *device) {
			defer wg.Done()
			for r := 0; r < cfg.Rounds; r++ {
				if err := d.write(ctx, r); err != nil {
					errCh <- fmt.Errorf("device %d round %d: %w", d.index, r, err)
					return
				}
				rep, err := d.client.Sync(ctx)
				if err != nil {
					errCh <- fmt.Errorf("device %d round %d sync: %w", d.index, r, err)
					return
				}
				mu.Lock()
				report.Pushed += rep.Pushed
				report.Applied += rep.Applied
				report.Stale += rep.Stale
				report.Rejected += len(rep.Rejected)
				report.Pulled += rep.Pulled
				mu.Unlock()
			}
		}(d)
	}
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return nil, err
	}
	for _, d := range devices {
		report.Writes += d.writes
	}

	// Resync everyone from the beginning so late writes reach every replica.
	for _, d := range devices {
		if err := d.client.Reset(ctx); err != nil {
			return nil, err
		}
		if _, err := d.client.Sync(ctx); err != nil {
			return nil, fmt.Errorf("device %d final sync: %w", d.index, err)
		}
	}
	report.Elapsed = time.Since(start)
	report.Latency = timed.stats()

	if err := verify(ctx, report, devices, server); err != nil {
		return nil, err
	}
	cfg.Logger.Info("load test finished",
		zap.Int("devices", report.Devices),
		zap.Int("requests", report.Latency.TotalRequests),
		zap.Duration("p95", report.Latency.P95),
		zap.Bool("converged", report.Converged),
	)
	return report, nil
}

// seed pushes the shared thoughts every device edits.
func seed(ctx context.Context, target client.Transport, clk clock.Clock, n int) ([]string, error) {
	ids := make([]string, n)
	changes := make([]thought.Snapshot, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("th_shared_%03d", i)
		at := clk.Now()
		changes[i] = thought.Snapshot{
			ID:        ids[i],
			Title:     fmt.Sprintf("Shared %d", i),
			Content:   "seed",
			CreatedAt: &at,
			UpdatedAt: &at,
		}
	}
	if n == 0 {
		return ids, nil
	}
	resp, err := target.Sync(ctx, thoughtsync.Request{ClientID: "loadtest-seed", Changes: changes})
	if err != nil {
		return nil, fmt.Errorf("failed to seed shared thoughts: %w", err)
	}
	if len(resp.Rejected) > 0 {
		return nil, fmt.Errorf("seed rejected: %s", resp.Rejected[0].Error)
	}
	return ids, nil
}

type device struct {
	index  int
	db     *store.DB
	local  *thoughtsync.Coordinator
	client *client.Client
	clock  clock.Clock
	rng    *rand.Rand
	shared []string
	own    []string
	cfg    Config
	writes int
}

func newDevice(ctx context.Context, i int, workdir string, target client.Transport, clk clock.Clock, shared []string, cfg Config) (*device, error) {
	db, err := store.OpenAndInit(ctx, filepath.Join(workdir, fmt.Sprintf("device-%03d.db", i)))
	if err != nil {
		return nil, err
	}
	local := thoughtsync.NewCoordinator(db, thoughtsync.WithClock(clk))
	c, err := client.New(target, db, local,
		client.WithClientID(fmt.Sprintf("loadtest-%03d-%s", i, uuid.NewString())),
		client.WithClock(clk),
		client.WithLogger(cfg.Logger.With(zap.Int("device", i))),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &device{
		index:  i,
		db:     db,
		local:  local,
		client: c,
		clock:  clk,
		rng:    rand.New(rand.NewSource(cfg.Seed + int64(i))),
		shared: shared,
		cfg:    cfg,
	}, nil
}

// write makes one round of local changes.
func (d *device) write(ctx context.Context, round int) error {
	for w := 0; w < d.cfg.WritesPerRound; w++ {
		roll := d.rng.Float64()
		var snap thought.Snapshot
		switch {
		case roll < d.cfg.DeleteRatio && len(d.own) > 0:
			id := d.own[d.rng.Intn(len(d.own))]
			cur, err := d.db.GetThought(ctx, id)
			if err != nil {
				return err
			}
			if cur.IsDeleted() {
				continue
			}
			snap = cur.Snapshot()
			at := d.clock.Now()
			snap.UpdatedAt, snap.DeletedAt = &at, &at

		case roll < d.cfg.DeleteRatio+d.cfg.EditRatio && len(d.shared) > 0:
			id := d.shared[d.rng.Intn(len(d.shared))]
			cur, err := d.db.FindThought(ctx, id)
			if err != nil {
				return err
			}
			if cur == nil {
				continue
			}
			snap = cur.Snapshot()
			snap.Content = fmt.Sprintf("edited by device %d in round %d", d.index, round)
			snap.Tags = d.tags()
			at := d.clock.Now()
			snap.UpdatedAt = &at

		default:
			id := "th_" + uuid.NewString()
			at := d.clock.Now()
			snap = thought.Snapshot{
				ID:        id,
				Title:     fmt.Sprintf("Device %d note %d", d.index, len(d.own)),
				Content:   fmt.Sprintf("written in round %d", round),
				Tags:      d.tags(),
				CreatedAt: &at,
				UpdatedAt: &at,
			}
			if len(d.shared) > 0 && d.rng.Intn(2) == 0 {
				target := d.shared[d.rng.Intn(len(d.shared))]
				// Shared thoughts reach the replica with the first sync.
				t, err := d.db.FindThought(ctx, target)
				if err != nil {
					return err
				}
				if t != nil {
					snap.Links = []string{target}
				}
			}
			d.own = append(d.own, id)
		}

		res, err := d.local.Apply(ctx, []thought.Snapshot{snap})
		if err != nil {
			return err
		}
		if len(res.Rejected) > 0 {
			return fmt.Errorf("local write rejected: %s", res.Rejected[0].Error)
		}
		d.writes++
	}
	return nil
}

func (d *device) tags() []string {
	n := d.rng.Intn(3)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, tagPool[d.rng.Intn(len(tagPool))])
	}
	return out
}

func closeAll(devices []*device) {
	for _, d := range devices {
		if d != nil {
			_ = d.db.Close()
		}
	}
}

// verify compares every replica with the first one, and with the server
// when one is given.
func verify(ctx context.Context, report *Report, devices []*device, server store.Reader) error {
	want, err := snapshot(ctx, devices[0].db)
	if err != nil {
		return err
	}
	report.Thoughts = len(want)

	var divergent []string
	if server != nil {
		got, err := snapshot(ctx, server)
		if err != nil {
			return err
		}
		divergent = append(divergent, diff("server", want, got)...)
	}
	for _, d := range devices[1:] {
		got, err := snapshot(ctx, d.db)
		if err != nil {
			return err
		}
		divergent = append(divergent, diff(fmt.Sprintf("device %d", d.index), want, got)...)
	}
	report.Converged = len(divergent) == 0
	if len(divergent) > maxDivergent {
		divergent = divergent[:maxDivergent]
	}
	report.Divergent = divergent
	return nil
}

func snapshot(ctx context.Context, r store.Reader) (map[string]thought.Thought, error) {
	rows, err := r.ChangedSince(ctx, time.Time{}, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[string]thought.Thought, len(rows))
	for _, t := range rows {
		out[t.ID] = t
	}
	return out, nil
}

func diff(name string, want, got map[string]thought.Thought) []string {
	var out []string
	for id, w := range want {
		g, ok := got[id]
		switch {
		case !ok:
			out = append(out, fmt.Sprintf("%s: missing %s", name, id))
		case !w.Equal(g):
			out = append(out, fmt.Sprintf("%s: %s differs", name, id))
		}
	}
	for id := range got {
		if _, ok := want[id]; !ok {
			out = append(out, fmt.Sprintf("%s: extra %s", name, id))
		}
	}
	sort.Strings(out)
	return out
}

// timedTransport records the latency of every request it forwards.
type timedTransport struct {
	next      client.Transport
	mu        sync.Mutex
	durations []time.Duration
	errors    int
}

func (t *timedTransport) Sync(ctx context.Context, req thoughtsync.Request) (*thoughtsync.Response, error) {
	start := time.Now()
	resp, err := t.next.Sync(ctx, req)
	elapsed := time.Since(start)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.durations = append(t.durations, elapsed)
	if err != nil {
		t.errors++
	}
	return resp, err
}

func (t *timedTransport) stats() *LatencyStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := computeLatencyStats(t.durations)
	s.Errors = t.errors
	return s
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:           sorted[0],
		Max:           sorted[len(sorted)-1],
		Mean:          sum / time.Duration(len(durations)),
		P50:           sorted[len(sorted)*50/100],
		P95:           sorted[len(sorted)*95/100],
		P99:           sorted[len(sorted)*99/100],
		TotalRequests: len(durations),
	}
}

// Print writes a plain-text summary of the report.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Devices:       %d x %d rounds (%d writes)\n", r.Devices, r.Rounds, r.Writes)
	fmt.Fprintf(w, "Pushed:        %d (applied %d, stale %d, rejected %d)\n", r.Pushed, r.Applied, r.Stale, r.Rejected)
	fmt.Fprintf(w, "Pulled:        %d\n", r.Pulled)
	fmt.Fprintf(w, "Elapsed:       %v\n", r.Elapsed.Round(time.Millisecond))
	if s := r.Latency; s != nil {
		fmt.Fprintf(w, "Requests:      %d (%d errors)\n", s.TotalRequests, s.Errors)
		fmt.Fprintf(w, "  Min:         %v\n", s.Min)
		fmt.Fprintf(w, "  P50:         %v\n", s.P50)
		fmt.Fprintf(w, "  Mean:        %v\n", s.Mean)
		fmt.Fprintf(w, "  P95:         %v\n", s.P95)
		fmt.Fprintf(w, "  P99:         %v\n", s.P99)
		fmt.Fprintf(w, "  Max:         %v\n", s.Max)
	}
	fmt.Fprintf(w, "Thoughts:      %d\n", r.Thoughts)
	fmt.Fprintf(w, "Converged:     %t\n", r.Converged)
	for _, d := range r.Divergent {
		fmt.Fprintf(w, "  %s\n", d)
	}
}
