// Package roster tracks which workers are currently on-site in each zone. It is
// a read model fed by tap events; the shift ledger stays authoritative and the
// roster can always be rebuilt from open shifts.
package roster

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"plantation/internal/attendance"
	"plantation/internal/metrics"
	"plantation/internal/queue"
)

// Backend stores zone membership sets.
type Backend interface {
	Add(ctx context.Context, zone, workerID string) error
	Remove(ctx context.Context, zone, workerID string) error
	Members(ctx context.Context, zone string) ([]string, error)
	Replace(ctx context.Context, zones map[string][]string) error
}

// Roster applies tap events to a Backend.
type Roster struct {
	backend Backend
}

// New returns a roster over b.
func New(b Backend) *Roster {
	return &Roster{backend: b}
}

// Apply records a check-in or check-out.
func (r *Roster) Apply(ctx context.Context, evt attendance.TapEvent) error {
	switch evt.Action {
	case attendance.ActionCheckIn:
		return r.backend.Add(ctx, evt.ZoneID, evt.WorkerID)
	case attendance.ActionCheckOut:
		return r.backend.Remove(ctx, evt.ZoneID, evt.WorkerID)
	default:
		return fmt.Errorf("unknown tap action %q", evt.Action)
	}
}

// OnSite lists workers currently checked in to zone, sorted.
func (r *Roster) OnSite(ctx context.Context, zone string) ([]string, error) {
	members, err := r.backend.Members(ctx, zone)
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

// Consume applies tap messages until msgs is closed. Bad messages and backend
// failures are logged and skipped; Rebuild repairs any drift.
func (r *Roster) Consume(ctx context.Context, msgs <-chan queue.Message) {
	for msg := range msgs {
		evt, err := queue.DecodeTap(msg)
		if err != nil {
			log.Warn().Err(err).Msg("skipping roster message")
			metrics.RosterUpdates.WithLabelValues("skipped").Inc()
			continue
		}
		if err := r.Apply(ctx, evt); err != nil {
			log.Error().Err(err).Str("worker_id", evt.WorkerID).Str("zone_id", evt.ZoneID).Msg("roster update failed")
			metrics.RosterUpdates.WithLabelValues("error").Inc()
			continue
		}
		metrics.RosterUpdates.WithLabelValues("applied").Inc()
	}
}

// Rebuild replaces the roster with the given open shifts.
func (r *Roster) Rebuild(ctx context.Context, open []attendance.Shift) error {
	zones := make(map[string][]string)
	for _, s := range open {
		zones[s.ZoneID] = append(zones[s.ZoneID], s.WorkerID)
	}
	return r.backend.Replace(ctx, zones)
}

const keyPrefix = "roster:zone:"

// RedisBackend keeps one set per zone.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Add(ctx context.Context, zone, workerID string) error {
	return b.client.SAdd(ctx, keyPrefix+zone, workerID).Err()
}

func (b *RedisBackend) Remove(ctx context.Context, zone, workerID string) error {
	return b.client.SRem(ctx, keyPrefix+zone, workerID).Err()
}

func (b *RedisBackend) Members(ctx context.Context, zone string) ([]string, error) {
	return b.client.SMembers(ctx, keyPrefix+zone).Result()
}

func (b *RedisBackend) Replace(ctx context.Context, zones map[string][]string) error {
	var stale []string
	iter := b.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		stale = append(stale, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan roster keys: %w", err)
	}

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(stale) > 0 {
			pipe.Del(ctx, stale...)
		}
		for zone, workers := range zones {
			members := make([]any, len(workers))
			for i, w := range workers {
				members[i] = w
			}
			pipe.SAdd(ctx, keyPrefix+zone, members...)
		}
		return nil
	})
	return err
}

// MemoryBackend is an in-process Backend for single-binary dev setups.
type MemoryBackend struct {
	mu    sync.Mutex
	zones map[string]map[string]struct{}
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{zones: make(map[string]map[string]struct{})}
}

func (b *MemoryBackend) Add(_ context.Context, zone, workerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.zones[zone]
	if !ok {
		set = make(map[string]struct{})
		b.zones[zone] = set
	}
	set[workerID] = struct{}{}
	return nil
}

func (b *MemoryBackend) Remove(_ context.Context, zone, workerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.zones[zone], workerID)
	return nil
}

func (b *MemoryBackend) Members(_ context.Context, zone string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.zones[zone]))
	for w := range b.zones[zone] {
		out = append(out, w)
	}
	return out, nil
}

func (b *MemoryBackend) Replace(_ context.Context, zones map[string][]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.zones = make(map[string]map[string]struct{}, len(zones))
	for zone, workers := range zones {
		set := make(map[string]struct{}, len(workers))
		for _, w := range workers {
			set[w] = struct{}{}
		}
		b.zones[zone] = set
	}
	return nil
}
