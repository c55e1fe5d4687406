package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Ledger and Reader for development and tests.
// It enforces the same one-open-shift rule and conditional close as Postgres.
type MemoryStore struct {
	mu      sync.Mutex
	devices map[uuid.UUID]Device
	cards   map[string]Card
	shifts  []Shift
	logs    []LogEntry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[uuid.UUID]Device),
		cards:   make(map[string]Card),
	}
}

// PutDevice registers or replaces a device.
func (m *MemoryStore) PutDevice(d Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[d.ID] = d
}

// PutCard registers or replaces a card.
func (m *MemoryStore) PutCard(c Card) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[c.UID] = c
}

func (m *MemoryStore) DeviceByID(_ context.Context, id uuid.UUID) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return Device{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) ActiveCard(_ context.Context, uid string) (Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[uid]
	if !ok || !c.Active {
		return Card{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) ActiveShift(_ context.Context, workerID string) (*Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Shift
	for i := range m.shifts {
		s := m.shifts[i]
		if s.WorkerID != workerID || !s.Open() {
			continue
		}
		if latest == nil || s.CheckIn.After(latest.CheckIn) {
			cp := s
			latest = &cp
		}
	}
	return latest, nil
}

func (m *MemoryStore) CheckIn(_ context.Context, shift Shift, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.shifts {
		if s.WorkerID == shift.WorkerID && s.Open() {
			return ErrConflict
		}
	}
	shift.CheckOut, shift.TotalHours = nil, nil
	m.shifts = append(m.shifts, shift)
	m.logs = append(m.logs, entry)
	return nil
}

func (m *MemoryStore) CheckOut(_ context.Context, shiftID, workerID string, at time.Time, hours float64, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.shifts {
		s := &m.shifts[i]
		if s.ID != shiftID || s.WorkerID != workerID || !s.Open() {
			continue
		}
		out, h := at, hours
		s.CheckOut, s.TotalHours = &out, &h
		m.logs = append(m.logs, entry)
		return nil
	}
	return ErrConflict
}

func (m *MemoryStore) ListShifts(_ context.Context, f ShiftFilter) ([]Shift, error) {
	m.mu.Lock()
	var out []Shift
	for _, s := range m.shifts {
		if f.WorkerID != "" && s.WorkerID != f.WorkerID {
			continue
		}
		if f.ZoneID != "" && s.ZoneID != f.ZoneID {
			continue
		}
		if f.OpenOnly && !s.Open() {
			continue
		}
		out = append(out, s)
	}
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CheckIn.After(out[j].CheckIn) })
	limit, offset := page(f.Limit, f.Offset)
	return window(out, limit, offset), nil
}

func (m *MemoryStore) ListLogs(_ context.Context, f LogFilter) ([]LogEntry, error) {
	m.mu.Lock()
	var out []LogEntry
	for _, e := range m.logs {
		if f.WorkerID != "" && e.WorkerID != f.WorkerID {
			continue
		}
		if f.DeviceID != "" && e.DeviceID.String() != f.DeviceID {
			continue
		}
		out = append(out, e)
	}
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	limit, offset := page(f.Limit, f.Offset)
	return window(out, limit, offset), nil
}

func (m *MemoryStore) OpenShifts(_ context.Context, zoneID string) ([]Shift, error) {
	m.mu.Lock()
	var out []Shift
	for _, s := range m.shifts {
		if s.Open() && (zoneID == "" || s.ZoneID == zoneID) {
			out = append(out, s)
		}
	}
	m.mu.Unlock()
	return out, nil
}

// Shifts returns a copy of every stored shift.
func (m *MemoryStore) Shifts() []Shift {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Shift(nil), m.shifts...)
}

// Logs returns a copy of every stored log entry.
func (m *MemoryStore) Logs() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry(nil), m.logs...)
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
