package attendance

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Direction is the tap direction stored in the attendance log.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Action is the outcome reported to the device.
type Action string

const (
	ActionCheckIn  Action = "CHECK-IN"
	ActionCheckOut Action = "CHECK-OUT"
)

// Device is a registered attendance terminal.
type Device struct {
	ID         uuid.UUID
	APIKeyHash string
	ZoneID     string
}

// Card binds a physical RFID tag to a worker.
type Card struct {
	UID      string
	WorkerID string
	Active   bool
}

// Shift is one continuous work period. CheckOut is nil while the shift is open.
type Shift struct {
	ID         string     `json:"id"`
	WorkerID   string     `json:"worker_id"`
	ZoneID     string     `json:"zone_id,omitempty"`
	CheckIn    time.Time  `json:"check_in_time"`
	CheckOut   *time.Time `json:"check_out_time"`
	TotalHours *float64   `json:"total_hours"`
}

// Open reports whether the shift has not been closed yet.
func (s Shift) Open() bool { return s.CheckOut == nil }

// LogEntry is an append-only record of a single tap.
type LogEntry struct {
	ID        string    `json:"id"`
	WorkerID  string    `json:"worker_id"`
	DeviceID  uuid.UUID `json:"device_id"`
	RFIDUID   string    `json:"rfid_uid"`
	Direction Direction `json:"tap_type"`
	At        time.Time `json:"timestamp"`
}

// TapRequest is one scan submitted by a device.
type TapRequest struct {
	DeviceID  uuid.UUID
	DeviceKey string
	CardUID   string
}

// TapResult describes what a tap did.
type TapResult struct {
	Action   Action
	WorkerID string
	ShiftID  string
	ZoneID   string
	At       time.Time
	// Hours is set on check-out only.
	Hours *float64
}

// TapEvent is published after a tap has been recorded.
type TapEvent struct {
	Action   Action    `json:"action"`
	WorkerID string    `json:"worker_id"`
	ShiftID  string    `json:"shift_id"`
	ZoneID   string    `json:"zone_id,omitempty"`
	DeviceID uuid.UUID `json:"device_id"`
	At       time.Time `json:"at"`
}

// ShiftFilter narrows ListShifts.
type ShiftFilter struct {
	WorkerID string
	ZoneID   string
	OpenOnly bool
	Limit    int
	Offset   int
}

// LogFilter narrows ListLogs.
type LogFilter struct {
	WorkerID string
	DeviceID string
	Limit    int
	Offset   int
}

const defaultPageSize = 50

func page(limit, offset int) (int, int) {
	if limit <= 0 || limit > 500 {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ShiftHours returns the elapsed time between in and out in hours, rounded to
// two decimals. Negative spans caused by clock skew count as zero.
func ShiftHours(in, out time.Time) float64 {
	d := out.Sub(in)
	if d < 0 {
		return 0
	}
	return math.Round(d.Hours()*100) / 100
}
