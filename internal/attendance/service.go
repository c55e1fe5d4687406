package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Ledger is the storage the tap path needs. CheckIn and CheckOut each pair the
// shift write with its log append atomically and report ErrConflict when the
// conditional write loses a race.
type Ledger interface {
	DeviceByID(ctx context.Context, id uuid.UUID) (Device, error)
	ActiveCard(ctx context.Context, uid string) (Card, error)
	ActiveShift(ctx context.Context, workerID string) (*Shift, error)
	CheckIn(ctx context.Context, shift Shift, entry LogEntry) error
	CheckOut(ctx context.Context, shiftID, workerID string, at time.Time, hours float64, entry LogEntry) error
}

// Reader serves dashboards.
type Reader interface {
	ListShifts(ctx context.Context, f ShiftFilter) ([]Shift, error)
	ListLogs(ctx context.Context, f LogFilter) ([]LogEntry, error)
	OpenShifts(ctx context.Context, zoneID string) ([]Shift, error)
}

// Debouncer suppresses repeated reads of the same card. Release drops a claim
// whose tap was not recorded.
type Debouncer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Publisher receives recorded taps.
type Publisher interface {
	PublishTap(ctx context.Context, evt TapEvent) error
}

// Service decides whether a tap opens or closes a shift.
type Service struct {
	ledger    Ledger
	debouncer Debouncer
	window    time.Duration
	publisher Publisher
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDebounce rejects a second tap of the same card within window.
func WithDebounce(d Debouncer, window time.Duration) Option {
	return func(s *Service) {
		if d != nil && window > 0 {
			s.debouncer, s.window = d, window
		}
	}
}

// WithPublisher forwards every recorded tap to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// NewService creates a service backed by a ledger.
func NewService(ledger Ledger, opts ...Option) *Service {
	s := &Service{ledger: ledger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessTap authenticates the device, resolves the card and toggles the
// worker's shift. A lost write race is retried once against fresh state.
func (s *Service) ProcessTap(ctx context.Context, req TapRequest) (TapResult, error) {
	if req.DeviceID == uuid.Nil || strings.TrimSpace(req.CardUID) == "" {
		return TapResult{}, ErrInvalidTap
	}

	dev, err := s.authenticate(ctx, req.DeviceID, req.DeviceKey)
	if err != nil {
		return TapResult{}, err
	}

	card, err := s.ledger.ActiveCard(ctx, req.CardUID)
	if errors.Is(err, ErrNotFound) || (err == nil && !card.Active) {
		return TapResult{}, ErrInvalidCredential
	}
	if err != nil {
		return TapResult{}, fmt.Errorf("resolve card: %w", err)
	}

	claimed := false
	if s.debouncer != nil {
		fresh, err := s.debouncer.Claim(ctx, req.CardUID, s.window)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("rfid_uid", req.CardUID).Msg("tap debounce unavailable")
		case !fresh:
			return TapResult{}, ErrDuplicateTap
		default:
			claimed = true
		}
	}

	res, err := s.record(ctx, dev, card, req.CardUID)
	if err != nil {
		if claimed {
			s.release(ctx, req.CardUID)
		}
		return TapResult{}, err
	}
	s.publish(ctx, dev, res)
	return res, nil
}

// record toggles the shift. Each attempt takes its own clock reading.
func (s *Service) record(ctx context.Context, dev Device, card Card, uid string) (TapResult, error) {
	for attempt := 0; attempt < 2; attempt++ {
		now := s.now().UTC().Truncate(time.Millisecond)
		res, err := s.toggle(ctx, dev, card, uid, now)
		if errors.Is(err, ErrConflict) {
			log.Debug().Str("worker_id", card.WorkerID).Int("attempt", attempt+1).Msg("shift write lost race")
			continue
		}
		return res, err
	}
	return TapResult{}, ErrShiftConflict
}

func (s *Service) release(ctx context.Context, uid string) {
	if err := s.debouncer.Release(context.WithoutCancel(ctx), uid); err != nil {
		log.Warn().Err(err).Str("rfid_uid", uid).Msg("tap debounce release failed")
	}
}

func (s *Service) authenticate(ctx context.Context, id uuid.UUID, key string) (Device, error) {
	dev, err := s.ledger.DeviceByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// Unknown ids cost the same as a wrong key.
		_ = bcrypt.CompareHashAndPassword(decoyHash(), []byte(key))
		return Device{}, ErrUnauthorizedDevice
	}
	if err != nil {
		return Device{}, fmt.Errorf("load device: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(dev.APIKeyHash), []byte(key)) != nil {
		return Device{}, ErrUnauthorizedDevice
	}
	return dev, nil
}

func (s *Service) toggle(ctx context.Context, dev Device, card Card, uid string, now time.Time) (TapResult, error) {
	open, err := s.ledger.ActiveShift(ctx, card.WorkerID)
	if err != nil {
		return TapResult{}, fmt.Errorf("active shift lookup: %w", err)
	}

	entry := LogEntry{
		ID:       uuid.NewString(),
		WorkerID: card.WorkerID,
		DeviceID: dev.ID,
		RFIDUID:  uid,
		At:       now,
	}

	if open != nil {
		// A rival tap may have opened this shift with a later clock reading.
		if now.Before(open.CheckIn) {
			now = open.CheckIn
			entry.At = now
		}
		hours := ShiftHours(open.CheckIn, now)
		entry.Direction = DirectionOut
		if err := s.ledger.CheckOut(ctx, open.ID, card.WorkerID, now, hours, entry); err != nil {
			return TapResult{}, wrapWrite("check out", err)
		}
		return TapResult{
			Action:   ActionCheckOut,
			WorkerID: card.WorkerID,
			ShiftID:  open.ID,
			ZoneID:   open.ZoneID,
			At:       now,
			Hours:    &hours,
		}, nil
	}

	shift := Shift{
		ID:       uuid.NewString(),
		WorkerID: card.WorkerID,
		ZoneID:   dev.ZoneID,
		CheckIn:  now,
	}
	entry.Direction = DirectionIn
	if err := s.ledger.CheckIn(ctx, shift, entry); err != nil {
		return TapResult{}, wrapWrite("check in", err)
	}
	return TapResult{
		Action:   ActionCheckIn,
		WorkerID: card.WorkerID,
		ShiftID:  shift.ID,
		ZoneID:   shift.ZoneID,
		At:       now,
	}, nil
}

func wrapWrite(op string, err error) error {
	if errors.Is(err, ErrConflict) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) publish(ctx context.Context, dev Device, res TapResult) {
	if s.publisher == nil {
		return
	}
	evt := TapEvent{
		Action:   res.Action,
		WorkerID: res.WorkerID,
		ShiftID:  res.ShiftID,
		ZoneID:   res.ZoneID,
		DeviceID: dev.ID,
		At:       res.At,
	}
	if err := s.publisher.PublishTap(ctx, evt); err != nil {
		log.Error().Err(err).Str("shift_id", res.ShiftID).Msg("tap event publish failed")
	}
}

// HashDeviceKey returns the bcrypt hash stored for a device API key.
func HashDeviceKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("device key required")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

var (
	decoyOnce sync.Once
	decoy     []byte
)

func decoyHash() []byte {
	decoyOnce.Do(func() {
		decoy, _ = bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	})
	return decoy
}
