// Package reschedule owns the lifecycle of SMS reschedule conversations: one
// pending negotiation per phone number, offered slots, and timeout-driven expiry.
package reschedule

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/medspa-sms-coordinator/internal/messaging"
	"github.com/wolfman30/medspa-sms-coordinator/internal/observability/metrics"
	"github.com/wolfman30/medspa-sms-coordinator/pkg/logging"
)

const (
	DefaultTimeout      = 10 * time.Minute
	DefaultRetention    = 24 * time.Hour
	DefaultStoreTimeout = 2 * time.Second

	lockStripes = 64
	sweepBatch  = 100
)

var (
	ErrInvalidPhone     = errors.New("reschedule: invalid phone number")
	ErrNoSlots          = errors.New("reschedule: at least one slot must be offered")
	ErrTooManySlots     = errors.New("reschedule: too many slots offered")
	ErrInvalidSlotIndex = errors.New("reschedule: slot index must be unique and between 1 and 5")
)

// Config tunes a Registry.
type Config struct {
	// Timeout is the default selection window.
	Timeout time.Duration
	// Retention is how long a resolved key keeps answering Status.
	Retention time.Duration
	// StoreTimeout bounds each store call made while a phone's lock is held.
	StoreTimeout time.Duration
	Now          func() time.Time
	Metrics      *metrics.RescheduleMetrics
}

type armedTimer struct {
	id    uuid.UUID
	timer *time.Timer
}

// Registry is the conversation state machine. All operations for one phone
// number are serialized; expiry, lazy expiry and the sweeper share the same
// compare-and-transition as Confirm and Cancel.
type Registry struct {
	store  Store
	cfg    Config
	logger *logging.Logger
	tracer trace.Tracer

	stripes [lockStripes]sync.Mutex

	timersMu sync.Mutex
	timers   map[string]armedTimer
}

// NewRegistry creates a Registry over store.
func NewRegistry(store Store, cfg Config, logger *logging.Logger) *Registry {
	if store == nil {
		panic("reschedule: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		store:  store,
		cfg:    cfg,
		logger: logger.WithComponent("reschedule"),
		tracer: otel.Tracer("medspa.internal.reschedule"),
		timers: make(map[string]armedTimer),
	}
}

func (r *Registry) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &r.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// bounded caps store work done while a stripe lock is held.
func (r *Registry) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.StoreTimeout)
}

// Start opens a conversation for phone, replacing any prior one. A zero
// timeout uses the configured default. Slots with a zero Index are numbered by
// position.
func (r *Registry) Start(ctx context.Context, phone string, appt Appointment, slots []OfferedSlot, timeout time.Duration) (*Conversation, error) {
	key := messaging.NormalizeDigits(phone)
	if key == "" {
		return nil, ErrInvalidPhone
	}
	offered, err := numberSlots(slots)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}

	ctx, span := r.tracer.Start(ctx, "reschedule.start")
	defer span.End()

	unlock := r.lock(key)
	defer unlock()
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	now := r.cfg.Now()
	conv := &Conversation{
		ID:          uuid.New(),
		Phone:       key,
		Appointment: appt,
		Slots:       offered,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(timeout),
	}
	span.SetAttributes(
		attribute.String("conversation.id", conv.ID.String()),
		attribute.Int("conversation.slots", len(offered)),
	)

	if err := r.store.Save(ctx, conv, timeout+r.cfg.Retention); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("reschedule: start: %w", err)
	}
	r.arm(key, conv.ID, timeout)
	r.cfg.Metrics.ObserveOutcome("started")
	r.logger.Info("reschedule conversation started",
		"phone", messaging.MaskPhone(key),
		"conversation_id", conv.ID.String(),
		"appointment_id", appt.ID,
		"slots", len(offered),
		"expires_at", conv.ExpiresAt,
	)
	return conv.clone(), nil
}

// Get returns the pending conversation for phone, or nil. An overdue
// conversation is expired on read.
func (r *Registry) Get(ctx context.Context, phone string) *Conversation {
	key := messaging.NormalizeDigits(phone)
	if key == "" {
		return nil
	}
	unlock := r.lock(key)
	defer unlock()
	ctx, cancel := r.bounded(ctx)
	defer cancel()
	return r.active(ctx, key)
}

// active must be called with the key's stripe held.
func (r *Registry) active(ctx context.Context, key string) *Conversation {
	conv, err := r.store.Load(ctx, key)
	if err != nil {
		r.logger.Error("reschedule: load failed", "phone", messaging.MaskPhone(key), "error", err)
		return nil
	}
	if conv == nil || conv.Status != StatusPending {
		return nil
	}
	if r.cfg.Now().After(conv.ExpiresAt) {
		r.expire(ctx, key, conv.ID, "lazy")
		return nil
	}
	return conv
}

// ResolveSlot returns the offered slot with the given index from the pending
// conversation, or nil.
func (r *Registry) ResolveSlot(ctx context.Context, phone string, index int) *OfferedSlot {
	return r.Get(ctx, phone).Slot(index)
}

// Confirm moves the pending conversation to confirmed. The record stays
// addressable through Status until Cancel or the retention window removes it.
func (r *Registry) Confirm(ctx context.Context, phone string) bool {
	key := messaging.NormalizeDigits(phone)
	if key == "" {
		return false
	}
	ctx, span := r.tracer.Start(ctx, "reschedule.confirm")
	defer span.End()

	unlock := r.lock(key)
	defer unlock()
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	conv := r.active(ctx, key)
	if conv == nil {
		return false
	}
	ok, err := r.store.Transition(ctx, key, Transition{
		ID:     conv.ID,
		From:   StatusPending,
		To:     StatusConfirmed,
		Retain: r.cfg.Retention,
	})
	if err != nil {
		span.RecordError(err)
		r.logger.Error("reschedule: confirm failed", "phone", messaging.MaskPhone(key), "error", err)
		return false
	}
	if !ok {
		return false
	}
	span.SetAttributes(attribute.String("conversation.id", conv.ID.String()))
	r.disarm(key, conv.ID)
	r.cfg.Metrics.ObserveOutcome(string(StatusConfirmed))
	r.logger.Info("reschedule conversation confirmed", "phone", messaging.MaskPhone(key), "conversation_id", conv.ID.String())
	return true
}

// Cancel removes the conversation stored under phone in any status and
// reports whether one existed.
func (r *Registry) Cancel(ctx context.Context, phone string) bool {
	key := messaging.NormalizeDigits(phone)
	if key == "" {
		return false
	}
	ctx, span := r.tracer.Start(ctx, "reschedule.cancel")
	defer span.End()

	unlock := r.lock(key)
	defer unlock()
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	conv, err := r.store.Load(ctx, key)
	if err != nil {
		span.RecordError(err)
		r.logger.Error("reschedule: load failed", "phone", messaging.MaskPhone(key), "error", err)
		return false
	}
	if conv == nil {
		return false
	}
	ok, err := r.store.Transition(ctx, key, Transition{
		ID:     conv.ID,
		To:     StatusCancelled,
		Retain: r.cfg.Retention,
	})
	if err != nil {
		span.RecordError(err)
		r.logger.Error("reschedule: cancel failed", "phone", messaging.MaskPhone(key), "error", err)
		return false
	}
	if !ok {
		return false
	}
	r.disarm(key, conv.ID)
	r.cfg.Metrics.ObserveOutcome(string(StatusCancelled))
	r.logger.Info("reschedule conversation cancelled",
		"phone", messaging.MaskPhone(key),
		"conversation_id", conv.ID.String(),
		"previous_status", string(conv.Status),
	)
	return true
}

// Status reports the last known status for phone, including resolved
// conversations still inside the retention window.
func (r *Registry) Status(ctx context.Context, phone string) (Status, bool) {
	key := messaging.NormalizeDigits(phone)
	if key == "" {
		return "", false
	}
	unlock := r.lock(key)
	defer unlock()
	ctx, cancel := r.bounded(ctx)
	defer cancel()

	status, ok, err := r.store.Status(ctx, key)
	if err != nil {
		r.logger.Error("reschedule: status failed", "phone", messaging.MaskPhone(key), "error", err)
		return "", false
	}
	return status, ok
}

// SweepExpired expires every overdue pending conversation and returns how
// many it moved. It covers timers lost across restarts or held by other replicas.
func (r *Registry) SweepExpired(ctx context.Context) (int, error) {
	due, err := r.store.Overdue(ctx, r.cfg.Now(), sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("reschedule: sweep: %w", err)
	}
	expired := 0
	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		unlock := r.lock(d.Phone)
		itemCtx, cancel := r.bounded(ctx)
		if r.expire(itemCtx, d.Phone, d.ID, "sweep") {
			expired++
		}
		cancel()
		unlock()
	}
	return expired, nil
}

// expire must be called with the key's stripe held.
func (r *Registry) expire(ctx context.Context, key string, id uuid.UUID, trigger string) bool {
	ctx, span := r.tracer.Start(ctx, "reschedule.expire")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", id.String()),
		attribute.String("expiry.trigger", trigger),
	)

	ok, err := r.store.Transition(ctx, key, Transition{
		ID:     id,
		From:   StatusPending,
		To:     StatusExpired,
		Retain: r.cfg.Retention,
	})
	if err != nil {
		span.RecordError(err)
		r.logger.Error("reschedule: expire failed", "phone", messaging.MaskPhone(key), "error", err)
		return false
	}
	if !ok {
		return false
	}
	r.disarm(key, id)
	r.cfg.Metrics.ObserveOutcome(string(StatusExpired))
	r.logger.Info("reschedule conversation expired",
		"phone", messaging.MaskPhone(key),
		"conversation_id", id.String(),
		"trigger", trigger,
	)
	return true
}

func (r *Registry) arm(key string, id uuid.UUID, timeout time.Duration) {
	t := time.AfterFunc(timeout, func() {
		unlock := r.lock(key)
		defer unlock()
		ctx, cancel := r.bounded(context.Background())
		defer cancel()
		r.expire(ctx, key, id, "timer")
		r.disarm(key, id)
	})

	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	if prev, ok := r.timers[key]; ok {
		prev.timer.Stop()
		r.cfg.Metrics.DecActive()
	}
	r.timers[key] = armedTimer{id: id, timer: t}
	r.cfg.Metrics.IncActive()
}

// disarm stops the timer for key if it still belongs to conversation id.
func (r *Registry) disarm(key string, id uuid.UUID) {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	cur, ok := r.timers[key]
	if !ok || cur.id != id {
		return
	}
	cur.timer.Stop()
	delete(r.timers, key)
	r.cfg.Metrics.DecActive()
}

// Close stops all pending timers. Stored conversations are left for the sweeper.
func (r *Registry) Close() {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	for key, t := range r.timers {
		t.timer.Stop()
		delete(r.timers, key)
		r.cfg.Metrics.DecActive()
	}
}

func numberSlots(slots []OfferedSlot) ([]OfferedSlot, error) {
	if len(slots) == 0 {
		return nil, ErrNoSlots
	}
	if len(slots) > MaxSlots {
		return nil, ErrTooManySlots
	}
	out := make([]OfferedSlot, len(slots))
	seen := make(map[int]bool, len(slots))
	for i, s := range slots {
		if s.Index == 0 {
			s.Index = i + 1
		}
		if s.Index < 1 || s.Index > MaxSlots || seen[s.Index] {
			return nil, ErrInvalidSlotIndex
		}
		seen[s.Index] = true
		out[i] = s
	}
	return out, nil
}
