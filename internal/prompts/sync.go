package prompts

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/HemantKumar01/SoulScript/pkg/coalesce"
	"github.com/HemantKumar01/SoulScript/pkg/live"
)

// Push pacing: knob twists arrive far faster than the backend wants prompt
// updates, so deliveries are throttled and debounced.
const (
	DefaultMinInterval = 200 * time.Millisecond
	DefaultSettleDelay = 100 * time.Millisecond

	persistTimeout = 3 * time.Second
)

// Sink receives the active prompt set on each coalesced push. The session
// manager points it at the current live session.
type Sink func(prompts []live.WeightedPrompt) error

// Store persists prompt state across sessions.
type Store interface {
	// Save writes the full prompt set for a user.
	Save(ctx context.Context, userID string, prompts []Prompt) error

	// Load returns the saved prompt set, or (nil, nil) when none exists.
	Load(ctx context.Context, userID string) ([]Prompt, error)
}

// Config carries the dependencies for [NewSynchronizer].
type Config struct {
	// UserID scopes persistence. Required when Store is set.
	UserID string

	// Store persists prompt state. Optional; persistence is best-effort.
	Store Store

	// MinInterval and SettleDelay tune the push rate limiter. Zero values
	// take the defaults.
	MinInterval time.Duration
	SettleDelay time.Duration
}

// Synchronizer owns the canonical prompt state and rate-limits pushes of the
// active subset to the live session. Safe for concurrent use.
type Synchronizer struct {
	store  Store
	userID string

	mu       sync.Mutex
	prompts  []Prompt
	filtered map[string]string // prompt text -> filter reason
	sink     Sink

	limiter *coalesce.Limiter
}

// NewSynchronizer builds a synchronizer seeded from the store when a saved
// set exists, falling back to [Defaults].
func NewSynchronizer(cfg Config) *Synchronizer {
	s := &Synchronizer{
		store:    cfg.Store,
		userID:   cfg.UserID,
		filtered: make(map[string]string),
	}

	minInterval := cfg.MinInterval
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	settleDelay := cfg.SettleDelay
	if settleDelay <= 0 {
		settleDelay = DefaultSettleDelay
	}
	s.limiter = coalesce.NewLimiter(minInterval, settleDelay, s.push)

	s.prompts = s.restore()
	return s
}

func (s *Synchronizer) restore() []Prompt {
	if s.store == nil {
		return Defaults()
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	saved, err := s.store.Load(ctx, s.userID)
	if err != nil {
		slog.Warn("prompts: restore failed, using defaults", "user", s.userID, "error", err)
		return Defaults()
	}
	if len(saved) == 0 {
		return Defaults()
	}
	return saved
}

// SetSink registers the push target. A nil sink detaches; pushes become
// no-ops until a new sink is set.
func (s *Synchronizer) SetSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Snapshot returns a copy of the full prompt set, catalog order.
func (s *Synchronizer) Snapshot() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Prompt, len(s.prompts))
	copy(out, s.prompts)
	return out
}

// SetWeight updates one prompt's weight and schedules a coalesced push.
// Changes smaller than [WeightEpsilon] are dropped without touching the rate
// limiter. Weights outside [0, MaxWeight] are rejected.
func (s *Synchronizer) SetWeight(id string, weight float64) error {
	if weight < 0 || weight > MaxWeight {
		return fmt.Errorf("prompts: weight %v out of range [0, %v]", weight, MaxWeight)
	}

	s.mu.Lock()
	idx := -1
	for i := range s.prompts {
		if s.prompts[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("prompts: unknown prompt %q", id)
	}
	if math.Abs(s.prompts[idx].Weight-weight) < WeightEpsilon {
		s.mu.Unlock()
		return nil
	}
	s.prompts[idx].Weight = weight
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(snapshot)
	s.limiter.Schedule()
	return nil
}

// ControlChange maps a MIDI control value (0..127) onto the bound prompt's
// weight. Unbound channels are ignored.
func (s *Synchronizer) ControlChange(cc, value int) {
	value = min(max(value, 0), midiMax)

	s.mu.Lock()
	var id string
	for i := range s.prompts {
		if s.prompts[i].CC == cc {
			id = s.prompts[i].ID
			break
		}
	}
	s.mu.Unlock()

	if id == "" {
		return
	}
	weight := float64(value) / midiMax * MaxWeight
	if err := s.SetWeight(id, weight); err != nil {
		slog.Warn("prompts: control change rejected", "cc", cc, "value", value, "error", err)
	}
}

// MarkFiltered records a server-rejected prompt. Filtered prompts keep their
// weight for display but are excluded from pushes.
func (s *Synchronizer) MarkFiltered(text, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filtered[text] = reason
}

// FilterReason returns the server's reason for filtering a prompt, if any.
func (s *Synchronizer) FilterReason(text string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason, ok := s.filtered[text]
	return reason, ok
}

// Active returns the prompts that reach the wire: non-zero weight and not
// filtered by the server.
func (s *Synchronizer) Active() []live.WeightedPrompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *Synchronizer) activeLocked() []live.WeightedPrompt {
	var out []live.WeightedPrompt
	for _, p := range s.prompts {
		if p.Weight == 0 {
			continue
		}
		if _, filtered := s.filtered[p.Text]; filtered {
			continue
		}
		out = append(out, live.WeightedPrompt{Text: p.Text, Weight: p.Weight})
	}
	return out
}

// HasActive reports whether at least one prompt would reach the wire.
func (s *Synchronizer) HasActive() bool {
	return len(s.Active()) > 0
}

// ResetAll replaces the prompt set with fresh defaults and clears server
// filters. No push is scheduled; the next weight change carries the new set
// to the session.
func (s *Synchronizer) ResetAll() {
	s.mu.Lock()
	s.prompts = Defaults()
	s.filtered = make(map[string]string)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(snapshot)
}

// Flush pushes the active set immediately, bypassing the rate limiter. Used
// after a reconnect to restore server-side prompt state.
func (s *Synchronizer) Flush() {
	s.push()
}

// Close stops the rate limiter. Pending pushes are dropped.
func (s *Synchronizer) Close() {
	s.limiter.Stop()
}

func (s *Synchronizer) snapshotLocked() []Prompt {
	out := make([]Prompt, len(s.prompts))
	copy(out, s.prompts)
	return out
}

// push delivers the current active set to the sink. Runs on the limiter's
// timer goroutine or on Flush callers.
func (s *Synchronizer) push() {
	s.mu.Lock()
	sink := s.sink
	active := s.activeLocked()
	s.mu.Unlock()

	if sink == nil {
		return
	}
	if err := sink(active); err != nil {
		slog.Warn("prompts: push failed", "count", len(active), "error", err)
	}
}

func (s *Synchronizer) persist(snapshot []Prompt) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.Save(ctx, s.userID, snapshot); err != nil {
		slog.Warn("prompts: persist failed", "user", s.userID, "error", err)
	}
}
