package prompts_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/HemantKumar01/SoulScript/internal/prompts"
	"github.com/HemantKumar01/SoulScript/pkg/live"
)

// ── Defaults ──────────────────────────────────────────────────────────────────

func TestDefaults_FullCatalogWithThreeActive(t *testing.T) {
	t.Parallel()

	defaults := prompts.Defaults()
	if len(defaults) != prompts.CatalogSize() {
		t.Fatalf("got %d prompts, want %d", len(defaults), prompts.CatalogSize())
	}

	active := 0
	for i, p := range defaults {
		if p.Weight != 0 {
			if p.Weight != 1 {
				t.Errorf("active prompt %s has weight %v, want 1", p.ID, p.Weight)
			}
			active++
		}
		if p.CC != i {
			t.Errorf("prompt %d bound to cc %d, want %d", i, p.CC, i)
		}
		if p.Text == "" || p.Color == "" || p.ID == "" {
			t.Errorf("prompt %d has empty fields: %+v", i, p)
		}
	}
	if active != 3 {
		t.Errorf("got %d active prompts, want 3", active)
	}
}

func TestDefaults_StableIDsAcrossCalls(t *testing.T) {
	t.Parallel()

	a, b := prompts.Defaults(), prompts.Defaults()
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Text != b[i].Text {
			t.Fatalf("catalog order unstable at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

// ── Synchronizer state ────────────────────────────────────────────────────────

// newSync builds a synchronizer with fast limiter timings for tests.
func newSync(t *testing.T) *prompts.Synchronizer {
	t.Helper()
	s := prompts.NewSynchronizer(prompts.Config{
		MinInterval: 30 * time.Millisecond,
		SettleDelay: 10 * time.Millisecond,
	})
	t.Cleanup(s.Close)
	return s
}

// collectSink records pushed prompt sets.
type collectSink struct {
	mu     sync.Mutex
	pushes [][]live.WeightedPrompt
}

func (c *collectSink) sink(ps []live.WeightedPrompt) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushes = append(c.pushes, ps)
	return nil
}

func (c *collectSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pushes)
}

func (c *collectSink) last() []live.WeightedPrompt {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pushes) == 0 {
		return nil
	}
	return c.pushes[len(c.pushes)-1]
}

func TestSetWeight_UpdatesSnapshot(t *testing.T) {
	t.Parallel()

	s := newSync(t)
	if err := s.SetWeight("prompt-0", 1.5); err != nil {
		t.Fatalf("SetWeight: %v", err)
	}

	snap := s.Snapshot()
	if snap[0].Weight != 1.5 {
		t.Errorf("weight = %v, want 1.5", snap[0].Weight)
	}
}

func TestSetWeight_RejectsOutOfRange(t *testing.T) {
	t.Parallel()

	s := newSync(t)
	if err := s.SetWeight("prompt-0", -0.1); err == nil {
		t.Error("expected error for negative weight")
	}
	if err := s.SetWeight("prompt-0", 2.1); err == nil {
		t.Error("expected error for weight above 2")
	}
	if err := s.SetWeight("no-such-prompt", 1); err == nil {
		t.Error("expected error for unknown prompt")
	}
}

func TestSetWeight_SubEpsilonChangeIsNoOp(t *testing.T) {
	t.Parallel()

	s := newSync(t)
	var c collectSink
	s.SetSink(c.sink)

	if err := s.SetWeight("prompt-0", 1.0); err != nil {
		t.Fatalf("SetWeight: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	before := c.count()

	// A change below the epsilon threshold must not schedule a push.
	if err := s.SetWeight("prompt-0", 1.0005); err != nil {
		t.Fatalf("SetWeight: %v", err)
	}
	time.Sleep(80 * time.Millisecond)

	if got := c.count(); got != before {
		t.Errorf("sub-epsilon change triggered %d extra pushes", got-before)
	}
	if w := s.Snapshot()[0].Weight; w != 1.0 {
		t.Errorf("weight = %v, want unchanged 1.0", w)
	}
}

func TestBurstOfWeightChangesCoalesces(t *testing.T) {
	t.Parallel()

	s := newSync(t)
	var c collectSink
	s.SetSink(c.sink)

	for i := range 20 {
		_ = s.SetWeight("prompt-1", float64(i)/10)
	}
	time.Sleep(80 * time.Millisecond)

	if got := c.count(); got != 1 {
		t.Errorf("burst produced %d pushes, want 1", got)
	}
	// Last write wins inside the burst.
	for _, p := range c.last() {
		if p.Text == s.Snapshot()[1].Text && p.Weight != 1.9 {
			t.Errorf("pushed weight %v, want final 1.9", p.Weight)
		}
	}
}

func TestActive_ExcludesZeroWeightAndFiltered(t *testing.T) {
	t.Parallel()

	s := newSync(t)
	// Zero everything, then raise two known prompts.
	for _, p := range s.Snapshot() {
		_ = s.SetWeight(p.ID, 0)
	}
	_ = s.SetWeight("prompt-2", 1)
	_ = s.SetWeight("prompt-3", 0.5)

	snap := s.Snapshot()
	s.MarkFiltered(snap[3].Text, "safety")

	active := s.Active()
	if len(active) != 1 {
		t.Fatalf("got %d active prompts, want 1: %+v", len(active), active)
	}
	if active[0].Text != snap[2].Text || active[0].Weight != 1 {
		t.Errorf("active[0] = %+v", active[0])
	}

	if reason, ok := s.FilterReason(snap[3].Text); !ok || reason != "safety" {
		t.Errorf("FilterReason = %q/%v, want safety/true", reason, ok)
	}
}

func TestHasActive(t *testing.T) {
	t.Parallel()

	s := newSync(t)
	if !s.HasActive() {
		t.Fatal("defaults should include active prompts")
	}
	for _, p := range s.Snapshot() {
		_ = s.SetWeight(p.ID, 0)
	}
	if s.HasActive() {
		t.Fatal("all-zero set should report no active prompts")
	}
}

func TestControlChange_MapsMIDIRangeOntoWeights(t *testing.T) {
	t.Parallel()

	s := newSync(t)
	s.ControlChange(4, 127)
	if w := s.Snapshot()[4].Weight; w != 2 {
		t.Errorf("cc value 127 mapped to weight %v, want 2", w)
	}

	s.ControlChange(4, 0)
	if w := s.Snapshot()[4].Weight; w != 0 {
		t.Errorf("cc value 0 mapped to weight %v, want 0", w)
	}

	// Unbound channels are ignored.
	s.ControlChange(99, 64)
}

func TestResetAll_RestoresDefaultsAndClearsFilters(t *testing.T) {
	t.Parallel()

	s := newSync(t)
	snap := s.Snapshot()
	s.MarkFiltered(snap[0].Text, "safety")
	for _, p := range snap {
		_ = s.SetWeight(p.ID, 0)
	}

	s.ResetAll()

	active := 0
	for _, p := range s.Snapshot() {
		if p.Weight != 0 {
			active++
		}
	}
	if active != 3 {
		t.Errorf("after reset got %d active prompts, want 3", active)
	}
	if _, ok := s.FilterReason(snap[0].Text); ok {
		t.Error("reset should clear server filters")
	}
}

func TestResetAll_DoesNotPush(t *testing.T) {
	t.Parallel()

	s := newSync(t)
	var c collectSink
	s.SetSink(c.sink)

	s.ResetAll()

	time.Sleep(100 * time.Millisecond)
	if c.count() != 0 {
		t.Fatalf("ResetAll produced %d pushes, want 0", c.count())
	}
}

func TestFlush_PushesImmediately(t *testing.T) {
	t.Parallel()

	s := prompts.NewSynchronizer(prompts.Config{
		MinInterval: time.Hour,
		SettleDelay: time.Hour,
	})
	t.Cleanup(s.Close)

	var c collectSink
	s.SetSink(c.sink)

	s.Flush()
	if c.count() != 1 {
		t.Fatalf("Flush produced %d pushes, want 1", c.count())
	}
}

// ── Store seeding ─────────────────────────────────────────────────────────────

// memStore is an in-memory prompts.Store.
type memStore struct {
	mu    sync.Mutex
	sets  map[string][]prompts.Prompt
	fail  error
	saves int
}

func (m *memStore) Save(_ context.Context, userID string, ps []prompts.Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if m.sets == nil {
		m.sets = make(map[string][]prompts.Prompt)
	}
	cp := make([]prompts.Prompt, len(ps))
	copy(cp, ps)
	m.sets[userID] = cp
	m.saves++
	return nil
}

func (m *memStore) Load(_ context.Context, userID string) ([]prompts.Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	return m.sets[userID], nil
}

func TestNewSynchronizer_SeedsFromStore(t *testing.T) {
	t.Parallel()

	saved := prompts.Defaults()
	saved[0].Weight = 1.7
	store := &memStore{sets: map[string][]prompts.Prompt{"u1": saved}}

	s := prompts.NewSynchronizer(prompts.Config{UserID: "u1", Store: store})
	t.Cleanup(s.Close)

	if w := s.Snapshot()[0].Weight; w != 1.7 {
		t.Errorf("weight = %v, want restored 1.7", w)
	}
}

func TestNewSynchronizer_StoreErrorFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	store := &memStore{fail: context.DeadlineExceeded}
	s := prompts.NewSynchronizer(prompts.Config{UserID: "u1", Store: store})
	t.Cleanup(s.Close)

	if len(s.Snapshot()) != prompts.CatalogSize() {
		t.Error("expected defaults when store fails")
	}
}

func TestSetWeight_PersistsToStore(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	s := prompts.NewSynchronizer(prompts.Config{UserID: "u1", Store: store})
	t.Cleanup(s.Close)

	if err := s.SetWeight("prompt-0", 1.2); err != nil {
		t.Fatalf("SetWeight: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.saves == 0 {
		t.Fatal("expected weight change to persist")
	}
	if got := store.sets["u1"][0].Weight; got != 1.2 {
		t.Errorf("persisted weight = %v, want 1.2", got)
	}
}
