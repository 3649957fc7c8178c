// Package session manages the lifecycle of live generative audio sessions.
//
// The [Manager] owns the music session connection: it dials on demand, settles
// the connection before pushing the prompt set, drives the playback state
// machine, and surfaces connection failures to the listener. A failed
// connection is never retried automatically; the listener restarts playback
// explicitly, which opens a fresh session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HemantKumar01/SoulScript/internal/observe"
	"github.com/HemantKumar01/SoulScript/internal/prompts"
	"github.com/HemantKumar01/SoulScript/pkg/audio"
	"github.com/HemantKumar01/SoulScript/pkg/audio/scheduler"
	"github.com/HemantKumar01/SoulScript/pkg/live"
)

// DefaultSettleDelay bounds how long a fresh connection is given to
// acknowledge setup before the first prompt push is sent anyway.
const DefaultSettleDelay = time.Second

// Notices shown to the listener on well-known conditions.
const (
	// NoticeConnectionError is surfaced when the live session fails.
	NoticeConnectionError = "Connection error, please restart audio by refreshing the page."

	// NoticeNoActivePrompt is surfaced when playback is requested while no
	// prompt carries a non-zero weight.
	NoticeNoActivePrompt = "There needs to be one active prompt to play. Turn up a knob to resume playback."
)

// State is the playback state of the music session.
type State string

const (
	// StateStopped means no audio is playing and generation context is
	// discarded.
	StateStopped State = "stopped"

	// StateLoading means playback was requested and chunks are buffering
	// before audible output begins.
	StateLoading State = "loading"

	// StatePlaying means audio is audible.
	StatePlaying State = "playing"

	// StatePaused means playback is halted but generation context is
	// retained.
	StatePaused State = "paused"

	// StateError means the live session failed. Playback stays down until
	// the listener restarts it.
	StateError State = "error"
)

// Notifier surfaces user-facing notices (toasts in a UI, log lines in a
// headless deployment).
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to the [Notifier] interface.
type NotifierFunc func(message string)

// Notify calls f(message).
func (f NotifierFunc) Notify(message string) { f(message) }

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	// Dialer opens music sessions. Required.
	Dialer live.MusicDialer

	// Prompts is the weighted-prompt synchronizer whose active set steers
	// generation. Required.
	Prompts *prompts.Synchronizer

	// Output is the playback device. Required.
	Output audio.Output

	// Notifier receives user-facing notices. When nil, notices are logged.
	Notifier Notifier

	// Metrics records instrumentation. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Meter, when set, tracks the output level of scheduled audio.
	Meter *audio.Meter

	// SettleDelay bounds the wait for the setup acknowledgement after a
	// fresh connection. Defaults to [DefaultSettleDelay].
	SettleDelay time.Duration

	// BufferTime overrides the scheduler's priming look-ahead.
	BufferTime time.Duration

	// MusicConfig, when set, is pushed to every fresh session.
	MusicConfig *live.MusicConfig
}

// Manager drives a single music session and its playback state machine.
// All exported methods are safe for concurrent use.
type Manager struct {
	dialer      live.MusicDialer
	syncr       *prompts.Synchronizer
	out         audio.Output
	notifier    Notifier
	metrics     *observe.Metrics
	meter       *audio.Meter
	settleDelay time.Duration
	musicCfg    *live.MusicConfig

	sched *scheduler.Scheduler

	mu    sync.Mutex
	state State
	sess  live.MusicSession
	id    string
}

// NewManager creates a Manager. The prompt synchronizer's sink is bound to
// the manager so coalesced weight changes reach whichever session is live.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("session: dialer is required")
	}
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("session: prompt synchronizer is required")
	}
	if cfg.Output == nil {
		return nil, fmt.Errorf("session: audio output is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NotifierFunc(func(msg string) {
			slog.Info("notice", "message", msg)
		})
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}

	m := &Manager{
		dialer:      cfg.Dialer,
		syncr:       cfg.Prompts,
		out:         cfg.Output,
		notifier:    cfg.Notifier,
		metrics:     cfg.Metrics,
		meter:       cfg.Meter,
		settleDelay: cfg.SettleDelay,
		musicCfg:    cfg.MusicConfig,
		state:       StateStopped,
	}
	m.sched = scheduler.New(scheduler.Config{
		Output:     cfg.Output,
		BufferTime: cfg.BufferTime,
		Meter:      cfg.Meter,
		OnPlaying:  m.onPrimed,
		OnUnderrun: m.onUnderrun,
	})
	m.syncr.SetSink(m.pushPrompts)
	return m, nil
}

// State returns the current playback state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Level returns the most recent output level in [0, 1], or 0 when no meter
// is configured.
func (m *Manager) Level() float64 {
	if m.meter == nil {
		return 0
	}
	return m.meter.Level()
}

// PlayPause toggles playback: a loading session is stopped, a playing
// session is paused, and anything else starts playback.
func (m *Manager) PlayPause(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateLoading:
		return m.stopLocked()
	case StatePlaying:
		return m.pauseLocked()
	default:
		return m.playLocked(ctx)
	}
}

// Play starts or resumes playback, dialing a fresh session when none is
// live. Playback is refused (with a notice) while no prompt is active.
func (m *Manager) Play(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playLocked(ctx)
}

// Pause halts playback but keeps the session and its generation context.
func (m *Manager) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauseLocked()
}

// Stop halts playback and discards the generation context.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

// UpdateMusicConfig replaces the generation parameters and pushes them to
// the live session, if any.
func (m *Manager) UpdateMusicConfig(cfg live.MusicConfig) {
	m.mu.Lock()
	m.musicCfg = &cfg
	sess := m.sess
	m.mu.Unlock()

	if sess != nil {
		if err := sess.SetConfig(cfg); err != nil {
			slog.Warn("session: set config error", "err", err)
		}
	}
}

// ResetPrompts restores the default prompt set. The live session keeps its
// current prompts until the next weight change pushes the new set.
func (m *Manager) ResetPrompts() {
	m.syncr.ResetAll()
}

// Close terminates the live session, if any, and halts playback.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sched.Deactivate()
	m.out.SetGain(0, audio.GainRampDuration)
	var err error
	if m.sess != nil {
		err = m.sess.Close()
		m.sess = nil
	}
	m.state = StateStopped
	return err
}

// ── Playback state machine ──

func (m *Manager) playLocked(ctx context.Context) error {
	if !m.syncr.HasActive() {
		m.notifier.Notify(NoticeNoActivePrompt)
		if m.state == StatePlaying || m.state == StateLoading {
			return m.pauseLocked()
		}
		return nil
	}

	if m.sess == nil {
		if err := m.connectLocked(ctx); err != nil {
			m.state = StateError
			m.notifier.Notify(NoticeConnectionError)
			return fmt.Errorf("session: connect: %w", err)
		}
	}

	m.state = StateLoading
	if err := m.out.Resume(); err != nil {
		slog.Warn("session: output resume error", "session_id", m.id, "err", err)
	}
	m.sched.Activate()
	if err := m.sess.Play(); err != nil {
		return fmt.Errorf("session: play: %w", err)
	}
	m.out.SetGain(1, audio.GainRampDuration)
	slog.Info("playback starting", "session_id", m.id)
	return nil
}

func (m *Manager) pauseLocked() error {
	if m.sess != nil {
		if err := m.sess.Pause(); err != nil {
			slog.Warn("session: pause error", "session_id", m.id, "err", err)
		}
	}
	m.out.SetGain(0, audio.GainRampDuration)
	m.sched.Deactivate()
	m.state = StatePaused
	slog.Info("playback paused", "session_id", m.id)
	return nil
}

func (m *Manager) stopLocked() error {
	if m.sess != nil {
		if err := m.sess.Stop(); err != nil {
			slog.Warn("session: stop error", "session_id", m.id, "err", err)
		}
	}
	m.out.SetGain(0, audio.GainRampDuration)
	m.sched.Deactivate()
	if err := m.out.Suspend(); err != nil {
		slog.Warn("session: output suspend error", "session_id", m.id, "err", err)
	}
	m.state = StateStopped
	slog.Info("playback stopped", "session_id", m.id)
	return nil
}

// connectLocked dials a fresh session, waits for it to settle, and pushes
// the current prompt set and generation config.
func (m *Manager) connectLocked(ctx context.Context) error {
	id := uuid.NewString()
	sess, err := m.dialer.Connect(ctx, live.MusicCallbacks{
		OnAudio:          m.onAudio,
		OnFilteredPrompt: m.onFilteredPrompt,
		OnError:          m.onSessionError,
		OnClose:          m.onSessionClose,
	})
	if err != nil {
		m.metrics.RecordSessionError(ctx, "music")
		return err
	}
	m.sess = sess
	m.id = id
	m.metrics.ActiveMusicSessions.Add(ctx, 1)
	slog.Info("music session connected", "session_id", id)

	// Give the server a moment before the first prompt push. Prefer the
	// setup acknowledgement; fall back to a fixed settle delay.
	select {
	case <-sess.Ready():
	case <-time.After(m.settleDelay):
	case <-ctx.Done():
		_ = sess.Close()
		m.sess = nil
		m.metrics.ActiveMusicSessions.Add(context.Background(), -1)
		return ctx.Err()
	}

	if m.musicCfg != nil {
		if err := sess.SetConfig(*m.musicCfg); err != nil {
			slog.Warn("session: set config error", "session_id", id, "err", err)
		}
	}
	// Initial push goes straight to the fresh session rather than through the
	// coalescing sink, which would re-enter the manager lock.
	if err := sess.SetWeightedPrompts(m.syncr.Active()); err != nil {
		slog.Warn("session: initial prompt push error", "session_id", id, "err", err)
	}
	return nil
}

// ── Session callbacks ──

func (m *Manager) onAudio(buf audio.Buffer) {
	ctx := context.Background()
	if m.sched.Enqueue(buf) {
		m.metrics.RecordAudioChunk(ctx, "scheduled")
	} else {
		m.metrics.RecordAudioChunk(ctx, "dropped")
	}
}

func (m *Manager) onFilteredPrompt(text, reason string) {
	m.metrics.FilteredPrompts.Add(context.Background(), 1)
	m.syncr.MarkFiltered(text, reason)
	m.notifier.Notify(fmt.Sprintf("Prompt %q was filtered: %s", text, reason))
}

func (m *Manager) onSessionError(err error) {
	slog.Error("music session error", "session_id", m.sessionID(), "err", err)
	m.fail()
}

func (m *Manager) onSessionClose(err error) {
	if err == nil {
		// Locally initiated close; nothing to report.
		return
	}
	slog.Error("music session closed unexpectedly", "session_id", m.sessionID(), "err", err)
	m.fail()
}

// fail tears down playback after a session failure. The dead session is
// discarded so the next Play dials a fresh one; there is no automatic
// reconnect.
func (m *Manager) fail() {
	ctx := context.Background()
	m.metrics.RecordSessionError(ctx, "music")

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sched.Deactivate()
	m.out.SetGain(0, audio.GainRampDuration)
	if err := m.out.Suspend(); err != nil {
		slog.Warn("session: output suspend error", "session_id", m.id, "err", err)
	}
	if m.sess != nil {
		if err := m.sess.Close(); err != nil {
			slog.Warn("session: close error", "session_id", m.id, "err", err)
		}
		m.sess = nil
		m.metrics.ActiveMusicSessions.Add(ctx, -1)
	}
	m.state = StateError
	m.notifier.Notify(NoticeConnectionError)
}

// ── Scheduler callbacks ──

// onPrimed fires when the priming look-ahead has elapsed and audio is
// audible.
func (m *Manager) onPrimed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateLoading {
		m.state = StatePlaying
		slog.Info("playback started", "session_id", m.id)
	}
}

// onUnderrun fires when the stream fell behind the device clock; playback
// re-buffers.
func (m *Manager) onUnderrun() {
	m.metrics.Underruns.Add(context.Background(), 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StatePlaying {
		m.state = StateLoading
	}
}

// pushPrompts is the synchronizer sink: it forwards the active prompt set to
// the live session. An empty set is never transmitted; the listener is asked
// to turn a knob up instead.
func (m *Manager) pushPrompts(ps []live.WeightedPrompt) error {
	if len(ps) == 0 {
		m.notifier.Notify(NoticeNoActivePrompt)
		m.metrics.RecordPromptPush(context.Background(), "empty")
		return nil
	}

	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("session: no live session")
	}

	ctx := context.Background()
	start := time.Now()
	err := sess.SetWeightedPrompts(ps)
	m.metrics.PromptPushDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		m.metrics.RecordPromptPush(ctx, "error")
		return err
	}
	m.metrics.RecordPromptPush(ctx, "ok")
	return nil
}

func (m *Manager) sessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}
