package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/HemantKumar01/SoulScript/internal/observe"
	"github.com/HemantKumar01/SoulScript/internal/progress"
	"github.com/HemantKumar01/SoulScript/pkg/audio"
	"github.com/HemantKumar01/SoulScript/pkg/live"
)

// DefaultVoice is the prebuilt voice used for avatar speech.
const DefaultVoice = "Leda"

// AvatarManagerConfig holds all dependencies for an [AvatarManager].
type AvatarManagerConfig struct {
	// Dialer opens dialog sessions. Required.
	Dialer live.DialogDialer

	// Progress tracks intake interview progress and answers the
	// get_question tool. Required.
	Progress *progress.Controller

	// Voice overrides the prebuilt voice. Defaults to [DefaultVoice].
	Voice string

	// Metrics records instrumentation. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// AvatarManager opens per-user avatar conversations. The system instruction
// is chosen from the user's interview progress at connect time: users still
// inside the intake interview get the interviewing persona with the
// get_question tool, everyone else gets the open companion persona.
type AvatarManager struct {
	dialer   live.DialogDialer
	progress *progress.Controller
	voice    string
	metrics  *observe.Metrics

	mu      sync.Mutex
	active  map[string]*Avatar
	pending map[string]struct{}
}

// NewAvatarManager creates an AvatarManager.
func NewAvatarManager(cfg AvatarManagerConfig) (*AvatarManager, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("session: dialog dialer is required")
	}
	if cfg.Progress == nil {
		return nil, fmt.Errorf("session: progress controller is required")
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &AvatarManager{
		dialer:   cfg.Dialer,
		progress: cfg.Progress,
		voice:    cfg.Voice,
		metrics:  cfg.Metrics,
		active:   make(map[string]*Avatar),
		pending:  make(map[string]struct{}),
	}, nil
}

// Start opens an avatar conversation for the given user. At most one
// conversation per user is live at a time. The dial runs outside the manager
// lock; the user's slot is reserved first so concurrent Starts fail fast.
func (am *AvatarManager) Start(ctx context.Context, userID, userName string) (*Avatar, error) {
	am.mu.Lock()
	_, running := am.active[userID]
	_, dialing := am.pending[userID]
	if running || dialing {
		am.mu.Unlock()
		return nil, fmt.Errorf("session: avatar already active for user %s", userID)
	}
	am.pending[userID] = struct{}{}
	am.mu.Unlock()
	defer func() {
		am.mu.Lock()
		delete(am.pending, userID)
		am.mu.Unlock()
	}()

	id := uuid.NewString()
	instructions := am.progress.Instructions(ctx, userID, userName)
	handle := am.progress.HandleToolCall(ctx, userID)

	a := &Avatar{
		id:      id,
		userID:  userID,
		manager: am,
	}
	sess, err := am.dialer.Connect(ctx, live.DialogConfig{
		Instructions: instructions,
		Voice:        am.voice,
		Tools:        am.progress.ToolDefinitions(),
		OnToolCall: func(name, argsJSON string) (string, error) {
			result, err := handle(name, argsJSON)
			if err != nil {
				am.metrics.RecordToolCall(context.Background(), name, "error")
				return "", err
			}
			am.metrics.RecordToolCall(context.Background(), name, "ok")
			return result, nil
		},
		OnError: func(err error) {
			slog.Error("avatar session error", "session_id", id, "user", userID, "err", err)
			am.metrics.RecordSessionError(context.Background(), "dialog")
		},
		OnClose: a.onClose,
	})
	if err != nil {
		am.metrics.RecordSessionError(ctx, "dialog")
		return nil, fmt.Errorf("session: connect avatar: %w", err)
	}

	// The transport may report a close before the dial returns. Register
	// only a still-live avatar, or the map would hold a dead one forever.
	am.mu.Lock()
	a.sess = sess
	if a.dead {
		am.mu.Unlock()
		return nil, fmt.Errorf("session: avatar for user %s closed during connect", userID)
	}
	am.active[userID] = a
	a.registered = true
	am.mu.Unlock()

	am.metrics.ActiveDialogSessions.Add(ctx, 1)
	slog.Info("avatar session started", "session_id", id, "user", userID)
	return a, nil
}

// Get returns the active avatar for the given user, or nil.
func (am *AvatarManager) Get(userID string) *Avatar {
	am.mu.Lock()
	defer am.mu.Unlock()
	return am.active[userID]
}

// Stop closes the avatar conversation for the given user, if any.
func (am *AvatarManager) Stop(userID string) error {
	am.mu.Lock()
	a := am.active[userID]
	am.mu.Unlock()
	if a == nil {
		return fmt.Errorf("session: no active avatar for user %s", userID)
	}
	return a.Close()
}

// Close terminates all active avatar conversations.
func (am *AvatarManager) Close() error {
	am.mu.Lock()
	avatars := make([]*Avatar, 0, len(am.active))
	for _, a := range am.active {
		avatars = append(avatars, a)
	}
	am.mu.Unlock()

	for _, a := range avatars {
		if err := a.Close(); err != nil {
			slog.Warn("session: avatar close error", "session_id", a.id, "err", err)
		}
	}
	return nil
}

// release drops a finished avatar from the active map. Safe to call before
// the avatar was registered; the gauge only moves for registered avatars.
func (am *AvatarManager) release(a *Avatar) {
	am.mu.Lock()
	a.dead = true
	registered := a.registered
	a.registered = false
	if am.active[a.userID] == a {
		delete(am.active, a.userID)
	}
	am.mu.Unlock()

	if registered {
		am.metrics.ActiveDialogSessions.Add(context.Background(), -1)
	}
}

// Avatar is one live speech conversation between a user and the companion
// model.
type Avatar struct {
	id      string
	userID  string
	manager *AvatarManager

	closeOnce sync.Once
	sess      live.DialogSession

	// dead and registered are guarded by the manager's mutex.
	dead       bool
	registered bool
}

// ID returns the conversation's unique identifier.
func (a *Avatar) ID() string { return a.id }

// SendAudio forwards a chunk of user microphone PCM (16kHz s16le mono).
func (a *Avatar) SendAudio(chunk []byte) error {
	return a.sess.SendAudio(chunk)
}

// SendText injects a user text turn.
func (a *Avatar) SendText(text string) error {
	return a.sess.SendText(text)
}

// Audio returns the channel of synthesized avatar speech. Closed when the
// conversation ends.
func (a *Avatar) Audio() <-chan audio.Buffer {
	return a.sess.Audio()
}

// Close ends the conversation. Idempotent.
func (a *Avatar) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.sess.Close()
		a.manager.release(a)
	})
	return err
}

func (a *Avatar) onClose(err error) {
	if err != nil {
		slog.Warn("avatar session closed unexpectedly", "session_id", a.id, "user", a.userID, "err", err)
	}
	a.manager.release(a)
}
