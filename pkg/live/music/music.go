// Package music implements the live.MusicDialer interface for the real-time
// generative music API.
//
// It establishes a bidirectional WebSocket connection to the
// BidiGenerateMusic endpoint and exchanges JSON messages: weighted prompts
// and playback control flow out, base64-encoded PCM chunks and filtered
// prompt notices flow in.
package music

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/HemantKumar01/SoulScript/pkg/audio"
	"github.com/HemantKumar01/SoulScript/pkg/live"
)

// Compile-time assertions that Client and session satisfy the live interfaces.
var _ live.MusicDialer = (*Client)(nil)
var _ live.MusicSession = (*session)(nil)

const (
	defaultModel   = "lyria-realtime-exp"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// Server chunks are 16-bit PCM at this format unless the mime type says
// otherwise.
const (
	chunkSampleRate = 48000
	chunkChannels   = 2
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the music generation model used for sessions.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Client implements live.MusicDialer for the BidiGenerateMusic API.
type Client struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new music Client with the given API key and options.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect establishes a new music session. The returned session accepts
// prompt and control writes immediately; callers that need the server's
// acknowledgment first should wait on [live.MusicSession.Ready].
func (c *Client) Connect(ctx context.Context, cb live.MusicCallbacks) (live.MusicSession, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateMusic?key=%s",
		c.baseURL, c.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("music: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		cb:     cb,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := sess.writeJSON(setupMessage{Setup: setupConfig{
		Model: fmt.Sprintf("models/%s", c.model),
	}}); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("music: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model string `json:"model"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	WeightedPrompts []live.WeightedPrompt `json:"weightedPrompts"`
}

type generationConfigMessage struct {
	MusicGenerationConfig live.MusicConfig `json:"musicGenerationConfig"`
}

type playbackControlMessage struct {
	PlaybackControl string `json:"playbackControl"`
}

const (
	controlPlay  = "PLAY"
	controlPause = "PAUSE"
	controlStop  = "STOP"
)

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete  *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent  *serverContent   `json:"serverContent,omitempty"`
	FilteredPrompt *filteredPrompt  `json:"filteredPrompt,omitempty"`
	Error          *serverError     `json:"error,omitempty"`
}

type serverContent struct {
	AudioChunks []audioChunk `json:"audioChunks,omitempty"`
}

type audioChunk struct {
	MIMEType string `json:"mimeType,omitempty"`
	Data     string `json:"data"` // base64-encoded PCM
}

type filteredPrompt struct {
	Text           string `json:"text"`
	FilteredReason string `json:"filteredReason"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn *websocket.Conn
	cb   live.MusicCallbacks

	mu     sync.Mutex
	closed bool

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("music: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them. It owns
// the OnClose notification: exactly one invocation when the loop exits.
func (s *session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// A cancelled session context means a local Close; report a
			// clean shutdown.
			if s.ctx.Err() != nil {
				s.notifyClose(nil)
				return
			}
			s.notifyClose(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		s.handleServerMessage(&msg)
	}
}

func (s *session) handleServerMessage(msg *serverMessage) {
	if msg.SetupComplete != nil {
		s.readyOnce.Do(func() { close(s.ready) })
	}
	if msg.Error != nil {
		s.handleError(msg.Error)
	}
	if msg.ServerContent != nil {
		s.handleServerContent(msg.ServerContent)
	}
	if msg.FilteredPrompt != nil && s.cb.OnFilteredPrompt != nil {
		s.cb.OnFilteredPrompt(msg.FilteredPrompt.Text, msg.FilteredPrompt.FilteredReason)
	}
}

func (s *session) handleError(se *serverError) {
	if s.cb.OnError == nil {
		return
	}
	msg := "unknown error"
	if se.Message != "" {
		msg = se.Message
	}
	s.cb.OnError(fmt.Errorf("music: %s", msg))
}

func (s *session) handleServerContent(sc *serverContent) {
	if s.cb.OnAudio == nil {
		return
	}
	for _, chunk := range sc.AudioChunks {
		buf, err := audio.DecodeChunk(chunk.Data, chunkSampleRate, chunkChannels)
		if err != nil || buf.Empty() {
			continue
		}
		s.cb.OnAudio(buf)
	}
}

func (s *session) notifyClose(err error) {
	s.closeOnce.Do(func() {
		if s.cb.OnClose != nil {
			s.cb.OnClose(err)
		}
	})
}

// keepaliveLoop sends WebSocket pings to keep the connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// ── MusicSession methods ───────────────────────────────────────────────────────

func (s *session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("music: session closed")
	}
	return nil
}

// SetWeightedPrompts replaces the active prompt set.
func (s *session) SetWeightedPrompts(prompts []live.WeightedPrompt) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeJSON(clientContentMessage{
		ClientContent: clientContent{WeightedPrompts: prompts},
	})
}

// SetConfig updates generation parameters.
func (s *session) SetConfig(cfg live.MusicConfig) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeJSON(generationConfigMessage{MusicGenerationConfig: cfg})
}

// Play asks the server to begin or resume streaming audio.
func (s *session) Play() error { return s.control(controlPlay) }

// Pause halts streaming; generation context is retained.
func (s *session) Pause() error { return s.control(controlPause) }

// Stop halts streaming and discards generation context.
func (s *session) Stop() error { return s.control(controlStop) }

func (s *session) control(cmd string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.writeJSON(playbackControlMessage{PlaybackControl: cmd})
}

// Ready is closed once the server acknowledges session setup.
func (s *session) Ready() <-chan struct{} { return s.ready }

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
