// Package live defines the interfaces for bidirectional streaming sessions
// with generative audio backends: a music session steered by weighted text
// prompts, and a dialog session exchanging speech with a conversational
// model.
//
// Concrete WebSocket implementations live in [pkg/live/music] and
// [pkg/live/dialog]; in-memory test doubles live in [pkg/live/mock].
package live

import (
	"context"

	"github.com/HemantKumar01/SoulScript/pkg/audio"
)

// WeightedPrompt steers music generation. Weight is in [0, 2]; a weight of 0
// removes the prompt's influence entirely.
type WeightedPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

// MusicConfig tunes the music generation model mid-session.
type MusicConfig struct {
	BPM         int     `json:"bpm,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Guidance    float64 `json:"guidance,omitempty"`
	Density     float64 `json:"density,omitempty"`
	Brightness  float64 `json:"brightness,omitempty"`
}

// MusicCallbacks carries the event handlers a caller registers when opening a
// music session. All callbacks are invoked from the session's receive
// goroutine; handlers must not block.
type MusicCallbacks struct {
	// OnAudio receives each decoded audio chunk.
	OnAudio func(buf audio.Buffer)

	// OnFilteredPrompt fires when the server rejects a prompt, with the
	// prompt text and the server's reason.
	OnFilteredPrompt func(text, reason string)

	// OnError fires on server-reported errors.
	OnError func(err error)

	// OnClose fires exactly once when the transport terminates. err is nil
	// for a locally initiated close.
	OnClose func(err error)
}

// MusicSession is a live connection to the generative music backend.
type MusicSession interface {
	// SetWeightedPrompts replaces the active prompt set.
	SetWeightedPrompts(prompts []WeightedPrompt) error

	// SetConfig updates generation parameters.
	SetConfig(cfg MusicConfig) error

	// Play asks the server to begin or resume streaming audio.
	Play() error

	// Pause halts streaming; generation context is retained.
	Pause() error

	// Stop halts streaming and discards generation context.
	Stop() error

	// Ready is closed once the server acknowledges session setup.
	Ready() <-chan struct{}

	// Close terminates the session. Idempotent. OnClose fires with nil.
	Close() error
}

// MusicDialer opens music sessions. The connection manager depends on this
// interface so tests can substitute a double.
type MusicDialer interface {
	Connect(ctx context.Context, cb MusicCallbacks) (MusicSession, error)
}

// ToolCallHandler answers a model-initiated function call. argsJSON is the
// call's arguments as a JSON object; the returned string is the result,
// JSON if possible.
type ToolCallHandler func(name, argsJSON string) (string, error)

// ToolDefinition declares a function the dialog model may call.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// DialogConfig configures a dialog session at creation time.
type DialogConfig struct {
	// Instructions is the system instruction for the model.
	Instructions string

	// Voice selects the prebuilt voice for synthesized speech.
	Voice string

	// Tools are offered to the model for function calling.
	Tools []ToolDefinition

	// OnToolCall answers tool invocations. Required when Tools is non-empty.
	OnToolCall ToolCallHandler

	// OnError fires on server-reported errors.
	OnError func(err error)

	// OnClose fires exactly once when the transport terminates.
	OnClose func(err error)
}

// DialogSession is a live speech conversation with the avatar model.
type DialogSession interface {
	// SendAudio delivers a chunk of user microphone PCM (16kHz s16le mono).
	SendAudio(chunk []byte) error

	// SendText injects a user text turn.
	SendText(text string) error

	// Audio returns the channel of synthesized model speech. Closed when the
	// session terminates.
	Audio() <-chan audio.Buffer

	// Close terminates the session. Idempotent.
	Close() error
}

// DialogDialer opens dialog sessions.
type DialogDialer interface {
	Connect(ctx context.Context, cfg DialogConfig) (DialogSession, error)
}
