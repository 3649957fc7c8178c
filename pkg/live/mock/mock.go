// Package mock provides in-memory mock implementations of the
// [live.MusicDialer], [live.MusicSession], [live.DialogDialer], and
// [live.DialogSession] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
package mock

import (
	"context"
	"sync"

	"github.com/HemantKumar01/SoulScript/pkg/audio"
	"github.com/HemantKumar01/SoulScript/pkg/live"
)

// ─── MusicSession ─────────────────────────────────────────────────────────────

// MusicSession is a mock implementation of [live.MusicSession].
// Set the exported Error fields before use; inspect the recorded fields after.
type MusicSession struct {
	mu sync.Mutex

	// PromptsError is returned by [MusicSession.SetWeightedPrompts].
	PromptsError error

	// ConfigError is returned by [MusicSession.SetConfig].
	ConfigError error

	// ControlError is returned by Play, Pause, and Stop.
	ControlError error

	// CloseError is returned by [MusicSession.Close].
	CloseError error

	// PromptCalls records every prompt set passed to SetWeightedPrompts.
	PromptCalls [][]live.WeightedPrompt

	// ConfigCalls records every config passed to SetConfig.
	ConfigCalls []live.MusicConfig

	// Controls records Play/Pause/Stop invocations in order, as the strings
	// "play", "pause", and "stop".
	Controls []string

	// CallCountClose records how many times Close was called.
	CallCountClose int

	readyOnce sync.Once
	ready     chan struct{}
}

var _ live.MusicSession = (*MusicSession)(nil)

func (m *MusicSession) readyCh() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready == nil {
		m.ready = make(chan struct{})
	}
	return m.ready
}

// MarkReady closes the Ready channel, simulating the server's setup ack.
func (m *MusicSession) MarkReady() {
	ch := m.readyCh()
	m.readyOnce.Do(func() { close(ch) })
}

// SetWeightedPrompts implements [live.MusicSession]. Records the prompt set.
func (m *MusicSession) SetWeightedPrompts(prompts []live.WeightedPrompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]live.WeightedPrompt, len(prompts))
	copy(cp, prompts)
	m.PromptCalls = append(m.PromptCalls, cp)
	return m.PromptsError
}

// SetConfig implements [live.MusicSession]. Records the config.
func (m *MusicSession) SetConfig(cfg live.MusicConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConfigCalls = append(m.ConfigCalls, cfg)
	return m.ConfigError
}

// Play implements [live.MusicSession].
func (m *MusicSession) Play() error { return m.control("play") }

// Pause implements [live.MusicSession].
func (m *MusicSession) Pause() error { return m.control("pause") }

// Stop implements [live.MusicSession].
func (m *MusicSession) Stop() error { return m.control("stop") }

func (m *MusicSession) control(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Controls = append(m.Controls, name)
	return m.ControlError
}

// Ready implements [live.MusicSession].
func (m *MusicSession) Ready() <-chan struct{} { return m.readyCh() }

// Close implements [live.MusicSession]. Returns CloseError.
func (m *MusicSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountClose++
	return m.CloseError
}

// Prompts returns a copy of all recorded SetWeightedPrompts calls.
func (m *MusicSession) Prompts() [][]live.WeightedPrompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([][]live.WeightedPrompt, len(m.PromptCalls))
	copy(calls, m.PromptCalls)
	return calls
}

// ControlLog returns a copy of the recorded Play/Pause/Stop sequence.
func (m *MusicSession) ControlLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := make([]string, len(m.Controls))
	copy(log, m.Controls)
	return log
}

// ─── MusicDialer ──────────────────────────────────────────────────────────────

// ConnectCall records the callbacks of a single [MusicDialer.Connect]
// invocation.
type ConnectCall struct {
	// Callbacks is the callback set passed to Connect.
	Callbacks live.MusicCallbacks
}

// MusicDialer is a mock implementation of [live.MusicDialer].
type MusicDialer struct {
	mu sync.Mutex

	// ConnectResult is the session returned by Connect. Defaults to a fresh
	// [MusicSession] if left nil.
	ConnectResult live.MusicSession

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

var _ live.MusicDialer = (*MusicDialer)(nil)

// Connect implements [live.MusicDialer]. Records the callbacks and returns
// ConnectResult / ConnectError.
func (d *MusicDialer) Connect(_ context.Context, cb live.MusicCallbacks) (live.MusicSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ConnectCalls = append(d.ConnectCalls, ConnectCall{Callbacks: cb})
	if d.ConnectError != nil {
		return nil, d.ConnectError
	}
	if d.ConnectResult == nil {
		d.ConnectResult = &MusicSession{}
	}
	return d.ConnectResult, nil
}

// LastCallbacks returns the callback set from the most recent Connect call.
// The second return is false when Connect was never called.
func (d *MusicDialer) LastCallbacks() (live.MusicCallbacks, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ConnectCalls) == 0 {
		return live.MusicCallbacks{}, false
	}
	return d.ConnectCalls[len(d.ConnectCalls)-1].Callbacks, true
}

// CallCountConnect returns how many times Connect was called.
func (d *MusicDialer) CallCountConnect() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ConnectCalls)
}

// ─── DialogSession ────────────────────────────────────────────────────────────

// DialogSession is a mock implementation of [live.DialogSession].
type DialogSession struct {
	mu sync.Mutex

	// SendError is returned by SendAudio and SendText.
	SendError error

	// CloseError is returned by [DialogSession.Close].
	CloseError error

	// AudioChunks records every chunk passed to SendAudio.
	AudioChunks [][]byte

	// Texts records every string passed to SendText.
	Texts []string

	// CallCountClose records how many times Close was called.
	CallCountClose int

	audioOnce sync.Once
	audioCh   chan audio.Buffer
}

var _ live.DialogSession = (*DialogSession)(nil)

func (d *DialogSession) ch() chan audio.Buffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.audioCh == nil {
		d.audioCh = make(chan audio.Buffer, 16)
	}
	return d.audioCh
}

// EmitAudio delivers a buffer on the Audio channel.
func (d *DialogSession) EmitAudio(buf audio.Buffer) { d.ch() <- buf }

// CloseAudio closes the Audio channel, simulating session end.
func (d *DialogSession) CloseAudio() {
	ch := d.ch()
	d.audioOnce.Do(func() { close(ch) })
}

// SendAudio implements [live.DialogSession]. Records the chunk.
func (d *DialogSession) SendAudio(chunk []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	d.AudioChunks = append(d.AudioChunks, cp)
	return d.SendError
}

// SendText implements [live.DialogSession]. Records the text.
func (d *DialogSession) SendText(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Texts = append(d.Texts, text)
	return d.SendError
}

// Audio implements [live.DialogSession].
func (d *DialogSession) Audio() <-chan audio.Buffer { return d.ch() }

// Close implements [live.DialogSession]. Returns CloseError.
func (d *DialogSession) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	return d.CloseError
}

// ─── DialogDialer ─────────────────────────────────────────────────────────────

// DialogDialer is a mock implementation of [live.DialogDialer].
type DialogDialer struct {
	mu sync.Mutex

	// ConnectResult is the session returned by Connect. Defaults to a fresh
	// [DialogSession] if left nil.
	ConnectResult live.DialogSession

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectHook, when set, runs with the config before Connect returns.
	// Lets tests fire session callbacks mid-dial.
	ConnectHook func(cfg live.DialogConfig)

	// Configs records the config of every Connect invocation.
	Configs []live.DialogConfig
}

var _ live.DialogDialer = (*DialogDialer)(nil)

// Connect implements [live.DialogDialer]. Records the config and returns
// ConnectResult / ConnectError.
func (d *DialogDialer) Connect(_ context.Context, cfg live.DialogConfig) (live.DialogSession, error) {
	d.mu.Lock()
	d.Configs = append(d.Configs, cfg)
	hook := d.ConnectHook
	if d.ConnectError != nil {
		err := d.ConnectError
		d.mu.Unlock()
		return nil, err
	}
	if d.ConnectResult == nil {
		d.ConnectResult = &DialogSession{}
	}
	sess := d.ConnectResult
	d.mu.Unlock()

	if hook != nil {
		hook(cfg)
	}
	return sess, nil
}

// LastConfig returns the config from the most recent Connect call. The second
// return is false when Connect was never called.
func (d *DialogDialer) LastConfig() (live.DialogConfig, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Configs) == 0 {
		return live.DialogConfig{}, false
	}
	return d.Configs[len(d.Configs)-1], true
}
