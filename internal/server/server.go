// Package server exposes the HTTP control surface for SoulScript: playback
// control, prompt weights, interview progress, and avatar conversations,
// plus health and metrics endpoints.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HemantKumar01/SoulScript/internal/health"
	"github.com/HemantKumar01/SoulScript/internal/observe"
	"github.com/HemantKumar01/SoulScript/internal/progress"
	"github.com/HemantKumar01/SoulScript/internal/prompts"
	"github.com/HemantKumar01/SoulScript/internal/session"
	"github.com/HemantKumar01/SoulScript/pkg/audio"
	"github.com/HemantKumar01/SoulScript/pkg/audio/stream"
)

// micSampleRate is the rate of microphone audio accepted on the avatar audio
// socket, matching what the dialog API expects.
const micSampleRate = 16000

// Server handles the SoulScript HTTP API.
type Server struct {
	manager  *session.Manager
	avatars  *session.AvatarManager
	syncr    *prompts.Synchronizer
	progress *progress.Controller
	stream   *stream.Output
	health   *health.Handler
	metrics  *observe.Metrics
}

// Config holds all dependencies for a [Server].
type Config struct {
	Manager  *session.Manager
	Avatars  *session.AvatarManager
	Prompts  *prompts.Synchronizer
	Progress *progress.Controller

	// Stream enables the live audio WebSocket when set. It should be the
	// same output the session manager plays into.
	Stream *stream.Output

	Health  *health.Handler
	Metrics *observe.Metrics
}

// New creates a Server. All Config fields are required except Health and
// Metrics, which default to an empty health handler and the package-level
// metrics.
func New(cfg Config) *Server {
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Server{
		manager:  cfg.Manager,
		avatars:  cfg.Avatars,
		syncr:    cfg.Prompts,
		progress: cfg.Progress,
		stream:   cfg.Stream,
		health:   cfg.Health,
		metrics:  cfg.Metrics,
	}
}

// Handler returns the root http.Handler with observability middleware
// applied to the API routes:
//
//	GET    /api/playback                     — current state and output level
//	POST   /api/playback/toggle              — toggle play/pause
//	POST   /api/playback/play                — start playback
//	POST   /api/playback/pause               — pause playback
//	POST   /api/playback/stop                — stop playback
//	GET    /api/prompts                      — full prompt set
//	PUT    /api/prompts/{promptID}/weight    — set a prompt weight
//	POST   /api/prompts/cc                   — apply a MIDI control change
//	POST   /api/prompts/reset                — restore default prompts
//	GET    /api/progress/{userID}            — interview progress
//	POST   /api/avatar/{userID}/start        — open an avatar conversation
//	POST   /api/avatar/{userID}/text         — inject a user text turn
//	DELETE /api/avatar/{userID}              — close the conversation
//	GET    /api/progress/{userID}/watch      — progress updates as SSE
//	GET    /api/audio/stream                 — live music as Opus over WebSocket
//	GET    /api/avatar/{userID}/audio        — bidirectional avatar audio socket
//	GET    /healthz, /readyz                 — probes
//	GET    /metrics                          — Prometheus scrape endpoint
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/playback", s.handlePlaybackState)
	api.HandleFunc("POST /api/playback/toggle", s.handleToggle)
	api.HandleFunc("POST /api/playback/play", s.handlePlay)
	api.HandleFunc("POST /api/playback/pause", s.handlePause)
	api.HandleFunc("POST /api/playback/stop", s.handleStop)
	api.HandleFunc("GET /api/prompts", s.handlePrompts)
	api.HandleFunc("PUT /api/prompts/{promptID}/weight", s.handleWeight)
	api.HandleFunc("POST /api/prompts/cc", s.handleControlChange)
	api.HandleFunc("POST /api/prompts/reset", s.handleReset)
	api.HandleFunc("GET /api/progress/{userID}", s.handleProgress)
	api.HandleFunc("POST /api/avatar/{userID}/start", s.handleAvatarStart)
	api.HandleFunc("POST /api/avatar/{userID}/text", s.handleAvatarText)
	api.HandleFunc("DELETE /api/avatar/{userID}", s.handleAvatarStop)

	root := http.NewServeMux()
	root.Handle("/api/", observe.Middleware(s.metrics)(api))
	// Streaming routes bypass the middleware; its response wrapper supports
	// neither hijacking nor flushing.
	root.HandleFunc("GET /api/progress/{userID}/watch", s.handleProgressWatch)
	root.HandleFunc("GET /api/audio/stream", s.handleAudioStream)
	root.HandleFunc("GET /api/avatar/{userID}/audio", s.handleAvatarAudio)
	s.health.Register(root)
	root.Handle("GET /metrics", promhttp.Handler())
	return root
}

// ── Playback ──

// playbackResponse is the JSON body for the playback state endpoint.
type playbackResponse struct {
	State string  `json:"state"`
	Level float64 `json:"level"`
}

func (s *Server) handlePlaybackState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, playbackResponse{
		State: string(s.manager.State()),
		Level: s.manager.Level(),
	})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.PlayPause(r.Context()); err != nil {
		http.Error(w, "toggle failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	s.handlePlaybackState(w, r)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Play(r.Context()); err != nil {
		http.Error(w, "play failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	s.handlePlaybackState(w, r)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Pause(); err != nil {
		http.Error(w, "pause failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	s.handlePlaybackState(w, r)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Stop(); err != nil {
		http.Error(w, "stop failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	s.handlePlaybackState(w, r)
}

// ── Prompts ──

func (s *Server) handlePrompts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.syncr.Snapshot())
}

// weightRequest is the JSON body for the weight endpoint.
type weightRequest struct {
	Weight float64 `json:"weight"`
}

func (s *Server) handleWeight(w http.ResponseWriter, r *http.Request) {
	promptID := r.PathValue("promptID")

	var req weightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.syncr.SetWeight(promptID, req.Weight); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ccRequest is the JSON body for the MIDI control-change endpoint.
type ccRequest struct {
	CC    int `json:"cc"`
	Value int `json:"value"`
}

func (s *Server) handleControlChange(w http.ResponseWriter, r *http.Request) {
	var req ccRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.syncr.ControlChange(req.CC, req.Value)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.manager.ResetPrompts()
	writeJSON(w, http.StatusOK, s.syncr.Snapshot())
}

// ── Progress ──

// progressResponse is the JSON body for the progress endpoint.
type progressResponse struct {
	QuestionIndex int     `json:"question_index"`
	Fraction      float64 `json:"fraction"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	writeJSON(w, http.StatusOK, progressResponse{
		QuestionIndex: s.progress.QuestionIndex(r.Context(), userID),
		Fraction:      s.progress.Fraction(r.Context(), userID),
	})
}

// handleProgressWatch streams progress updates as server-sent events until
// the client disconnects.
func (s *Server) handleProgressWatch(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	userID := r.PathValue("userID")
	for p := range s.progress.Watch(r.Context(), userID) {
		fmt.Fprintf(w, "data: %d\n\n", p)
		fl.Flush()
	}
}

// ── Avatar ──

// avatarStartRequest is the JSON body for the avatar start endpoint.
type avatarStartRequest struct {
	UserName string `json:"user_name"`
}

// avatarStartResponse is the JSON body returned from the avatar start endpoint.
type avatarStartResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleAvatarStart(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	var req avatarStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a, err := s.avatars.Start(r.Context(), userID, req.UserName)
	if err != nil {
		http.Error(w, "failed to start avatar: "+err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, avatarStartResponse{SessionID: a.ID()})
}

// avatarTextRequest is the JSON body for the avatar text endpoint.
type avatarTextRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleAvatarText(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	var req avatarTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	a := s.avatars.Get(userID)
	if a == nil {
		http.Error(w, "no active avatar", http.StatusNotFound)
		return
	}
	if err := a.SendText(req.Text); err != nil {
		http.Error(w, "send failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAvatarStop(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if err := s.avatars.Stop(userID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Audio streaming ──

// handleAudioStream pushes the live music mix to the client as binary Opus
// packets, one WebSocket message per 20ms frame.
func (s *Server) handleAudioStream(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		http.Error(w, "audio streaming not enabled", http.StatusNotFound)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	packets, cancel := s.stream.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case packet, ok := <-packets:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "output closed")
				return
			}
			if err := conn.Write(ctx, websocket.MessageBinary, packet); err != nil {
				return
			}
		}
	}
}

// handleAvatarAudio carries avatar audio both ways on one socket: inbound
// binary messages are Opus-encoded microphone frames (16kHz mono), outbound
// binary messages are the avatar's synthesized speech as raw PCM.
func (s *Server) handleAvatarAudio(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	a := s.avatars.Get(userID)
	if a == nil {
		http.Error(w, "no active avatar", http.StatusNotFound)
		return
	}

	dec, err := audio.NewOpusDecoder(micSampleRate, 1)
	if err != nil {
		http.Error(w, "decoder unavailable", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	ctx := r.Context()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case buf, ok := <-a.Audio():
				if !ok {
					conn.Close(websocket.StatusNormalClosure, "avatar closed")
					return
				}
				if err := conn.Write(ctx, websocket.MessageBinary, buf.PCM()); err != nil {
					return
				}
			}
		}
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		buf, err := dec.Decode(data)
		if err != nil {
			continue
		}
		if err := a.SendAudio(buf.PCM()); err != nil {
			return
		}
	}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}
