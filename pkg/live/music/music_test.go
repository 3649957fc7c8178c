package music_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/HemantKumar01/SoulScript/pkg/audio"
	"github.com/HemantKumar01/SoulScript/pkg/live"
	"github.com/HemantKumar01/SoulScript/pkg/live/music"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startMusicServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startMusicServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// sendSetupComplete sends the server-side setupComplete ack.
func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// newClient creates a Client pointing at the given test server.
func newClient(srv *httptest.Server) *music.Client {
	return music.New("test-api-key", music.WithBaseURL(wsURL(srv)))
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestConnect_SendsSetupWithModel(t *testing.T) {
	t.Parallel()

	modelCh := make(chan string, 1)

	srv := startMusicServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg struct {
			Setup struct {
				Model string `json:"model"`
			} `json:"setup"`
		}
		readJSON(t, conn, &msg)
		modelCh <- msg.Setup.Model
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	c := music.New("key", music.WithModel("custom-music-model"), music.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background(), live.MusicCallbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case model := <-modelCh:
		if want := "models/custom-music-model"; model != want {
			t.Errorf("model = %q; want %q", model, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for model in setup message")
	}
}

func TestConnect_IncludesAPIKeyInURL(t *testing.T) {
	t.Parallel()

	urlPath := make(chan string, 1)

	srv := startMusicServer(t, func(conn *websocket.Conn, r *http.Request) {
		urlPath <- r.URL.RawQuery
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	c := music.New("secret-key", music.WithBaseURL(wsURL(srv)))
	sess, err := c.Connect(context.Background(), live.MusicCallbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case q := <-urlPath:
		if !strings.Contains(q, "key=secret-key") {
			t.Errorf("URL query %q should contain key=secret-key", q)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startMusicServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	c := newClient(srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled

	if _, err := c.Connect(ctx, live.MusicCallbacks{}); err == nil {
		t.Fatal("Connect with cancelled context should return an error")
	}
}

// ── Ready ─────────────────────────────────────────────────────────────────────

func TestReady_ClosedOnSetupComplete(t *testing.T) {
	t.Parallel()

	srv := startMusicServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := newClient(srv).Connect(context.Background(), live.MusicCallbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case <-sess.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for Ready after setupComplete")
	}
}

func TestReady_BlocksWithoutSetupComplete(t *testing.T) {
	t.Parallel()

	srv := startMusicServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		// Never acknowledge setup.
		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := newClient(srv).Connect(context.Background(), live.MusicCallbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case <-sess.Ready():
		t.Fatal("Ready should not fire without setupComplete")
	case <-time.After(100 * time.Millisecond):
	}
}

// ── SetWeightedPrompts ────────────────────────────────────────────────────────

func TestSetWeightedPrompts_SendsClientContent(t *testing.T) {
	t.Parallel()

	type clientContentMsg struct {
		ClientContent struct {
			WeightedPrompts []struct {
				Text   string  `json:"text"`
				Weight float64 `json:"weight"`
			} `json:"weightedPrompts"`
		} `json:"clientContent"`
	}

	promptsCh := make(chan clientContentMsg, 1)

	srv := startMusicServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		var msg clientContentMsg
		readJSON(t, conn, &msg)
		promptsCh <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := newClient(srv).Connect(context.Background(), live.MusicCallbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	prompts := []live.WeightedPrompt{
		{Text: "Ocean Waves", Weight: 1.5},
		{Text: "Gentle Rain Sounds", Weight: 0.5},
	}
	if err := sess.SetWeightedPrompts(prompts); err != nil {
		t.Fatalf("SetWeightedPrompts: %v", err)
	}

	select {
	case msg := <-promptsCh:
		got := msg.ClientContent.WeightedPrompts
		if len(got) != 2 {
			t.Fatalf("expected 2 weighted prompts; got %d", len(got))
		}
		if got[0].Text != "Ocean Waves" || got[0].Weight != 1.5 {
			t.Errorf("prompt[0] = %+v; want Ocean Waves/1.5", got[0])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for weighted prompts message")
	}
}

func TestSetWeightedPrompts_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startMusicServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := newClient(srv).Connect(context.Background(), live.MusicCallbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_ = sess.Close()

	if err := sess.SetWeightedPrompts([]live.WeightedPrompt{{Text: "x", Weight: 1}}); err == nil {
		t.Fatal("SetWeightedPrompts after Close should return an error")
	}
}

// ── Playback control ──────────────────────────────────────────────────────────

func TestPlaybackControl_SendsCommands(t *testing.T) {
	t.Parallel()

	controls := make(chan string, 3)

	srv := startMusicServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		for range 3 {
			var msg struct {
				PlaybackControl string `json:"playbackControl"`
			}
			readJSON(t, conn, &msg)
			controls <- msg.PlaybackControl
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := newClient(srv).Connect(context.Background(), live.MusicCallbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if err := sess.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := sess.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := []string{"PLAY", "PAUSE", "STOP"}
	for i, w := range want {
		select {
		case got := <-controls:
			if got != w {
				t.Errorf("control %d = %q; want %q", i, got, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for control %d", i)
		}
	}
}

// ── SetConfig ─────────────────────────────────────────────────────────────────

func TestSetConfig_SendsGenerationConfig(t *testing.T) {
	t.Parallel()

	cfgCh := make(chan float64, 1)

	srv := startMusicServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		var msg struct {
			MusicGenerationConfig struct {
				Temperature float64 `json:"temperature"`
			} `json:"musicGenerationConfig"`
		}
		readJSON(t, conn, &msg)
		cfgCh <- msg.MusicGenerationConfig.Temperature

		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := newClient(srv).Connect(context.Background(), live.MusicCallbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if err := sess.SetConfig(live.MusicConfig{Temperature: 1.3}); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	select {
	case temp := <-cfgCh:
		if temp != 1.3 {
			t.Errorf("temperature = %v; want 1.3", temp)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for generation config")
	}
}

// ── Server messages ───────────────────────────────────────────────────────────

func TestOnAudio_DeliversDecodedChunks(t *testing.T) {
	t.Parallel()

	// One stereo frame of known PCM.
	raw := []byte{0x01, 0x00, 0xFF, 0x7F}
	encoded := base64.StdEncoding.EncodeToString(raw)

	srv := startMusicServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"audioChunks": []map[string]any{
					{"mimeType": "audio/pcm;rate=48000", "data": encoded},
				},
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	bufCh := make(chan audio.Buffer, 1)
	sess, err := newClient(srv).Connect(context.Background(), live.MusicCallbacks{
		OnAudio: func(buf audio.Buffer) { bufCh <- buf },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case buf := <-bufCh:
		if len(buf.Samples) != 2 || buf.Samples[0] != 1 || buf.Samples[1] != 32767 {
			t.Errorf("samples = %v; want [1 32767]", buf.Samples)
		}
		if buf.SampleRate != 48000 || buf.Channels != 2 {
			t.Errorf("format = %d/%d; want 48000/2", buf.SampleRate, buf.Channels)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio chunk")
	}
}

func TestOnFilteredPrompt_SurfacesReason(t *testing.T) {
	t.Parallel()

	srv := startMusicServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"filteredPrompt": map[string]any{
				"text":           "Forbidden Lyrics",
				"filteredReason": "safety",
			},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	type filtered struct{ text, reason string }
	filteredCh := make(chan filtered, 1)
	sess, err := newClient(srv).Connect(context.Background(), live.MusicCallbacks{
		OnFilteredPrompt: func(text, reason string) { filteredCh <- filtered{text, reason} },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case f := <-filteredCh:
		if f.text != "Forbidden Lyrics" || f.reason != "safety" {
			t.Errorf("filtered prompt = %+v", f)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for filtered prompt")
	}
}

func TestOnError_ServerError(t *testing.T) {
	t.Parallel()

	srv := startMusicServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"error": map[string]any{"code": 8, "message": "quota exceeded"},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	errCh := make(chan error, 1)
	sess, err := newClient(srv).Connect(context.Background(), live.MusicCallbacks{
		OnError: func(err error) { errCh <- err },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case got := <-errCh:
		if !strings.Contains(got.Error(), "quota exceeded") {
			t.Errorf("error = %v; want quota exceeded", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for error callback")
	}
}

// ── Close semantics ───────────────────────────────────────────────────────────

func TestOnClose_FiresOnServerDisconnect(t *testing.T) {
	t.Parallel()

	srv := startMusicServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		conn.Close(websocket.StatusInternalError, "backend failure")
	})

	closeCh := make(chan error, 1)
	sess, err := newClient(srv).Connect(context.Background(), live.MusicCallbacks{
		OnClose: func(err error) { closeCh <- err },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case closeErr := <-closeCh:
		if closeErr == nil {
			t.Error("expected non-nil error for abnormal server disconnect")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for OnClose")
	}
}

func TestOnClose_NilErrorOnLocalClose(t *testing.T) {
	t.Parallel()

	srv := startMusicServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	closeCh := make(chan error, 1)
	sess, err := newClient(srv).Connect(context.Background(), live.MusicCallbacks{
		OnClose: func(err error) { closeCh <- err },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_ = sess.Close()

	select {
	case closeErr := <-closeCh:
		if closeErr != nil {
			t.Errorf("OnClose error = %v; want nil for local close", closeErr)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for OnClose")
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startMusicServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	sess, err := newClient(srv).Connect(context.Background(), live.MusicCallbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}
}

// ── Concurrency ───────────────────────────────────────────────────────────────

func TestConcurrentWrites_DoNotRace(t *testing.T) {
	t.Parallel()

	srv := startMusicServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)

		ctx := context.Background()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})

	sess, err := newClient(srv).Connect(context.Background(), live.MusicCallbacks{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for i := range 16 {
				_ = sess.SetWeightedPrompts([]live.WeightedPrompt{
					{Text: "Ambient Drone", Weight: float64(i) / 16},
				})
			}
		})
	}
	wg.Wait()
}
