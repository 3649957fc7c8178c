// Package app wires all SoulScript subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in reverse order.
//
// For testing, inject mock implementations via functional options
// (WithMusicDialer, WithOutput, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/HemantKumar01/SoulScript/internal/config"
	"github.com/HemantKumar01/SoulScript/internal/health"
	"github.com/HemantKumar01/SoulScript/internal/observe"
	"github.com/HemantKumar01/SoulScript/internal/progress"
	"github.com/HemantKumar01/SoulScript/internal/prompts"
	"github.com/HemantKumar01/SoulScript/internal/questions"
	"github.com/HemantKumar01/SoulScript/internal/server"
	"github.com/HemantKumar01/SoulScript/internal/session"
	"github.com/HemantKumar01/SoulScript/pkg/audio"
	"github.com/HemantKumar01/SoulScript/pkg/audio/stream"
	"github.com/HemantKumar01/SoulScript/pkg/live"
	"github.com/HemantKumar01/SoulScript/pkg/live/dialog"
	"github.com/HemantKumar01/SoulScript/pkg/live/music"
)

// defaultUserID scopes prompt persistence for the single shared music
// session.
const defaultUserID = "default"

// App owns all subsystem lifetimes for the SoulScript service.
type App struct {
	cfg *config.Config

	// Injectable subsystems. Nil means New builds the real one from config.
	musicDialer live.MusicDialer
	dialogDial  live.DialogDialer
	out         audio.Output
	promptStore prompts.Store
	progStore   progress.Store

	// Subsystems — initialised in New, torn down in Shutdown.
	syncr    *prompts.Synchronizer
	ctrl     *progress.Controller
	manager  *session.Manager
	avatars  *session.AvatarManager
	stream   *stream.Output // set when the default streaming output is used
	checkers []health.Checker
	httpSrv  *http.Server
	watcher  *config.Watcher

	configFile string
	logLevel   *slog.LevelVar

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMusicDialer injects a music dialer instead of creating one from config.
func WithMusicDialer(d live.MusicDialer) Option {
	return func(a *App) { a.musicDialer = d }
}

// WithDialogDialer injects a dialog dialer instead of creating one from config.
func WithDialogDialer(d live.DialogDialer) Option {
	return func(a *App) { a.dialogDial = d }
}

// WithOutput injects a playback device instead of the streaming output.
func WithOutput(o audio.Output) Option {
	return func(a *App) { a.out = o }
}

// WithPromptStore injects a prompt store instead of connecting to Redis.
func WithPromptStore(s prompts.Store) Option {
	return func(a *App) { a.promptStore = s }
}

// WithProgressStore injects a progress store instead of connecting to Postgres.
func WithProgressStore(s progress.Store) Option {
	return func(a *App) { a.progStore = s }
}

// WithConfigFile enables hot reload of the given config file. Log level and
// music generation settings are applied live; everything else needs a
// restart.
func WithConfigFile(path string) Option {
	return func(a *App) { a.configFile = path }
}

// WithLogLevel hands the app the level var backing the process logger so
// config reloads can adjust verbosity.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry provider ────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return otelShutdown(shutdownCtx)
	})

	// ── 2. Stores ────────────────────────────────────────────────────────
	if err := a.initStores(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	// ── 3. Prompt synchronizer ───────────────────────────────────────────
	a.syncr = prompts.NewSynchronizer(prompts.Config{
		UserID:      defaultUserID,
		Store:       a.promptStore,
		MinInterval: time.Duration(cfg.Prompts.MinIntervalMS) * time.Millisecond,
		SettleDelay: time.Duration(cfg.Prompts.SettleDelayMS) * time.Millisecond,
	})
	a.closers = append(a.closers, func() error {
		a.syncr.Close()
		return nil
	})

	// ── 4. Progress controller ───────────────────────────────────────────
	a.initProgress()

	// ── 5. Playback ──────────────────────────────────────────────────────
	if err := a.initPlayback(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init playback: %w", err)
	}

	// ── 6. Avatar sessions ───────────────────────────────────────────────
	if err := a.initAvatars(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init avatars: %w", err)
	}

	// ── 7. HTTP server ───────────────────────────────────────────────────
	srv := server.New(server.Config{
		Manager:  a.manager,
		Avatars:  a.avatars,
		Prompts:  a.syncr,
		Progress: a.ctrl,
		Stream:   a.stream,
		Health:   health.New(a.checkers...),
	})
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── 8. Config hot reload ─────────────────────────────────────────────
	if a.configFile != "" {
		w, err := config.NewWatcher(a.configFile, a.applyConfig)
		if err != nil {
			a.runClosers()
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error {
			w.Stop()
			return nil
		})
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStores connects prompt and progress persistence. Either store may be
// absent from the config; the service then runs on in-memory state.
func (a *App) initStores(ctx context.Context) error {
	if a.promptStore == nil && a.cfg.Redis.Addr != "" {
		store, err := prompts.NewRedisStore(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.promptStore = store
		a.checkers = append(a.checkers, health.PingChecker("redis", store))
		a.closers = append(a.closers, store.Close)
	}

	if a.progStore == nil {
		if a.cfg.Postgres.DSN != "" {
			store, err := progress.NewPostgresStore(ctx, a.cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			a.progStore = store
			a.checkers = append(a.checkers, health.PingChecker("postgres", store))
			a.closers = append(a.closers, func() error {
				store.Close()
				return nil
			})
		} else {
			a.progStore = progress.NewMemoryStore()
		}
	}
	return nil
}

// initProgress builds the interview-progress controller, with question
// refinement only when an OpenAI key is configured.
func (a *App) initProgress() {
	var refiner progress.Refiner
	if a.cfg.OpenAI.APIKey != "" {
		var opts []questions.RefinerOption
		if a.cfg.OpenAI.BaseURL != "" {
			opts = append(opts, questions.WithBaseURL(a.cfg.OpenAI.BaseURL))
		}
		r, err := questions.NewRefiner(a.cfg.OpenAI.APIKey, a.cfg.OpenAI.Model, opts...)
		if err != nil {
			slog.Warn("question refiner unavailable, serving catalog questions", "err", err)
		} else {
			refiner = r
		}
	}
	a.ctrl = progress.NewController(progress.ControllerConfig{
		Store:   a.progStore,
		Refiner: refiner,
	})
}

// initPlayback builds the output device and the music session manager.
func (a *App) initPlayback() error {
	if a.out == nil {
		out, err := stream.New()
		if err != nil {
			return err
		}
		a.out = out
		a.stream = out
	}

	if a.musicDialer == nil {
		var opts []music.Option
		if a.cfg.Gemini.MusicModel != "" {
			opts = append(opts, music.WithModel(a.cfg.Gemini.MusicModel))
		}
		if a.cfg.Gemini.BaseURL != "" {
			opts = append(opts, music.WithBaseURL(a.cfg.Gemini.BaseURL))
		}
		a.musicDialer = music.New(a.cfg.Gemini.APIKey, opts...)
	}

	mgr, err := session.NewManager(session.ManagerConfig{
		Dialer:      a.musicDialer,
		Prompts:     a.syncr,
		Output:      a.out,
		Meter:       &audio.Meter{},
		SettleDelay: time.Duration(a.cfg.Audio.SettleDelayMS) * time.Millisecond,
		BufferTime:  time.Duration(a.cfg.Audio.BufferTimeMS) * time.Millisecond,
		MusicConfig: musicConfig(a.cfg.Audio),
	})
	if err != nil {
		return err
	}
	a.manager = mgr
	// Reverse-order teardown closes the manager before its output device.
	a.closers = append(a.closers, a.out.Close)
	a.closers = append(a.closers, mgr.Close)
	return nil
}

// initAvatars builds the avatar session manager.
func (a *App) initAvatars() error {
	if a.dialogDial == nil {
		var opts []dialog.Option
		if a.cfg.Gemini.DialogModel != "" {
			opts = append(opts, dialog.WithModel(a.cfg.Gemini.DialogModel))
		}
		if a.cfg.Gemini.BaseURL != "" {
			opts = append(opts, dialog.WithBaseURL(a.cfg.Gemini.BaseURL))
		}
		a.dialogDial = dialog.New(a.cfg.Gemini.APIKey, opts...)
	}

	avatars, err := session.NewAvatarManager(session.AvatarManagerConfig{
		Dialer:   a.dialogDial,
		Progress: a.ctrl,
		Voice:    a.cfg.Gemini.Voice,
	})
	if err != nil {
		return err
	}
	a.avatars = avatars
	a.closers = append(a.closers, avatars.Close)
	return nil
}

// musicConfig maps the audio config onto a generation config, or nil when
// everything is left at the server defaults.
func musicConfig(cfg config.AudioConfig) *live.MusicConfig {
	if cfg.BPM == 0 && cfg.Temperature == 0 && cfg.Guidance == 0 {
		return nil
	}
	return &live.MusicConfig{
		BPM:         cfg.BPM,
		Temperature: cfg.Temperature,
		Guidance:    cfg.Guidance,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then returns ctx's error. The
// listener error is returned directly when the server fails to start.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("soulscript running", "addr", a.cfg.Server.ListenAddr)
	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// applyConfig is the watcher callback: it applies the reloadable subset of a
// changed config file.
func (a *App) applyConfig(old, latest *config.Config) {
	diff := config.Diff(old, latest)
	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(diff.NewLogLevel.Level())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.GenerationChanged {
		a.manager.UpdateMusicConfig(live.MusicConfig{
			BPM:         diff.NewGeneration.BPM,
			Temperature: diff.NewGeneration.Temperature,
			Guidance:    diff.NewGeneration.Guidance,
		})
		slog.Info("music generation config changed",
			"bpm", diff.NewGeneration.BPM,
			"temperature", diff.NewGeneration.Temperature,
			"guidance", diff.NewGeneration.Guidance,
		)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, then tears down all subsystems in
// reverse-init order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers tears down whatever has been initialised so far. Used on init
// failure paths.
func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error during init rollback", "index", i, "err", err)
		}
	}
}
