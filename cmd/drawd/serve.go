package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"drawd/internal/collab"
	"drawd/internal/config"
	"drawd/internal/dispatch"
	"drawd/internal/engine"
	"drawd/internal/engine/remote"
	"drawd/internal/httpapi"
	"drawd/internal/prompt"
	"drawd/internal/registry"
	"drawd/internal/session"
	"drawd/internal/studio"
	"drawd/internal/templates"
)

const shutdownTimeout = 30 * time.Second

type serveOptions struct {
	addr        string
	adminToken  string
	engine      string
	disableAPI  bool
	optimize    bool
	maxBodySize int64
}

func newServeCmd(ro *rootOptions) *cobra.Command {
	so := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := ro.cfg
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Addr = so.addr
			}
			if flags.Changed("admin-token") {
				cfg.AdminToken = so.adminToken
			}
			if flags.Changed("default-engine") {
				cfg.DefaultEngine = so.engine
			}
			if flags.Changed("disable-api-engine") {
				cfg.DisableAPIEngine = so.disableAPI
			}
			if flags.Changed("optimize") {
				cfg.DefaultOptimize = so.optimize
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			httpapi.SetMaxBodyBytes(so.maxBodySize)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg, ro.log)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&so.addr, "addr", "a", "", "HTTP listen address, e.g. :8080")
	f.StringVar(&so.adminToken, "admin-token", "", "token granting privileged access via X-Admin-Token")
	f.StringVar(&so.engine, "default-engine", "", "engine used when a request names none (auto, api, web)")
	f.BoolVar(&so.disableAPI, "disable-api-engine", false, "restrict regular callers to web engines")
	f.BoolVar(&so.optimize, "optimize", false, "optimize draw prompts with the collaborator by default")
	f.Int64Var(&so.maxBodySize, "max-body-bytes", 20<<20, "maximum JSON request body size")
	return cmd
}

// serve assembles the service and blocks until ctx is done or the listener fails.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	defaultKind, err := engine.ParseKind(cfg.DefaultEngine)
	if err != nil {
		return err
	}
	slots, err := buildSlots(cfg.Engines)
	if err != nil {
		return err
	}

	repo, closeRepo, err := openStore(ctx, cfg.Templates, &log)
	if err != nil {
		return err
	}
	defer closeRepo()

	client, err := openCollaborator(cfg.Collaborator, &log)
	if err != nil {
		return err
	}
	var (
		opt      prompt.Optimizer
		sessions *session.Manager
	)
	if client != nil {
		defer client.Close()
		opt = client
		sessions = session.NewManager(client, repo, session.Config{
			IdleTimeout: cfg.SessionIdleTimeout.Std(),
			Logger:      &log,
		})
	}

	disp, err := dispatch.New(dispatch.Config{
		Slots:              slots,
		MaxQueueDepth:      cfg.MaxQueueDepth,
		MaxRetries:         cfg.MaxRetries,
		Alpha:              cfg.EWMAAlpha,
		InitialServiceTime: cfg.InitialServiceTime.Std(),
		UserCooldown:       cfg.DrawCooldown.Std(),
		CredentialCooldown: cfg.CredentialCooldown.Std(),
		ResultRetention:    cfg.ResultRetention.Std(),
		HealthInterval:     cfg.HealthInterval.Std(),
		Logger:             &log,
		Publisher:          dispatch.LogPublisher{Log: log},
	})
	if err != nil {
		return err
	}
	for id, h := range disp.CheckHealth(ctx) {
		if h != engine.Available {
			log.Warn().Str("slot", id).Str("health", string(h)).Msg("engine not reachable at startup")
		}
	}

	svc := studio.New(disp, repo, sessions, opt, studio.Config{
		DefaultEngine:    defaultKind,
		DisableAPIEngine: cfg.DisableAPIEngine,
		DefaultOptimize:  cfg.DefaultOptimize,
		Logger:           &log,
	})

	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetAdminToken(cfg.AdminToken)
	httpapi.SetRequestLogLevel(cfg.LogLevel)
	httpapi.SetCORSOptions(len(cfg.CORSOrigins) > 0, cfg.CORSOrigins, nil, nil)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Int("slots", len(slots)).Bool("collaborator", client != nil).Msg("drawd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if sessions != nil {
			sessions.Close()
		}
		return errors.Join(err, disp.Shutdown(sctx))
	})
	return g.Wait()
}

// buildSlots expands engine declarations into dispatch slots. Web engines get
// one slot per credential (or Slots anonymous slots); API engines get Slots.
// IDs are "<kind>-<n>" numbered per kind across engines.
func buildSlots(engines []config.EngineConfig) ([]dispatch.SlotSpec, error) {
	var specs []dispatch.SlotSpec
	seq := map[engine.Kind]int{}
	for i, ec := range engines {
		kind, err := engine.ParseKind(ec.Kind)
		if err != nil || kind == engine.KindAny {
			return nil, fmt.Errorf("engines[%d]: invalid kind %q", i, ec.Kind)
		}
		opts := remote.Options{
			BaseURL:          ec.BaseURL,
			Path:             ec.Path,
			APIKey:           ec.APIKey,
			Model:            ec.Model,
			CredentialHeader: ec.CredentialHeader,
			RequestTimeout:   ec.RequestTimeout.Std(),
		}
		var creds []string
		if kind == engine.KindWeb {
			creds = ec.Credentials
		}
		n := len(creds)
		if n == 0 {
			n = max(ec.Slots, 1)
		}
		for j := 0; j < n; j++ {
			o := opts
			if j < len(creds) {
				o.Credential = strings.TrimSpace(creds[j])
			}
			specs = append(specs, dispatch.SlotSpec{
				ID:       fmt.Sprintf("%s-%d", kind, seq[kind]),
				Kind:     kind,
				Engine:   remote.New(o),
				Cooldown: ec.Cooldown.Std(),
				Disabled: ec.Disabled,
			})
			seq[kind]++
		}
	}
	return specs, nil
}

// openStore opens the configured template repository. The returned func
// releases it.
func openStore(ctx context.Context, tc config.TemplatesConfig, log *zerolog.Logger) (templates.Repository, func() error, error) {
	opts := templates.Options{Logger: log}
	switch tc.Backend {
	case "", "file":
		s, err := templates.OpenFile(ctx, tc.Path, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("open templates: %w", err)
		}
		return s, func() error { return nil }, nil
	case "sqlite":
		s, err := templates.OpenSQL(ctx, tc.Path, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("open templates: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown templates backend %q", tc.Backend)
	}
}

// openCollaborator returns nil when no backend is configured.
func openCollaborator(cc config.CollaboratorConfig, log *zerolog.Logger) (*collab.Client, error) {
	switch cc.Backend {
	case "":
		return nil, nil
	case "openai":
		return collab.NewOpenAI(collab.OpenAIOptions{
			APIKey:  cc.APIKey,
			Model:   cc.Model,
			BaseURL: cc.BaseURL,
			Timeout: cc.Timeout.Std(),
			Logger:  log,
		})
	case "llama":
		m, err := registry.Resolve(cc.ModelPath, cc.Model)
		if err != nil {
			return nil, fmt.Errorf("collaborator model: %w", err)
		}
		log.Info().Str("model", m.ID).Str("path", m.Path).Msg("loading collaborator model")
		return collab.NewLlama(collab.LlamaOptions{
			ModelPath:   m.Path,
			ContextSize: cc.ContextSize,
			Threads:     cc.Threads,
			Logger:      log,
		})
	default:
		return nil, fmt.Errorf("unknown collaborator backend %q", cc.Backend)
	}
}
