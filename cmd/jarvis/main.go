package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/jarvis-connect/backend/internal/config"
	"github.com/zhouzirui/jarvis-connect/backend/internal/handler"
	"github.com/zhouzirui/jarvis-connect/backend/internal/logger"
	"github.com/zhouzirui/jarvis-connect/backend/internal/model/persona"
	"github.com/zhouzirui/jarvis-connect/backend/internal/service/ai"
	"github.com/zhouzirui/jarvis-connect/backend/internal/service/auth"
	chatservice "github.com/zhouzirui/jarvis-connect/backend/internal/service/chat"
	"github.com/zhouzirui/jarvis-connect/backend/internal/service/tab"
	"github.com/zhouzirui/jarvis-connect/backend/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "jarvis",
	Short:         "JARVIS Connect: biometric login and assistant chat",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var (
	flagEnvFile      string
	flagPort         string
	flagStore        string
	flagChatEndpoint string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagEnvFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	serveFlags := rootCmd.Flags()
	serveFlags.StringVar(&flagPort, "port", "", "listen port or address (overrides PORT)")
	serveFlags.StringVar(&flagStore, "store", "", "session store backend: memory, pebble or redis (overrides STORE_BACKEND)")
	serveFlags.StringVar(&flagChatEndpoint, "chat-endpoint", "", "assistant endpoint used by the chat page (overrides CHAT_ENDPOINT)")

	rootCmd.AddCommand(probeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "jarvis:", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and then applies the command flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := applyFlags(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config) error {
	if flagPort != "" {
		addr, err := config.ParseAddr(flagPort)
		if err != nil {
			return err
		}
		defaultEndpoint := cfg.Server.LocalURL() + "/api/chat"
		cfg.Server.Addr = addr
		if cfg.Chat.Endpoint == defaultEndpoint {
			cfg.Chat.Endpoint = cfg.Server.LocalURL() + "/api/chat"
		}
	}
	if flagStore != "" {
		cfg.Store.Backend = flagStore
	}
	if flagChatEndpoint != "" {
		cfg.Chat.Endpoint = flagChatEndpoint
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 没有 .env 也能运行，只使用系统环境变量。
	envErr := godotenv.Load(flagEnvFile)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logger.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	undo := zap.ReplaceGlobals(log)
	defer undo()

	if envErr != nil {
		log.Warn("env file not loaded, using process environment only",
			zap.String("file", flagEnvFile), zap.Error(envErr))
	}

	provider, err := openProvider(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			log.Warn("close session store", zap.Error(err))
		}
	}()
	log.Info("session store ready", zap.String("backend", cfg.Store.Backend))

	personas := persona.NewMemoryStore(persona.Seed())
	active := persona.Resolve(personas, persona.DefaultID)

	var responder ai.Responder
	if cfg.AI.Enabled() {
		responder, err = ai.NewResponder(ctx, cfg.AI, active, log.Named("ai"))
		if err != nil {
			log.Warn("assistant model unavailable, /api/chat will answer 503", zap.Error(err))
			responder = nil
		} else {
			log.Info("assistant model configured", zap.String("provider", cfg.AI.Provider))
		}
	} else {
		log.Warn("no LLM credentials configured, /api/chat will answer 503")
	}

	authCfg := auth.DefaultConfig()
	authCfg.MaxSizeMB = cfg.Auth.MaxImageMB
	authCfg.RedirectDelay = cfg.Auth.RedirectDelay

	tabs := tab.NewRegistry(tab.Deps{
		Provider:      provider,
		Quota:         cfg.Store.QuotaBytes,
		Exchanger:     chatservice.NewHTTPClient(cfg.Chat.Endpoint, nil, log.Named("exchange")),
		Persona:       active,
		Authenticator: auth.SimulatedAuthenticator{Delay: cfg.Auth.Delay},
		AuthConfig:    authCfg,
		Logger:        log.Named("tab"),
	}, cfg.Store.TabTTL)
	defer tabs.Close()

	router := handler.NewRouter(handler.Deps{
		Tabs:       tabs,
		Personas:   personas,
		PersonaID:  active.ID,
		Responder:  responder,
		MaxImageMB: cfg.Auth.MaxImageMB,
		Logger:     log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("JARVIS Connect listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("chat_endpoint", cfg.Chat.Endpoint))
	if err := runServer(ctx, srv); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// openProvider opens the session store backend named in cfg.
func openProvider(ctx context.Context, cfg config.StoreConfig) (store.Provider, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return store.NewMemoryProvider(), nil
	case config.BackendPebble:
		p, err := store.OpenPebble(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open pebble store at %s: %w", cfg.Path, err)
		}
		return p, nil
	case config.BackendRedis:
		p, err := store.NewRedisProvider(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.TabTTL)
		if err != nil {
			return nil, fmt.Errorf("connect redis store at %s: %w", cfg.RedisAddr, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
