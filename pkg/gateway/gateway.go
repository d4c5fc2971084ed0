// Package gateway provides a reusable plan-generation gateway library that
// can be embedded into other Go applications.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/advisehq/plan-gateway/internal/api"
	"github.com/advisehq/plan-gateway/internal/config"
	"github.com/advisehq/plan-gateway/internal/generator"
	"github.com/advisehq/plan-gateway/internal/generator/openai"
	"github.com/advisehq/plan-gateway/internal/generator/stub"
	"github.com/advisehq/plan-gateway/internal/service"
	"github.com/advisehq/plan-gateway/internal/store"
	"github.com/advisehq/plan-gateway/pkg/logger"
)

// Gateway represents a plan gateway instance that can be embedded in applications
type Gateway struct {
	config  *Config
	service *service.Service
	router  http.Handler
	server  *http.Server
	logger  *logger.Logger
}

// Config holds the configuration for the Gateway
type Config struct {
	// Server configuration
	Server ServerConfig

	// Authentication configuration
	Auth AuthConfig

	// Generator configuration (openai or stub)
	Generator GeneratorConfig

	// Storage configuration (memory or sqlite)
	Storage StorageConfig

	// Jobs configuration
	Jobs JobsConfig

	// Logger configuration
	Logging LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// APIKeys is a list of API keys for authentication
	APIKeys []APIKey
}

// APIKey represents an API key for authentication
type APIKey struct {
	Name string
	Key  string
}

// GeneratorConfig holds plan generator configuration
type GeneratorConfig struct {
	Kind string // "openai" or "stub"

	// OpenAI-specific configuration
	OpenAI *OpenAIConfig

	// Custom overrides Kind with a caller-supplied generator. Use this
	// to embed the gateway around your own model integration.
	Custom generator.Generator
}

// OpenAIConfig holds OpenAI chat completion configuration
type OpenAIConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// StorageConfig holds job and plan storage configuration
type StorageConfig struct {
	Kind string // "memory" or "sqlite"
	Path string // sqlite database file
}

// JobsConfig holds generation job configuration
type JobsConfig struct {
	MaxAttempts int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

// New creates a new Gateway instance with the provided configuration
func New(cfg *Config) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	// Initialize logger
	appLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	// Initialize storage
	var st store.Store
	var err error

	switch cfg.Storage.Kind {
	case "", "memory":
		st = store.NewMemoryStore()
		appLogger.Info("initialized in-memory store")

	case "sqlite":
		if cfg.Storage.Path == "" {
			return nil, fmt.Errorf("storage path required when storage kind is 'sqlite'")
		}
		st, err = store.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite store: %w", err)
		}
		appLogger.Info("initialized sqlite store", "path", cfg.Storage.Path)

	default:
		return nil, fmt.Errorf("unsupported storage kind: %s", cfg.Storage.Kind)
	}

	// Initialize plan generator
	var gen generator.Generator

	switch {
	case cfg.Generator.Custom != nil:
		gen = cfg.Generator.Custom
		appLogger.Info("initialized custom generator")

	case cfg.Generator.Kind == "stub":
		gen = stub.New()
		appLogger.Info("initialized stub generator")

	case cfg.Generator.Kind == "" || cfg.Generator.Kind == "openai":
		if cfg.Generator.OpenAI == nil {
			return nil, fmt.Errorf("openai configuration required when generator kind is 'openai'")
		}
		gen, err = openai.New(openai.Config{
			APIKey:    cfg.Generator.OpenAI.APIKey,
			Model:     cfg.Generator.OpenAI.Model,
			MaxTokens: cfg.Generator.OpenAI.MaxTokens,
		}, appLogger)
		if err != nil {
			return nil, fmt.Errorf("initialize openai generator: %w", err)
		}
		appLogger.Info("initialized openai generator", "model", cfg.Generator.OpenAI.Model)

	default:
		return nil, fmt.Errorf("unsupported generator kind: %s", cfg.Generator.Kind)
	}

	// Initialize service layer
	svc := service.NewService(st, gen, appLogger, service.Options{
		MaxAttempts: cfg.Jobs.MaxAttempts,
	})

	// Initialize API layer
	handlers := api.NewHandlers(svc)

	// Convert APIKeys to internal config format
	configAPIKeys := make([]config.APIKey, len(cfg.Auth.APIKeys))
	for i, key := range cfg.Auth.APIKeys {
		configAPIKeys[i] = config.APIKey{
			Name: key.Name,
			Key:  key.Key,
		}
	}
	authMiddleware := api.NewAuthMiddleware(configAPIKeys)
	loggingMiddleware := api.NewLoggingMiddleware(appLogger)
	router := api.NewRouter(handlers, authMiddleware, loggingMiddleware)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Gateway{
		config:  cfg,
		service: svc,
		router:  router,
		server:  srv,
		logger:  appLogger,
	}, nil
}

// Start starts the HTTP server
// This is a blocking call that will run until the context is canceled or an error occurs
func (g *Gateway) Start(ctx context.Context) error {
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		g.logger.Info("starting http server", "port", g.config.Server.Port)
		serverErrors <- g.server.ListenAndServe()
	}()

	// Wait for context cancellation or server error
	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		g.logger.Info("shutdown signal received")

		// Graceful shutdown with 30s timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := g.server.Shutdown(shutdownCtx); err != nil {
			g.server.Close()
			g.service.Stop()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// Let in-flight generation jobs observe cancellation
		g.service.Stop()

		g.logger.Info("server stopped gracefully")
		return nil
	}
}

// Handler returns the http.Handler for the gateway
// Use this if you want to integrate the gateway into an existing HTTP server
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Service returns the underlying service layer
// Use this for direct programmatic access to gateway functionality
func (g *Gateway) Service() *service.Service {
	return g.service
}

// NewFromEnv creates a Gateway instance from a YAML config file with
// environment variable expansion.
// This is a convenience function that mirrors the behavior of the standalone gateway
func NewFromEnv(configPath string) (*Gateway, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Convert APIKeys from internal config format
	gwAPIKeys := make([]APIKey, len(cfg.Auth.APIKeys))
	for i, key := range cfg.Auth.APIKeys {
		gwAPIKeys[i] = APIKey{
			Name: key.Name,
			Key:  key.Key,
		}
	}

	gwConfig := &Config{
		Server: ServerConfig{
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		Auth: AuthConfig{
			APIKeys: gwAPIKeys,
		},
		Generator: GeneratorConfig{
			Kind: cfg.Generator.Provider,
			OpenAI: &OpenAIConfig{
				APIKey:    cfg.Generator.OpenAI.APIKey,
				Model:     cfg.Generator.OpenAI.Model,
				MaxTokens: cfg.Generator.OpenAI.MaxTokens,
			},
		},
		Storage: StorageConfig{
			Kind: cfg.Storage.Kind,
			Path: cfg.Storage.Path,
		},
		Jobs: JobsConfig{
			MaxAttempts: cfg.Jobs.MaxAttempts,
		},
		Logging: LoggingConfig{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		},
	}

	return New(gwConfig)
}
