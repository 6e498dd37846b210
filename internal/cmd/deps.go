package cmd

import (
	"fmt"
	"time"

	"github.com/homewarden/warden/internal/audit"
	"github.com/homewarden/warden/internal/catalog"
	"github.com/homewarden/warden/internal/config"
	"github.com/homewarden/warden/internal/executor"
	"github.com/homewarden/warden/internal/hass"
	"github.com/homewarden/warden/internal/history"
	"github.com/homewarden/warden/internal/llm"
	"github.com/homewarden/warden/internal/pipeline"
	"github.com/homewarden/warden/internal/prompt"
	"github.com/homewarden/warden/internal/sanitize"
	"github.com/homewarden/warden/internal/validator"
)

// app bundles the wired assistant for commands that need the full pipeline.
type app struct {
	cfg      *config.Config
	catalog  *catalog.Catalog
	store    *history.Store
	audit    *audit.Logger
	pipeline *pipeline.Pipeline
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.audit != nil {
		_ = a.audit.Close()
	}
}

// buildApp loads config and wires the full request pipeline. Callers must
// close() the returned app.
func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	auditLog, err := audit.NewLogger(cfg.AuditLogPath(), cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("initializing audit log: %w", err)
	}

	san, err := sanitize.New(sanitize.WithRecorder(auditLog))
	if err != nil {
		_ = auditLog.Close()
		return nil, fmt.Errorf("initializing sanitizer: %w", err)
	}

	cat, err := loadCatalog(cfg)
	if err != nil {
		_ = auditLog.Close()
		return nil, err
	}

	store, err := history.NewStore(
		cfg.HistoryDBPath(),
		cfg.MaxHistoryTurns,
		time.Duration(cfg.HistoryMaxAgeDays)*24*time.Hour,
		san,
		auditLog,
	)
	if err != nil {
		_ = auditLog.Close()
		return nil, fmt.Errorf("initializing history store: %w", err)
	}

	platform := hass.New(cfg.HassBaseURL, cfg.HassToken)
	builder := prompt.New(cat, san, platform,
		prompt.WithHistoryTurns(cfg.PromptHistoryTurns),
		prompt.WithMaxContextEntities(cfg.MaxContextEntities),
	)

	pipe := pipeline.New(pipeline.Config{
		Sanitizer:     san,
		Store:         store,
		Builder:       builder,
		Provider:      llm.NewOllamaProvider(cfg.OllamaBaseURL),
		Validator:     validator.New(san, cat, auditLog),
		Executor:      executor.New(cat, platform, auditLog),
		Audit:         auditLog,
		Model:         cfg.Model,
		MaxInputChars: cfg.MaxInputChars,
	})

	return &app{
		cfg:      cfg,
		catalog:  cat,
		store:    store,
		audit:    auditLog,
		pipeline: pipe,
	}, nil
}

// loadConfigAndCatalog is the light path for read-only commands that don't
// need the pipeline, audit log, or history database.
func loadConfigAndCatalog() (*config.Config, *catalog.Catalog, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cat, nil
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath == "" {
		cat, err := catalog.Default()
		if err != nil {
			return nil, fmt.Errorf("loading embedded catalog: %w", err)
		}
		return cat, nil
	}
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("loading catalog %s: %w", cfg.CatalogPath, err)
	}
	return cat, nil
}
