package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/phishguard/phishguard/internal/artifact"
	"github.com/phishguard/phishguard/internal/classifier"
	"github.com/phishguard/phishguard/internal/config"
	"github.com/phishguard/phishguard/internal/features"
	"github.com/phishguard/phishguard/internal/logging"
	"github.com/phishguard/phishguard/internal/pipeline"
)

// app holds everything a command needs to scan.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	loader  *artifact.Loader
	gate    *artifact.Gate
	engine  classifier.Engine
	scanner *pipeline.Scanner
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist yet.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	path := resolveConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) && cfgFile == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	lex, err := features.LoadLexicon(cfg.Lexicon)
	if err != nil {
		return nil, fmt.Errorf("failed to load lexicon: %w", err)
	}
	extractor, err := features.NewExtractor(lex, log)
	if err != nil {
		return nil, err
	}

	engine, err := newEngine(cfg.Model, log)
	if err != nil {
		return nil, err
	}

	loader := artifact.NewLoader(cfg.Artifacts.Dir, cfg.Artifacts.Files, log)
	gate := artifact.NewGate(loader.Load, log)

	scanner := pipeline.NewScanner(gate, extractor, engine, log, pipeline.WithInputName(cfg.Model.InputName))
	return &app{
		cfg:     cfg,
		log:     log,
		loader:  loader,
		gate:    gate,
		engine:  engine,
		scanner: scanner,
	}, nil
}

func newEngine(cfg config.ModelConfig, log zerolog.Logger) (classifier.Engine, error) {
	switch cfg.Engine {
	case "remote":
		return classifier.NewRemote(classifier.RemoteConfig{Endpoint: cfg.Endpoint, Timeout: cfg.Timeout()}, log), nil
	case "linear":
		m, err := classifier.LoadLinear(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load model: %w", err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown model engine %q", cfg.Engine)
}

// start begins loading artifacts in the background.
func (a *app) start(ctx context.Context) {
	a.gate.Start(ctx)
}
