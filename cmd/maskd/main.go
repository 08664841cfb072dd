// Command maskd is the reversible entity masking service.
//
// It accepts documents over HTTP, detects personal entities using a
// combination of regex patterns and a local Ollama model, replaces each
// entity with a stable typed placeholder (PERSON1, ORG1, ...), and archives
// the placeholder mapping so the document can be exactly restored later.
//
// Usage:
//
//	# Embedded bbolt mapping store (default)
//	./maskd
//
//	# Redis-backed mapping store
//	STORE_BACKEND=redis REDIS_URL=redis://localhost:6379/0 ./maskd
//
//	# Custom ports, regex detection only
//	API_PORT=9090 USE_AI_DETECTION=false ./maskd
package main

import (
	"fmt"
	"log"

	"github.com/panteleyshmelev/pii-anon-3/internal/api"
	"github.com/panteleyshmelev/pii-anon-3/internal/config"
	"github.com/panteleyshmelev/pii-anon-3/internal/detect"
	"github.com/panteleyshmelev/pii-anon-3/internal/layout"
	"github.com/panteleyshmelev/pii-anon-3/internal/logger"
	"github.com/panteleyshmelev/pii-anon-3/internal/management"
	"github.com/panteleyshmelev/pii-anon-3/internal/metrics"
	"github.com/panteleyshmelev/pii-anon-3/internal/render"
	"github.com/panteleyshmelev/pii-anon-3/internal/service"
	"github.com/panteleyshmelev/pii-anon-3/internal/store"
)

func main() {
	cfg := config.Load()

	printBanner(cfg)

	mappings, err := openStore(cfg)
	if err != nil {
		log.Fatalf("[STORE] Fatal: %v", err)
	}
	defer mappings.Close() //nolint:errcheck // process exit

	m := metrics.New()

	// The entity registry is shared by the pipeline and the management API.
	// Runtime toggles are persisted to mask-entities.json and restored on restart.
	entities := management.NewEntityRegistry("mask-entities.json")

	// Start management API in background.
	// Fatal is intentional: the service should not run without its control plane.
	mgmt := management.New(cfg, entities, m)
	go func() {
		if err := mgmt.ListenAndServe(); err != nil {
			log.Fatalf("[MANAGEMENT] Fatal: %v", err)
		}
	}()

	svc := service.New(cfg,
		layout.TextExtractor{},
		buildDetector(cfg),
		render.NewText(),
		mappings,
		entities,
		m,
		logger.New("service", cfg.LogLevel),
	)

	srv := api.New(cfg, svc, m, logger.New("api", cfg.LogLevel))
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("[API] Fatal: %v", err)
	}
}

func openStore(cfg *config.Config) (store.MappingStore, error) {
	switch cfg.StoreBackend {
	case "bbolt":
		return store.NewBbolt(cfg.StorePath)
	case "redis":
		return store.NewRedis(cfg.RedisURL)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func buildDetector(cfg *config.Config) detect.Detector {
	regex := detect.NewRegexDetector(logger.New("detect", cfg.LogLevel))
	if !cfg.UseAIDetection {
		return regex
	}
	llm := detect.NewLLMDetector(cfg.DetectorEndpoint, cfg.DetectorModel,
		cfg.AIConfidence, logger.New("detect", cfg.LogLevel))
	return detect.Multi{regex, llm}
}

func printBanner(cfg *config.Config) {
	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          Reversible Entity Masking Service           ║
╚══════════════════════════════════════════════════════╝
  API port        : %d
  Management port : %d
  Mapping store   : %s
  Model endpoint  : %s
  Model           : %s
  AI detection    : %v

  Mask a document:
    curl -X POST --data-binary @doc.txt http://localhost:%d/v1/mask

  Check status:
    curl http://localhost:%d/status
`, cfg.APIPort, cfg.ManagementPort,
		cfg.StoreBackend,
		cfg.DetectorEndpoint, cfg.DetectorModel, cfg.UseAIDetection,
		cfg.APIPort,
		cfg.ManagementPort)
}
