// Package config loads and holds all masking service configuration.
// Settings are read from environment variables first, then maskd-config.json.
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
)

// Config holds the full service configuration.
type Config struct {
	APIPort         int    `json:"apiPort"`
	ManagementPort  int    `json:"managementPort"`
	BindAddress     string `json:"bindAddress"`
	APIToken        string `json:"apiToken"`
	ManagementToken string `json:"managementToken"`
	LogLevel        string `json:"logLevel"`

	// Mapping store: "bbolt" (embedded, default), "redis" or "memory".
	StoreBackend string `json:"storeBackend"`
	StorePath    string `json:"storePath"`
	RedisURL     string `json:"redisUrl"`

	// Entity detection.
	DetectorEndpoint string  `json:"detectorEndpoint"`
	DetectorModel    string  `json:"detectorModel"`
	UseAIDetection   bool    `json:"useAIDetection"`
	AIConfidence     float64 `json:"aiConfidenceThreshold"`

	// Span merging and canonicalization policy.
	MergeMaxLineBreaks int  `json:"mergeMaxLineBreaks"`
	MergeAcrossHyphen  bool `json:"mergeAcrossHyphen"`
	FuzzyDistance      int  `json:"fuzzyDistance"`

	// Largest accepted document, in bytes.
	MaxDocumentBytes int64 `json:"maxDocumentBytes"`
}

// Load returns config with defaults overridden by maskd-config.json and env vars.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, "maskd-config.json")
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		APIPort:          8090,
		ManagementPort:   8091,
		BindAddress:      "127.0.0.1",
		LogLevel:         "info",
		StoreBackend:     "bbolt",
		StorePath:        "mappings.db",
		RedisURL:         "redis://localhost:6379/0",
		DetectorEndpoint: "http://localhost:11434",
		DetectorModel:    "qwen2.5:3b",
		UseAIDetection:   true,
		AIConfidence:     0.7,

		MergeMaxLineBreaks: 1,
		MergeAcrossHyphen:  false,
		FuzzyDistance:      0,

		MaxDocumentBytes: 10 << 20,
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.APIPort = n
		}
	}
	if v := os.Getenv("MANAGEMENT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ManagementPort = n
		}
	}
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("API_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	if v := os.Getenv("MANAGEMENT_TOKEN"); v != "" {
		cfg.ManagementToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.StoreBackend = v
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("DETECTOR_ENDPOINT"); v != "" {
		cfg.DetectorEndpoint = v
	}
	if v := os.Getenv("DETECTOR_MODEL"); v != "" {
		cfg.DetectorModel = v
	}
	if v := os.Getenv("USE_AI_DETECTION"); v == "false" {
		cfg.UseAIDetection = false
	}
	if v := os.Getenv("AI_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.AIConfidence = f
		}
	}
	if v := os.Getenv("MERGE_MAX_LINE_BREAKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MergeMaxLineBreaks = n
		}
	}
	if v := os.Getenv("MERGE_ACROSS_HYPHEN"); v == "true" {
		cfg.MergeAcrossHyphen = true
	}
	if v := os.Getenv("FUZZY_DISTANCE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.FuzzyDistance = n
		}
	}
	if v := os.Getenv("MAX_DOCUMENT_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxDocumentBytes = n
		}
	}
}
