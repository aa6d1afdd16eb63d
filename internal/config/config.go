// Package config defines service configuration and its defaults.
package config

import (
	"context"
	"runtime"
	"time"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
)

// Proposer backends.
const (
	ProposerSimulated = "simulated"
	ProposerOpenAI    = "openai"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	StoreDriver      string `koanf:"store_driver" validate:"oneof=memory badger"`
	BadgerPath       string `koanf:"badger_path" validate:"required_if=StoreDriver badger"`
	BadgerSyncWrites bool   `koanf:"badger_sync_writes"`

	// Proposer selects where ideas and scores come from.
	Proposer      string `koanf:"proposer" validate:"oneof=simulated openai"`
	OpenAIModel   string `koanf:"openai_model"`
	OpenAIBaseURL string `koanf:"openai_base_url" validate:"omitempty,url"`
	OpenAIAPIKey  string `koanf:"openai_api_key" validate:"required_if=Proposer openai"`

	// Lane engine.
	LaneConcurrency       int     `koanf:"lane_concurrency" validate:"gte=1"`
	LaneTimeoutMS         int     `koanf:"lane_timeout_ms" validate:"gte=1"`
	ProposeRetries        int     `koanf:"propose_retries" validate:"gte=0"`
	RetryInitialBackoffMS int     `koanf:"retry_initial_backoff_ms" validate:"gte=1"`
	RetryMaxBackoffMS     int     `koanf:"retry_max_backoff_ms" validate:"gtefield=RetryInitialBackoffMS"`
	ExternalRPS           float64 `koanf:"external_rps" validate:"gte=0"`
	ExternalBurst         int     `koanf:"external_burst" validate:"gte=0"`

	// Tournament rules.
	StallLimit        int     `koanf:"stall_limit" validate:"gte=1"`
	ScoreMin          float64 `koanf:"score_min"`
	ScoreMax          float64 `koanf:"score_max" validate:"gtfield=ScoreMin"`
	MaxCommitFailures int     `koanf:"max_commit_failures" validate:"gte=1"`

	// SubscriberBuffer bounds each stream subscriber's pending events.
	SubscriberBuffer int `koanf:"subscriber_buffer" validate:"gte=1"`
	// SSEHeartbeatMS is the idle interval between SSE keep-alive comments.
	SSEHeartbeatMS int `koanf:"sse_heartbeat_ms" validate:"gte=100"`

	// QueueSize bounds pending auto-run round jobs.
	QueueSize int `koanf:"queue_size" validate:"gte=1"`
	// WorkerCount sets the number of round workers.
	WorkerCount int `koanf:"worker_count" validate:"gte=1"`
	// DedupeSize bounds remembered request ids.
	DedupeSize int `koanf:"dedupe_size" validate:"gte=0"`

	// Simulated external service.
	SimulatedLatencyMinMS int     `koanf:"simulated_latency_min_ms" validate:"gte=0"`
	SimulatedLatencyMaxMS int     `koanf:"simulated_latency_max_ms" validate:"gtefield=SimulatedLatencyMinMS"`
	SimulatedFailureRate  float64 `koanf:"simulated_failure_rate" validate:"gte=0,lte=1"`
	SimulatedSeed         int64   `koanf:"simulated_seed"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:              "info",
		LogFormat:             "text",
		Addr:                  ":9080",
		StoreDriver:           StoreMemory,
		BadgerPath:            "data/tourney",
		BadgerSyncWrites:      true,
		Proposer:              ProposerSimulated,
		OpenAIModel:           "gpt-4o-mini",
		LaneConcurrency:       8,
		LaneTimeoutMS:         30_000,
		ProposeRetries:        2,
		RetryInitialBackoffMS: 100,
		RetryMaxBackoffMS:     2_000,
		ExternalRPS:           0,
		ExternalBurst:         0,
		StallLimit:            2,
		ScoreMin:              1,
		ScoreMax:              5,
		MaxCommitFailures:     3,
		SubscriberBuffer:      64,
		SSEHeartbeatMS:        15_000,
		QueueSize:             1024,
		WorkerCount:           runtime.NumCPU(),
		DedupeSize:            50_000,
		SimulatedLatencyMinMS: 80,
		SimulatedLatencyMaxMS: 150,
		SimulatedFailureRate:  0,
		SimulatedSeed:         42,
	}
}

// LaneTimeout returns LaneTimeoutMS as a duration.
func (c *Config) LaneTimeout() time.Duration { return ms(c.LaneTimeoutMS) }

// RetryBackoff returns the initial and maximum retry backoff.
func (c *Config) RetryBackoff() (initial, maxBackoff time.Duration) {
	return ms(c.RetryInitialBackoffMS), ms(c.RetryMaxBackoffMS)
}

// SimulatedLatency returns the simulated latency bounds.
func (c *Config) SimulatedLatency() (minLatency, maxLatency time.Duration) {
	return ms(c.SimulatedLatencyMinMS), ms(c.SimulatedLatencyMaxMS)
}

// SSEHeartbeat returns SSEHeartbeatMS as a duration.
func (c *Config) SSEHeartbeat() time.Duration { return ms(c.SSEHeartbeatMS) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
