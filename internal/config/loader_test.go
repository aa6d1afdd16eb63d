package config_test

import (
	"context"
	"errors"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/tourney/internal/config"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreMemory)
			convey.So(cfg.Proposer, convey.ShouldEqual, config.ProposerSimulated)
			convey.So(cfg.StallLimit, convey.ShouldEqual, 2)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.ScoreMin, convey.ShouldEqual, 1)
			convey.So(cfg.ScoreMax, convey.ShouldEqual, 5)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then durations should be derived from milliseconds", func() {
			convey.So(cfg.LaneTimeout(), convey.ShouldEqual, 30*time.Second)
			lo, hi := cfg.SimulatedLatency()
			convey.So(lo, convey.ShouldEqual, 80*time.Millisecond)
			convey.So(hi, convey.ShouldEqual, 150*time.Millisecond)
			initial, maxBackoff := cfg.RetryBackoff()
			convey.So(initial, convey.ShouldEqual, 100*time.Millisecond)
			convey.So(maxBackoff, convey.ShouldEqual, 2*time.Second)
		})
	})
}

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1024)
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 50_000)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("TOURNEY_ADDR", ":8080")
			_ = os.Setenv("TOURNEY_STALL_LIMIT", "4")
			_ = os.Setenv("TOURNEY_EXTERNAL_RPS", "2.5")
			_ = os.Setenv("TOURNEY_BADGER_SYNC_WRITES", "false")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.StallLimit, convey.ShouldEqual, 4)
				convey.So(cfg.ExternalRPS, convey.ShouldEqual, 2.5)
				convey.So(cfg.BadgerSyncWrites, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			tmpFile := createTempConfigFile(`
# store on disk
addr: ":9090"
store_driver: badger
badger_path: /tmp/tourney-test
worker_count: 3
score_min: 0
score_max: 10
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("TOURNEY_CONFIG", tmpFile)
			_ = os.Setenv("TOURNEY_WORKER_COUNT", "6")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreBadger)
				convey.So(cfg.BadgerPath, convey.ShouldEqual, "/tmp/tourney-test")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 6)
				convey.So(cfg.ScoreMax, convey.ShouldEqual, 10)
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1024)
			})
		})

		convey.Convey("When the config file does not parse", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("TOURNEY_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should be a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("TOURNEY_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("TOURNEY_QUEUE_SIZE", "invalid")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the openai proposer has no key anywhere", func() {
			_ = os.Setenv("TOURNEY_PROPOSER", "openai")
			_ = os.Setenv("OPENAI_API_KEY", "")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then it should be rejected", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "OpenAIAPIKey")
			})
		})

		convey.Convey("When the openai key comes from the conventional variable", func() {
			_ = os.Setenv("TOURNEY_PROPOSER", "openai")
			_ = os.Setenv("OPENAI_API_KEY", "sk-test")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should be picked up", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.OpenAIAPIKey, convey.ShouldEqual, "sk-test")
			})
		})
	})
}

func TestConfigValidate(t *testing.T) {
	convey.Convey("Given configs that break a rule", t, func() {
		cases := map[string]func(c *config.Config){
			"ScoreMax":              func(c *config.Config) { c.ScoreMax = c.ScoreMin },
			"StallLimit":            func(c *config.Config) { c.StallLimit = 0 },
			"StoreDriver":           func(c *config.Config) { c.StoreDriver = "postgres" },
			"BadgerPath":            func(c *config.Config) { c.StoreDriver, c.BadgerPath = config.StoreBadger, "" },
			"SimulatedFailureRate":  func(c *config.Config) { c.SimulatedFailureRate = 1.5 },
			"SimulatedLatencyMaxMS": func(c *config.Config) { c.SimulatedLatencyMinMS, c.SimulatedLatencyMaxMS = 100, 10 },
			"LogLevel":              func(c *config.Config) { c.LogLevel = "loud" },
		}
		for field, breakIt := range cases {
			cfg := config.New(context.Background())
			breakIt(cfg)
			err := cfg.Validate()

			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, field)
		}
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"TOURNEY_CONFIG",
		"TOURNEY_ADDR",
		"TOURNEY_STALL_LIMIT",
		"TOURNEY_EXTERNAL_RPS",
		"TOURNEY_BADGER_SYNC_WRITES",
		"TOURNEY_WORKER_COUNT",
		"TOURNEY_QUEUE_SIZE",
		"TOURNEY_PROPOSER",
		"OPENAI_API_KEY",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "tourney-config-*.yaml")
	if err != nil {
		panic(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	if err := tmpFile.Close(); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
