package service_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/tourney/internal/adapters/llm"
	service "github.com/okian/tourney/internal/app"
	"github.com/okian/tourney/internal/config"
	"github.com/okian/tourney/internal/domain/tournament"
	"github.com/okian/tourney/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New(service.WithWorkerCount(2), service.WithQueueSize(8))

		Convey("When it is used before Start", func() {
			_, _, err := svc.CreateTournament(context.Background(), "", tournament.Params{Problem: "x", Lanes: 1, MaxRounds: 1})

			Convey("Then it should refuse", func() {
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})

		Convey("When starting the service", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then it should report itself started", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["workerCount"], ShouldEqual, 2)
				So(stats["tournaments"], ShouldEqual, 0)
			})

			Convey("And stopping it should mark it stopped", func() {
				svc.Stop()
				svc.Stop()
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})
	})
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()

	Convey("Given the default config", t, func() {
		cfg := config.New(ctx)

		Convey("When building the service", func() {
			svc, err := service.NewFromConfig(ctx, cfg, nil)

			Convey("Then it should start on the memory store", func() {
				So(err, ShouldBeNil)
				So(svc.Start(ctx), ShouldBeNil)
				svc.Stop()
			})
		})
	})

	Convey("Given a badger store config", t, func() {
		cfg := config.New(ctx)
		cfg.StoreDriver = config.StoreBadger
		cfg.BadgerPath = filepath.Join(t.TempDir(), "db")
		cfg.BadgerSyncWrites = false

		svc, err := service.NewFromConfig(ctx, cfg, nil)

		Convey("Then the store should open and close with the service", func() {
			So(err, ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			svc.Stop()
		})
	})

	Convey("Given a badger store config and a debug logger", t, func() {
		var buf bytes.Buffer
		So(logger.Init(logger.WithOutput(&buf), logger.WithFormat("json")), ShouldBeNil)
		logger.SetLevel(slog.LevelDebug)
		defer func() { _ = logger.Init() }()

		cfg := config.New(ctx)
		cfg.StoreDriver = config.StoreBadger
		cfg.BadgerPath = filepath.Join(t.TempDir(), "db")
		cfg.BadgerSyncWrites = false

		svc, err := service.NewFromConfig(ctx, cfg, logger.Get())
		So(err, ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)
		svc.Stop()

		Convey("Then badger lines should carry the badger component once under store", func() {
			for _, line := range strings.Split(buf.String(), "\n") {
				if !strings.Contains(line, `"component":"badger"`) {
					continue
				}
				So(strings.Count(line, `"component":"badger"`), ShouldEqual, 1)
				So(line, ShouldContainSubstring, `"component":"store"`)
			}
		})
	})

	Convey("Given an unknown store driver", t, func() {
		cfg := config.New(ctx)
		cfg.StoreDriver = "etcd"
		_, err := service.NewFromConfig(ctx, cfg, nil)

		Convey("Then building should fail", func() {
			So(errors.Is(err, service.ErrUnknownDriver), ShouldBeTrue)
		})
	})

	Convey("Given the openai proposer without a key", t, func() {
		cfg := config.New(ctx)
		cfg.Proposer = config.ProposerOpenAI
		cfg.OpenAIAPIKey = ""
		_, err := service.NewFromConfig(ctx, cfg, nil)

		Convey("Then building should fail", func() {
			So(errors.Is(err, llm.ErrMissingAPIKey), ShouldBeTrue)
		})
	})

	Convey("Given an inverted score scale", t, func() {
		cfg := config.New(ctx)
		cfg.ScoreMin, cfg.ScoreMax = 5, 1
		_, err := service.NewFromConfig(ctx, cfg, nil)

		Convey("Then building should fail", func() {
			So(err, ShouldNotBeNil)
		})
	})
}
