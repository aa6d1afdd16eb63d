// Package driver exercises a running tournament service end to end over
// HTTP: it creates tournaments, drives them to a terminal state and checks
// their recorded history.
package driver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/tourney/internal/adapters/http/api"
	"github.com/okian/tourney/internal/domain/model"
	"github.com/okian/tourney/pkg/logger"
)

// Run creates cfg.Tournaments tournaments, drives each to completion and
// verifies them. It fails on the first tournament that does not verify.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	log.Info(ctx, "starting tournament driver",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("tournaments", cfg.Tournaments),
		logger.Int("lanes", cfg.Lanes),
		logger.Int("rounds", cfg.Rounds),
		logger.Int("workers", cfg.Workers),
		logger.String("mode", cfg.Mode))

	c := newHTTPClient(cfg.BaseURL, cfg.Timeout)
	if err := checkServiceHealth(ctx, c); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for i := 0; i < cfg.Tournaments; i++ {
		g.Go(func() error {
			res, err := driveOne(gctx, c, cfg, log)
			mu.Lock()
			defer mu.Unlock()
			if res.created {
				stats.Created++
			}
			if res.duplicate {
				stats.Duplicates++
			}
			if err != nil {
				return fmt.Errorf("tournament %d: %w", i, err)
			}
			switch res.status {
			case model.StatusCompleted:
				stats.Completed++
			case model.StatusFailed:
				stats.Failed++
			}
			stats.RoundsVerified += res.rounds
			return nil
		})
	}
	err := g.Wait()
	stats.Duration = time.Since(stats.StartTime)

	log.Info(ctx, "final statistics",
		logger.Int("created", stats.Created),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("completed", stats.Completed),
		logger.Int("failed", stats.Failed),
		logger.Int("roundsVerified", stats.RoundsVerified),
		logger.Duration("duration", stats.Duration))
	return stats, err
}

func checkServiceHealth(ctx context.Context, c *httpClient) error {
	var status map[string]string
	if _, err := c.getJSON(ctx, "/healthz", &status); err != nil {
		return err
	}
	if status["status"] != "ok" {
		return fmt.Errorf("service reports %q", status["status"])
	}
	return nil
}

type driveResult struct {
	created   bool
	duplicate bool
	status    model.Status
	rounds    int
}

func driveOne(ctx context.Context, c *httpClient, cfg *Config, log logger.Logger) (driveResult, error) {
	var res driveResult
	req := api.CreateRequest{
		RequestID: uuid.NewString(),
		Problem:   cfg.Problem,
		Lanes:     cfg.Lanes,
		MaxRounds: cfg.Rounds,
	}

	var created api.CreateResponse
	if _, err := c.postJSON(ctx, "/tournaments", req, &created, nil); err != nil {
		return res, fmt.Errorf("create: %w", err)
	}
	res.created = true
	id := created.Tournament.ID
	log = log.With(logger.String("tournament_id", id))

	// A retried create must resolve to the same tournament.
	var again api.CreateResponse
	status, err := c.postJSON(ctx, "/tournaments", req, &again, nil)
	if err != nil {
		return res, fmt.Errorf("retry create: %w", err)
	}
	if !again.Duplicate || again.Tournament.ID != id || status != http.StatusOK {
		return res, fmt.Errorf("retry create returned %s (duplicate=%t, status %d), want %s",
			again.Tournament.ID, again.Duplicate, status, id)
	}
	res.duplicate = true

	if cfg.Mode == ModeManual {
		err = driveManual(ctx, c, id, cfg.Verbose, log)
	} else {
		err = driveAuto(ctx, c, id, cfg.Verbose, log)
	}
	if err != nil {
		return res, err
	}

	var t model.Tournament
	if _, err := c.getJSON(ctx, "/tournaments/"+id, &t); err != nil {
		return res, fmt.Errorf("read tournament: %w", err)
	}
	var rounds []model.RoundSummary
	if _, err := c.getJSON(ctx, "/tournaments/"+id+"/rounds", &rounds); err != nil {
		return res, fmt.Errorf("read rounds: %w", err)
	}
	if err := verifyHistory(t, rounds); err != nil {
		return res, err
	}
	res.status, res.rounds = t.Status, len(rounds)
	log.Info(ctx, "tournament verified",
		logger.String("status", string(t.Status)),
		logger.Int("rounds", len(rounds)))
	return res, nil
}

// driveManual posts rounds until one comes back final.
func driveManual(ctx context.Context, c *httpClient, id string, verbose bool, log logger.Logger) error {
	for {
		var s model.RoundSummary
		if _, err := c.postJSON(ctx, "/tournaments/"+id+"/rounds", api.RunRoundRequest{}, &s, nil); err != nil {
			return fmt.Errorf("run round: %w", err)
		}
		if verbose {
			log.Info(ctx, "round committed", logger.Int("round", s.Round), logger.Int("stalled", len(s.Stalled)))
		}
		if s.Final {
			return nil
		}
	}
}

// driveAuto subscribes first, then starts the server-side chain and reads
// the stream until final. Rounds on the stream must arrive in order.
func driveAuto(ctx context.Context, c *httpClient, id string, verbose bool, log logger.Logger) error {
	resp, err := c.stream(ctx, id)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if _, err := c.postJSON(ctx, "/tournaments/"+id+"/start", nil, nil, nil); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	last := 0
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var ev model.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		switch ev.Type {
		case model.EventRound:
			if ev.Round == nil || ev.Round.Round != last+1 {
				return fmt.Errorf("stream skipped from round %d", last)
			}
			last = ev.Round.Round
			if verbose {
				log.Info(ctx, "round streamed", logger.Int("round", last))
			}
		case model.EventFinal:
			return nil
		case model.EventResubscribe:
			return fmt.Errorf("stream dropped at round %d", last)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return fmt.Errorf("stream ended without a final event after round %d", last)
}
