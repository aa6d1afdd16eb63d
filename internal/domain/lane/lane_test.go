package lane_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/tourney/internal/domain/lane"
	"github.com/okian/tourney/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeProposer struct {
	calls    atomic.Int32
	failures int32 // fail this many calls before succeeding
	hang     bool
}

func (p *fakeProposer) Propose(ctx context.Context, champion *model.Idea, _ model.Tournament) (model.Idea, error) {
	n := p.calls.Add(1)
	if p.hang {
		<-ctx.Done()
		return model.Idea{}, ctx.Err()
	}
	if n <= p.failures {
		return model.Idea{}, errors.New("proposer unavailable")
	}
	title := "seed"
	if champion != nil {
		title = "improved " + champion.Title
	}
	return model.Idea{Title: title, Content: "content"}, nil
}

// fakeScorer scores by idea id; unknown ids get def.
type fakeScorer struct {
	mu     sync.Mutex
	scores map[string]float64
	def    float64
	fail   map[string]bool
}

func (s *fakeScorer) Score(_ context.Context, idea model.Idea, _ model.Tournament) (lane.Evaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[idea.ID] {
		return lane.Evaluation{}, errors.New("scorer unavailable")
	}
	v, ok := s.scores[idea.ID]
	if !ok {
		v = s.def
	}
	return lane.Evaluation{
		Scores: map[string]float64{"efficacy": v},
		Reviews: []model.Review{
			{EvaluatorID: "efficacy", Score: v, Strengths: "clear mechanism"},
			{EvaluatorID: "efficacy", Score: v}, // duplicate evaluator is dropped
		},
	}, nil
}

func testTournament() model.Tournament {
	return model.Tournament{
		ID:        "t1",
		Problem:   "p",
		Goals:     []model.Goal{{Name: "efficacy", Weight: 1}},
		Lanes:     1,
		MaxRounds: 3,
		Status:    model.StatusInProgress,
	}
}

func champion(score float64) model.Idea {
	return model.Idea{
		ID: "t1-L0-v1", TournamentID: "t1", Lane: 0, Generation: 1,
		IsChampion: true, Title: "seed", OverallScore: score,
	}
}

func fastEngine(p lane.Proposer, s lane.Scorer, opts ...lane.Option) *lane.Engine {
	base := []lane.Option{
		lane.WithRetries(2),
		lane.WithBackoff(time.Millisecond, 2*time.Millisecond),
		lane.WithLaneTimeout(time.Second),
		lane.WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	}
	return lane.NewEngine(p, s, append(base, opts...)...)
}

func TestEvolve(t *testing.T) {
	Convey("Given a lane at round 1", t, func() {
		ctx := context.Background()
		tr := testTournament()
		in := lane.Input{Tournament: tr, Champion: champion(3.8), Round: 1}

		Convey("When the challenger scores higher", func() {
			scorer := &fakeScorer{scores: map[string]float64{"t1-L0-v1": 3.8, "t1-L0-v2": 4.2}}
			out := fastEngine(&fakeProposer{}, scorer).Evolve(ctx, in)

			Convey("Then the challenger should be promoted with its delta", func() {
				So(out.Stalled, ShouldBeFalse)
				So(out.Promoted, ShouldBeTrue)
				So(out.Winner.ID, ShouldEqual, "t1-L0-v2")
				So(out.Winner.IsChampion, ShouldBeTrue)
				So(out.Delta, ShouldAlmostEqual, 0.4, 1e-9)
				So(*out.Winner.ScoreChange, ShouldAlmostEqual, 0.4, 1e-9)
				So(out.Challenger.ParentIdeaID, ShouldEqual, "t1-L0-v1")
				So(out.Challenger.Round, ShouldEqual, 1)
				So(out.Challenger.Generation, ShouldEqual, 2)
				So(out.Challenger.Title, ShouldEqual, "improved seed")
			})

			Convey("And the challenger's reviews should be keyed to it", func() {
				So(len(out.Reviews), ShouldEqual, 1)
				So(out.Reviews[0].IdeaID, ShouldEqual, "t1-L0-v2")
				So(out.Reviews[0].CreatedAt.IsZero(), ShouldBeFalse)
			})
		})

		Convey("When the scores tie", func() {
			scorer := &fakeScorer{def: 4.0}
			out := fastEngine(&fakeProposer{}, scorer).Evolve(ctx, in)

			Convey("Then the champion should be retained with zero delta", func() {
				So(out.Promoted, ShouldBeFalse)
				So(out.Delta, ShouldEqual, 0)
				So(out.Winner.ID, ShouldEqual, "t1-L0-v1")
				So(out.Challenger.IsChampion, ShouldBeFalse)
				So(out.Challenger.ScoreChange, ShouldBeNil)
			})
		})

		Convey("When the challenger scores lower", func() {
			scorer := &fakeScorer{scores: map[string]float64{"t1-L0-v1": 4.1, "t1-L0-v2": 3.9}}
			out := fastEngine(&fakeProposer{}, scorer).Evolve(ctx, in)

			Convey("Then the winner should never score below the champion", func() {
				So(out.Promoted, ShouldBeFalse)
				So(out.Winner.OverallScore, ShouldBeGreaterThanOrEqualTo, out.ChampionBefore.OverallScore)
				So(out.ChampionBefore.OverallScore, ShouldAlmostEqual, 4.1, 1e-9)
			})
		})

		Convey("When the proposer fails transiently", func() {
			p := &fakeProposer{failures: 2}
			out := fastEngine(p, &fakeScorer{def: 3}).Evolve(ctx, in)

			Convey("Then retries should recover", func() {
				So(out.Stalled, ShouldBeFalse)
				So(p.calls.Load(), ShouldEqual, 3)
			})
		})

		Convey("When the proposer keeps failing", func() {
			p := &fakeProposer{failures: 100}
			out := fastEngine(p, &fakeScorer{def: 3}).Evolve(ctx, in)

			Convey("Then the lane should stall after the bounded retries", func() {
				So(out.Stalled, ShouldBeTrue)
				So(out.Err, ShouldNotBeNil)
				So(p.calls.Load(), ShouldEqual, 3)
				So(out.ChampionBefore.ID, ShouldEqual, "t1-L0-v1")
			})
		})

		Convey("When the proposer hangs", func() {
			p := &fakeProposer{hang: true}
			start := time.Now()
			out := fastEngine(p, &fakeScorer{def: 3}, lane.WithLaneTimeout(50*time.Millisecond)).Evolve(ctx, in)

			Convey("Then the lane timeout should turn it into a stall", func() {
				So(out.Stalled, ShouldBeTrue)
				So(time.Since(start), ShouldBeLessThan, 2*time.Second)
			})
		})

		Convey("When the scorer fails for the challenger", func() {
			scorer := &fakeScorer{def: 3, fail: map[string]bool{"t1-L0-v2": true}}
			out := fastEngine(&fakeProposer{}, scorer).Evolve(ctx, in)

			Convey("Then the lane should stall", func() {
				So(out.Stalled, ShouldBeTrue)
			})
		})
	})
}

func TestSeed(t *testing.T) {
	Convey("Given a fresh tournament", t, func() {
		tr := testTournament()
		engine := fastEngine(&fakeProposer{}, &fakeScorer{def: 3.5})

		Convey("When seeding lane 2", func() {
			seed, reviews, err := engine.Seed(context.Background(), tr, 2)

			Convey("Then a scored generation-1 champion should be produced", func() {
				So(err, ShouldBeNil)
				So(seed.ID, ShouldEqual, "t1-L2-v1")
				So(seed.IsChampion, ShouldBeTrue)
				So(seed.Round, ShouldEqual, 0)
				So(seed.ParentIdeaID, ShouldBeEmpty)
				So(seed.OverallScore, ShouldAlmostEqual, 3.5, 1e-9)
				So(len(reviews), ShouldEqual, 1)
				So(reviews[0].IdeaID, ShouldEqual, seed.ID)
			})
		})

		Convey("When the proposer is down", func() {
			_, _, err := fastEngine(&fakeProposer{failures: 100}, &fakeScorer{def: 3}).Seed(context.Background(), tr, 0)

			Convey("Then seeding should fail", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
