package repository_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/tourney/internal/adapters/repository"
	"github.com/okian/tourney/internal/domain/model"
	"github.com/okian/tourney/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var created = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func stores(t *testing.T) map[string]func() repository.Store {
	return map[string]func() repository.Store{
		"memory": func() repository.Store { return repository.NewMemoryStore() },
		"badger": func() repository.Store {
			s, err := repository.NewBadgerStore("", repository.WithInMemory(), repository.WithSyncWrites(false))
			if err != nil {
				t.Fatalf("open badger: %v", err)
			}
			return s
		},
	}
}

func seedTournament(lanes int) (model.Tournament, []model.Idea, []model.Review) {
	t := model.Tournament{
		ID:         "t1",
		Problem:    "metformin / glioblastoma",
		Goals:      []model.Goal{{Name: "efficacy", Weight: 0.6}},
		Lanes:      lanes,
		MaxRounds:  3,
		StallLimit: 2,
		Status:     model.StatusInProgress,
		CreatedAt:  created,
	}
	var seeds []model.Idea
	var reviews []model.Review
	for lane := 0; lane < lanes; lane++ {
		id := model.IdeaID(t.ID, lane, 1)
		seeds = append(seeds, model.Idea{
			ID: id, TournamentID: t.ID, Lane: lane, Generation: 1,
			IsChampion: true, Title: fmt.Sprintf("seed %d", lane),
			Scores: map[string]float64{"efficacy": 3}, OverallScore: 3, CreatedAt: created,
		})
		reviews = append(reviews, model.Review{IdeaID: id, EvaluatorID: "efficacy", Score: 3, CreatedAt: created})
	}
	return t, seeds, reviews
}

// roundOne promotes lane 0 and retains lane 1.
func roundOne(t model.Tournament) repository.RoundCommit {
	t.CurrentRound = 1
	delta := 0.5
	winner := model.Idea{
		ID: model.IdeaID(t.ID, 0, 2), TournamentID: t.ID, Lane: 0, Generation: 2, Round: 1,
		IsChampion: true, ParentIdeaID: model.IdeaID(t.ID, 0, 1), Title: "better",
		OverallScore: 3.5, ScoreChange: &delta, CreatedAt: created,
	}
	loser := model.Idea{
		ID: model.IdeaID(t.ID, 1, 2), TournamentID: t.ID, Lane: 1, Generation: 2, Round: 1,
		ParentIdeaID: model.IdeaID(t.ID, 1, 1), Title: "worse", OverallScore: 2, CreatedAt: created,
	}
	return repository.RoundCommit{
		Tournament: t,
		Summary: model.RoundSummary{
			TournamentID: t.ID, Round: 1, Status: model.StatusInProgress, CreatedAt: created,
			Lanes: []model.LaneEntry{
				{Lane: 0, ChampionIdeaID: winner.ID, ChampionScore: 3.5, Promoted: true},
				{Lane: 1, ChampionIdeaID: model.IdeaID(t.ID, 1, 1), ChampionScore: 3},
			},
		},
		Ideas: []model.Idea{winner, loser},
		Reviews: []model.Review{
			{IdeaID: winner.ID, EvaluatorID: "safety", Score: 4, CreatedAt: created},
			{IdeaID: winner.ID, EvaluatorID: "efficacy", Score: 3, CreatedAt: created},
		},
		Champions: map[int]string{0: winner.ID, 1: model.IdeaID(t.ID, 1, 1)},
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range stores(t) {
		Convey("Given a "+name+" store with a two-lane tournament", t, func() {
			ctx := context.Background()
			s := open()
			defer s.Close()
			tr, seeds, reviews := seedTournament(2)
			So(s.CreateTournament(ctx, tr, seeds, reviews), ShouldBeNil)

			Convey("Then the tournament and seed champions should be readable", func() {
				got, err := s.Tournament(ctx, "t1")
				So(err, ShouldBeNil)
				So(got.Problem, ShouldEqual, tr.Problem)
				So(got.CreatedAt.Equal(created), ShouldBeTrue)

				champs, err := s.Champions(ctx, "t1")
				So(err, ShouldBeNil)
				So(len(champs), ShouldEqual, 2)
				So(champs[0].ID, ShouldEqual, "t1-L0-v1")
				So(champs[1].ID, ShouldEqual, "t1-L1-v1")
				So(champs[0].IsChampion, ShouldBeTrue)

				all, err := s.Tournaments(ctx)
				So(err, ShouldBeNil)
				So(len(all), ShouldEqual, 1)
			})

			Convey("When creating the same tournament twice", func() {
				err := s.CreateTournament(ctx, tr, nil, nil)

				Convey("Then it should conflict", func() {
					So(errors.Is(err, repository.ErrConflict), ShouldBeTrue)
				})
			})

			Convey("When round 1 is committed", func() {
				So(s.CommitRound(ctx, roundOne(tr)), ShouldBeNil)

				Convey("Then state, summary and champions should move together", func() {
					got, err := s.Tournament(ctx, "t1")
					So(err, ShouldBeNil)
					So(got.CurrentRound, ShouldEqual, 1)

					r, err := s.Round(ctx, "t1", 1)
					So(err, ShouldBeNil)
					So(len(r.Lanes), ShouldEqual, 2)
					So(r.Lanes[0].Promoted, ShouldBeTrue)

					champs, err := s.Champions(ctx, "t1")
					So(err, ShouldBeNil)
					So(champs[0].ID, ShouldEqual, "t1-L0-v2")
					So(champs[1].ID, ShouldEqual, "t1-L1-v1")
				})

				Convey("Then the champion flag should follow the lane pointer", func() {
					old, err := s.Idea(ctx, "t1-L0-v1")
					So(err, ShouldBeNil)
					So(old.IsChampion, ShouldBeFalse)

					winner, err := s.Idea(ctx, "t1-L0-v2")
					So(err, ShouldBeNil)
					So(winner.IsChampion, ShouldBeTrue)
					So(*winner.ScoreChange, ShouldEqual, 0.5)

					loser, err := s.Idea(ctx, "t1-L1-v2")
					So(err, ShouldBeNil)
					So(loser.IsChampion, ShouldBeFalse)
					So(loser.ScoreChange, ShouldBeNil)
				})

				Convey("Then reviews should be listed by evaluator", func() {
					rs, err := s.Reviews(ctx, "t1-L0-v2")
					So(err, ShouldBeNil)
					So(len(rs), ShouldEqual, 2)
					So(rs[0].EvaluatorID, ShouldEqual, "efficacy")
					So(rs[1].EvaluatorID, ShouldEqual, "safety")

					one, err := s.Review(ctx, "t1-L0-v2", "safety")
					So(err, ShouldBeNil)
					So(one.Score, ShouldEqual, 4)

					_, err = s.Review(ctx, "t1-L0-v2", "cost")
					So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				})

				Convey("And the same round is committed again", func() {
					err := s.CommitRound(ctx, roundOne(tr))

					Convey("Then it should be rejected as a duplicate", func() {
						So(errors.Is(err, repository.ErrDuplicateRound), ShouldBeTrue)
						rounds, err := s.Rounds(ctx, "t1", 1)
						So(err, ShouldBeNil)
						So(len(rounds), ShouldEqual, 1)
					})
				})
			})

			Convey("When round 2 is committed before round 1", func() {
				c := roundOne(tr)
				c.Tournament.CurrentRound = 2
				c.Summary.Round = 2

				Convey("Then it should conflict and nothing should be written", func() {
					So(errors.Is(s.CommitRound(ctx, c), repository.ErrConflict), ShouldBeTrue)
					_, err := s.Idea(ctx, "t1-L0-v2")
					So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
					got, _ := s.Tournament(ctx, "t1")
					So(got.CurrentRound, ShouldEqual, 0)
				})
			})

			Convey("When a commit reuses an existing idea id", func() {
				c := roundOne(tr)
				c.Ideas = append(c.Ideas, seeds[0])

				Convey("Then the whole commit should be rejected", func() {
					So(errors.Is(s.CommitRound(ctx, c), repository.ErrDuplicateIdea), ShouldBeTrue)
					_, err := s.Round(ctx, "t1", 1)
					So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
					champs, _ := s.Champions(ctx, "t1")
					So(champs[0].ID, ShouldEqual, "t1-L0-v1")
				})
			})

			Convey("When the tournament is failed outside a round", func() {
				tr.Status = model.StatusFailed
				tr.FailureReason = "cancelled"
				So(s.UpdateTournament(ctx, tr), ShouldBeNil)

				Convey("Then further rounds should conflict", func() {
					So(errors.Is(s.CommitRound(ctx, roundOne(tr)), repository.ErrConflict), ShouldBeTrue)
				})
			})

			Convey("When rounds are read from an offset", func() {
				So(s.CommitRound(ctx, roundOne(tr)), ShouldBeNil)
				rounds, err := s.Rounds(ctx, "t1", 2)

				Convey("Then earlier rounds should be skipped", func() {
					So(err, ShouldBeNil)
					So(len(rounds), ShouldEqual, 0)
				})
			})

			Convey("When reading unknown records", func() {
				_, err1 := s.Tournament(ctx, "nope")
				_, err2 := s.Idea(ctx, "nope")
				_, err3 := s.Rounds(ctx, "nope", 1)
				_, err4 := s.Champions(ctx, "nope")
				err5 := s.UpdateTournament(ctx, model.Tournament{ID: "nope"})

				Convey("Then each should be not found", func() {
					for _, err := range []error{err1, err2, err3, err4, err5} {
						So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
					}
				})
			})
		})
	}
}

func TestStoreConcurrentCommits(t *testing.T) {
	for name, open := range stores(t) {
		Convey("Given a "+name+" store and racing commits of the same round", t, func() {
			ctx := context.Background()
			s := open()
			defer s.Close()
			tr, seeds, reviews := seedTournament(2)
			So(s.CreateTournament(ctx, tr, seeds, reviews), ShouldBeNil)

			var wg sync.WaitGroup
			var mu sync.Mutex
			ok := 0
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := s.CommitRound(ctx, roundOne(tr)); err == nil {
						mu.Lock()
						ok++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one should win", func() {
				So(ok, ShouldEqual, 1)
				rounds, err := s.Rounds(ctx, "t1", 1)
				So(err, ShouldBeNil)
				So(len(rounds), ShouldEqual, 1)
			})
		})
	}
}

func TestBadgerReopen(t *testing.T) {
	Convey("Given a badger store on disk", t, func() {
		dir := t.TempDir()
		ctx := context.Background()
		s, err := repository.NewBadgerStore(dir, repository.WithGC(0, 0))
		So(err, ShouldBeNil)
		tr, seeds, reviews := seedTournament(2)
		So(s.CreateTournament(ctx, tr, seeds, reviews), ShouldBeNil)
		So(s.CommitRound(ctx, roundOne(tr)), ShouldBeNil)
		So(s.Close(), ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		Convey("When it is reopened", func() {
			s2, err := repository.NewBadgerStore(dir, repository.WithGC(0, 0))
			So(err, ShouldBeNil)
			defer s2.Close()

			Convey("Then committed rounds should survive", func() {
				rounds, err := s2.Rounds(ctx, "t1", 1)
				So(err, ShouldBeNil)
				So(len(rounds), ShouldEqual, 1)
				champs, err := s2.Champions(ctx, "t1")
				So(err, ShouldBeNil)
				So(champs[0].ID, ShouldEqual, "t1-L0-v2")
			})
		})
	})

	Convey("Given no path and no in-memory option", t, func() {
		_, err := repository.NewBadgerStore("")

		Convey("Then opening should fail", func() {
			So(err, ShouldNotBeNil)
		})
	})
}

func TestMemoryStoreLogger(t *testing.T) {
	Convey("Given a memory store with a debug logger", t, func() {
		var buf bytes.Buffer
		So(logger.Init(logger.WithOutput(&buf), logger.WithFormat("json")), ShouldBeNil)
		logger.SetLevel(slog.LevelDebug)
		defer func() { _ = logger.Init() }()

		ctx := context.Background()
		s := repository.NewMemoryStore(repository.WithLogger(logger.Named("store")))
		tr, seeds, reviews := seedTournament(2)
		So(s.CreateTournament(ctx, tr, seeds, reviews), ShouldBeNil)

		Convey("When a round is committed and the store closed", func() {
			So(s.CommitRound(ctx, roundOne(tr)), ShouldBeNil)
			So(s.Close(), ShouldBeNil)
			So(s.Close(), ShouldBeNil)

			Convey("Then both should be logged through the given logger", func() {
				out := buf.String()
				So(out, ShouldContainSubstring, `"msg":"round committed"`)
				So(out, ShouldContainSubstring, `"tournament_id":"t1"`)
				So(out, ShouldContainSubstring, `"component":"memory"`)
				So(strings.Count(out, "memory store closed"), ShouldEqual, 1)
			})
		})
	})
}
