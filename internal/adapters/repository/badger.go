package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/tourney/internal/domain/model"
	"github.com/okian/tourney/pkg/logger"
	"github.com/okian/tourney/pkg/metrics"
)

// BadgerStore persists tournaments in an embedded BadgerDB. Every round is
// written in a single read-write transaction.
type BadgerStore struct {
	db     *badger.DB
	opts   options
	log    logger.Logger
	stopGC chan struct{}
	gcDone chan struct{}
	once   sync.Once
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens (or creates) a store at path.
func NewBadgerStore(path string, opts ...Option) (*BadgerStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if !o.inMemory && path == "" {
		return nil, errors.New("badger path is required for persistent storage")
	}

	var bopts badger.Options
	if o.inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", path, err)
		}
		bopts = badger.DefaultOptions(path)
	}
	log := o.logger.Named("badger")
	bopts = bopts.
		WithSyncWrites(o.syncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{log: log})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	s := &BadgerStore{db: db, opts: o, log: log}
	if o.gcInterval > 0 && !o.inMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC()
	}
	return s, nil
}

// CreateTournament writes the tournament, its seeds, their reviews and the
// initial champion pointers in one transaction.
func (s *BadgerStore) CreateTournament(_ context.Context, t model.Tournament, seeds []model.Idea, reviews []model.Review) error {
	return s.update(func(txn *badger.Txn) error {
		if exists(txn, tournamentKey(t.ID)) {
			return fmt.Errorf("%w: tournament %s exists", ErrConflict, t.ID)
		}
		if err := putJSON(txn, tournamentKey(t.ID), t); err != nil {
			return err
		}
		for _, seed := range seeds {
			if exists(txn, ideaKey(seed.ID)) {
				return fmt.Errorf("%w: %s", ErrDuplicateIdea, seed.ID)
			}
			if err := putJSON(txn, ideaKey(seed.ID), seed); err != nil {
				return err
			}
			if err := txn.Set([]byte(championKey(t.ID, seed.Lane)), []byte(seed.ID)); err != nil {
				return err
			}
		}
		return putReviews(txn, reviews)
	})
}

// Tournament loads one tournament.
func (s *BadgerStore) Tournament(_ context.Context, id string) (model.Tournament, error) {
	var t model.Tournament
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, tournamentKey(id), &t)
	})
	if err != nil {
		return model.Tournament{}, fmt.Errorf("tournament %s: %w", id, err)
	}
	return t, nil
}

// Tournaments scans the tournament prefix; keys sort by id.
func (s *BadgerStore) Tournaments(_ context.Context) ([]model.Tournament, error) {
	var out []model.Tournament
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, "t/", func(val []byte) error {
			var t model.Tournament
			if err := json.Unmarshal(val, &t); err != nil {
				return err
			}
			out = append(out, t)
			return nil
		})
	})
	return out, err
}

// UpdateTournament overwrites an existing tournament record.
func (s *BadgerStore) UpdateTournament(_ context.Context, t model.Tournament) error {
	return s.update(func(txn *badger.Txn) error {
		if !exists(txn, tournamentKey(t.ID)) {
			return fmt.Errorf("%w: tournament %s", ErrNotFound, t.ID)
		}
		return putJSON(txn, tournamentKey(t.ID), t)
	})
}

// CommitRound writes the round summary, new ideas, reviews, champion
// pointers and tournament state in one transaction.
func (s *BadgerStore) CommitRound(_ context.Context, c RoundCommit) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreCommitLatency(float64(time.Since(start).Milliseconds()))
	}()
	if err := validateCommit(c); err != nil {
		return err
	}
	id := c.Tournament.ID
	return s.update(func(txn *badger.Txn) error {
		var stored model.Tournament
		if err := getJSON(txn, tournamentKey(id), &stored); err != nil {
			return fmt.Errorf("tournament %s: %w", id, err)
		}
		if err := checkNext(stored, c.Summary.Round); err != nil {
			return err
		}
		if exists(txn, roundKey(id, c.Summary.Round)) {
			return fmt.Errorf("%w: tournament %s round %d", ErrDuplicateRound, id, c.Summary.Round)
		}
		for _, idea := range c.Ideas {
			if exists(txn, ideaKey(idea.ID)) {
				return fmt.Errorf("%w: %s", ErrDuplicateIdea, idea.ID)
			}
			if err := putJSON(txn, ideaKey(idea.ID), idea); err != nil {
				return err
			}
		}
		if err := putReviews(txn, c.Reviews); err != nil {
			return err
		}
		for lane, ideaID := range c.Champions {
			if err := txn.Set([]byte(championKey(id, lane)), []byte(ideaID)); err != nil {
				return err
			}
		}
		if err := putJSON(txn, roundKey(id, c.Summary.Round), c.Summary); err != nil {
			return err
		}
		return putJSON(txn, tournamentKey(id), c.Tournament)
	})
}

// Round loads one summary.
func (s *BadgerStore) Round(_ context.Context, tournamentID string, round int) (model.RoundSummary, error) {
	var r model.RoundSummary
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, roundKey(tournamentID, round), &r)
	})
	if err != nil {
		return model.RoundSummary{}, fmt.Errorf("tournament %s round %d: %w", tournamentID, round, err)
	}
	return r, nil
}

// Rounds iterates the round prefix from round from.
func (s *BadgerStore) Rounds(_ context.Context, tournamentID string, from int) ([]model.RoundSummary, error) {
	if from < 1 {
		from = 1
	}
	out := []model.RoundSummary{}
	err := s.db.View(func(txn *badger.Txn) error {
		if !exists(txn, tournamentKey(tournamentID)) {
			return fmt.Errorf("%w: tournament %s", ErrNotFound, tournamentID)
		}
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(roundPrefix(tournamentID))
		for it.Seek([]byte(roundKey(tournamentID, from))); it.ValidForPrefix(prefix); it.Next() {
			var r model.RoundSummary
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// Idea loads an idea and derives its champion flag.
func (s *BadgerStore) Idea(_ context.Context, id string) (model.Idea, error) {
	var idea model.Idea
	var champion string
	err := s.db.View(func(txn *badger.Txn) error {
		if err := getJSON(txn, ideaKey(id), &idea); err != nil {
			return err
		}
		var err error
		champion, err = getString(txn, championKey(idea.TournamentID, idea.Lane))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return model.Idea{}, fmt.Errorf("idea %s: %w", id, err)
	}
	return withChampion(idea, champion), nil
}

// Review loads one review.
func (s *BadgerStore) Review(_ context.Context, ideaID, evaluatorID string) (model.Review, error) {
	var r model.Review
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, reviewKey(ideaID, evaluatorID), &r)
	})
	if err != nil {
		return model.Review{}, fmt.Errorf("review %s/%s: %w", ideaID, evaluatorID, err)
	}
	return r, nil
}

// Reviews iterates an idea's review prefix; keys sort by evaluator.
func (s *BadgerStore) Reviews(_ context.Context, ideaID string) ([]model.Review, error) {
	out := []model.Review{}
	err := s.db.View(func(txn *badger.Txn) error {
		if !exists(txn, ideaKey(ideaID)) {
			return fmt.Errorf("%w: idea %s", ErrNotFound, ideaID)
		}
		return scan(txn, reviewPrefix(ideaID), func(val []byte) error {
			var r model.Review
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

// Champions follows each lane pointer to its idea.
func (s *BadgerStore) Champions(_ context.Context, tournamentID string) ([]model.Idea, error) {
	out := []model.Idea{}
	err := s.db.View(func(txn *badger.Txn) error {
		if !exists(txn, tournamentKey(tournamentID)) {
			return fmt.Errorf("%w: tournament %s", ErrNotFound, tournamentID)
		}
		var ids []string
		if err := scan(txn, championPrefix(tournamentID), func(val []byte) error {
			ids = append(ids, string(val))
			return nil
		}); err != nil {
			return err
		}
		for _, id := range ids {
			var idea model.Idea
			if err := getJSON(txn, ideaKey(id), &idea); err != nil {
				return fmt.Errorf("champion %s: %w", id, err)
			}
			out = append(out, withChampion(idea, id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Lane < out[j].Lane })
	return out, nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *BadgerStore) Close() error {
	var err error
	s.once.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		err = s.db.Close()
	})
	return err
}

func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	err := s.db.Update(fn)
	switch {
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, badger.ErrDBClosed):
		return ErrClosed
	}
	return err
}

func (s *BadgerStore) runGC() {
	defer close(s.gcDone)
	ticker := time.NewTicker(s.opts.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing to collect.
			if err := s.db.RunValueLogGC(s.opts.gcDiscardRatio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Warn(context.Background(), "value log gc failed", logger.Error(err))
			}
		}
	}
}

func exists(txn *badger.Txn, key string) bool {
	_, err := txn.Get([]byte(key))
	return err == nil
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func getString(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	return string(val), err
}

func putJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

// putReviews keeps the first review stored for each (idea, evaluator).
func putReviews(txn *badger.Txn, reviews []model.Review) error {
	for _, r := range reviews {
		key := reviewKey(r.IdeaID, r.EvaluatorID)
		if exists(txn, key) {
			continue
		}
		if err := putJSON(txn, key, r); err != nil {
			return err
		}
	}
	return nil
}

func scan(txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger routes badger's printf-style logging into the service logger.
type badgerLogger struct {
	log logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(context.Background(), trimLine(format, args))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(context.Background(), trimLine(format, args))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(context.Background(), trimLine(format, args))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(context.Background(), trimLine(format, args))
}

func trimLine(format string, args []interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
