// Package store persists base events as JSON files in a git repository,
// one file per event under events/ and one commit per mutation.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	billyutil "github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage"
	gogitfs "github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/google/uuid"

	appLog "familycal/internal/log"
	"familycal/internal/model"
)

// EventsDir is the repository directory holding one JSON file per event.
const EventsDir = "events"

// ErrNotFound is returned when an event id is unknown.
var ErrNotFound = errors.New("store: event not found")

// Query selects stored events. Zero fields do not filter.
type Query struct {
	OwnerTag string
	// From / To keep series whose occurrences can touch [From, To].
	From, To time.Time
}

// Change is one entry of the store history.
type Change struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	When    time.Time `json:"when"`
}

// GitStore is safe for concurrent use.
type GitStore struct {
	mu   sync.RWMutex
	fs   billy.Filesystem
	repo *gogit.Repository

	// now is swapped in tests.
	now func() time.Time
}

// Open opens or initializes a repository rooted at dir on disk.
func Open(dir string) (*GitStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("store dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	repoFS := osfs.New(dir)
	if err := repoFS.MkdirAll(".git", 0o755); err != nil {
		return nil, fmt.Errorf("create .git dir: %w", err)
	}
	dotGitFS, err := repoFS.Chroot(".git")
	if err != nil {
		return nil, fmt.Errorf("chroot .git dir: %w", err)
	}

	return open(gogitfs.NewStorage(dotGitFS, cache.NewObjectLRUDefault()), repoFS)
}

// NewMemory returns a store backed by an in-memory repository.
func NewMemory() (*GitStore, error) {
	return open(memory.NewStorage(), memfs.New())
}

func open(s storage.Storer, fs billy.Filesystem) (*GitStore, error) {
	repo, err := gogit.Init(s, fs)
	if errors.Is(err, gogit.ErrRepositoryAlreadyExists) {
		repo, err = gogit.Open(s, fs)
	}
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	if err := fs.MkdirAll(EventsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create events dir: %w", err)
	}
	return &GitStore{fs: fs, repo: repo, now: time.Now}, nil
}

// Create stores a new event. An empty ID is replaced by a fresh UUIDv7.
func (s *GitStore) Create(ctx context.Context, ev model.BaseEvent) (model.BaseEvent, error) {
	if err := ctx.Err(); err != nil {
		return model.BaseEvent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.Must(uuid.NewV7()).String()
	} else if _, err := uuid.Parse(ev.ID); err != nil {
		return model.BaseEvent{}, fmt.Errorf("invalid event id %q: %w", ev.ID, err)
	}
	if _, err := s.fs.Stat(eventPath(ev.ID)); err == nil {
		return model.BaseEvent{}, fmt.Errorf("event %s already exists", ev.ID)
	}

	now := s.now()
	ev.CreatedAt, ev.UpdatedAt = now, now
	if err := s.write(ev); err != nil {
		return model.BaseEvent{}, err
	}
	if err := s.commit(fmt.Sprintf("add event '%s'", ev.Title)); err != nil {
		_ = s.fs.Remove(eventPath(ev.ID))
		return model.BaseEvent{}, err
	}
	return ev, nil
}

// Get returns the event with the given id or ErrNotFound.
func (s *GitStore) Get(ctx context.Context, id string) (model.BaseEvent, error) {
	if err := ctx.Err(); err != nil {
		return model.BaseEvent{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(id)
}

// Update replaces a stored event, keeping its creation time.
func (s *GitStore) Update(ctx context.Context, ev model.BaseEvent) (model.BaseEvent, error) {
	if err := ctx.Err(); err != nil {
		return model.BaseEvent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.read(ev.ID)
	if err != nil {
		return model.BaseEvent{}, err
	}
	ev.CreatedAt = prev.CreatedAt
	ev.UpdatedAt = s.now()
	if err := s.write(ev); err != nil {
		return model.BaseEvent{}, err
	}
	if err := s.commit(fmt.Sprintf("update event '%s'", ev.Title)); err != nil {
		return model.BaseEvent{}, err
	}
	return ev, nil
}

// Delete removes an event.
func (s *GitStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.read(id)
	if err != nil {
		return err
	}
	w, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}
	if _, err := w.Remove(eventPath(id)); err != nil {
		return fmt.Errorf("remove event file: %w", err)
	}
	return s.commit(fmt.Sprintf("delete event '%s'", prev.Title))
}

// List returns the events matching q, ordered by start then id.
func (s *GitStore) List(ctx context.Context, q Query) ([]model.BaseEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.fs.ReadDir(EventsDir)
	if err != nil {
		return nil, fmt.Errorf("read events dir: %w", err)
	}

	var out []model.BaseEvent
	for _, fi := range entries {
		id, ok := strings.CutSuffix(fi.Name(), ".json")
		if fi.IsDir() || !ok {
			continue
		}
		ev, err := s.read(id)
		if err != nil {
			return nil, err
		}
		if q.matches(ev) {
			out = append(out, ev)
		}
	}
	slices.SortFunc(out, func(a, b model.BaseEvent) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// History returns up to limit commits, newest first. limit <= 0 means all.
func (s *GitStore) History(ctx context.Context, limit int) ([]Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.repo.Head(); err != nil {
		// No commit yet.
		return nil, nil
	}
	iter, err := s.repo.Log(&gogit.LogOptions{})
	if err != nil {
		return nil, fmt.Errorf("git log: %w", err)
	}
	defer iter.Close()

	var out []Change
	err = iter.ForEach(func(c *object.Commit) error {
		if limit > 0 && len(out) >= limit {
			return storer.ErrStop
		}
		out = append(out, Change{
			Hash:    c.Hash.String(),
			Message: strings.TrimSpace(c.Message),
			When:    c.Author.When,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk history: %w", err)
	}
	return out, nil
}

func (q Query) matches(ev model.BaseEvent) bool {
	if q.OwnerTag != "" && !strings.EqualFold(q.OwnerTag, ev.OwnerTag) {
		return false
	}
	if !q.To.IsZero() && ev.Start.After(q.To) {
		return false
	}
	if q.From.IsZero() {
		return true
	}
	if !ev.Recurrence.Repeats() {
		return !ev.End.Before(q.From)
	}
	if ev.Recurrence.EndCondition == model.EndOnDate && ev.Recurrence.EndDate != nil {
		return !ev.Recurrence.EndDate.Add(ev.Duration()).Before(q.From)
	}
	return true
}

func (s *GitStore) read(id string) (model.BaseEvent, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.BaseEvent{}, ErrNotFound
	}
	data, err := billyutil.ReadFile(s.fs, eventPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.BaseEvent{}, ErrNotFound
		}
		return model.BaseEvent{}, fmt.Errorf("read event %s: %w", id, err)
	}
	var ev model.BaseEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.BaseEvent{}, fmt.Errorf("decode event %s: %w", id, err)
	}
	return ev, nil
}

func (s *GitStore) write(ev model.BaseEvent) error {
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := billyutil.WriteFile(s.fs, eventPath(ev.ID), data, 0o644); err != nil {
		return fmt.Errorf("write event file: %w", err)
	}
	return nil
}

// commit stages the events dir and records a commit. A mutation that left
// the tree unchanged is not an error.
func (s *GitStore) commit(msg string) error {
	w, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}
	if err := w.AddWithOptions(&gogit.AddOptions{Path: EventsDir}); err != nil {
		return fmt.Errorf("stage events: %w", err)
	}
	hash, err := w.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{Name: "familycal", When: s.now()},
	})
	if errors.Is(err, gogit.ErrEmptyCommit) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	appLog.Debug("store: committed", "hash", hash.String()[:7], "message", msg)
	return nil
}

func eventPath(id string) string {
	return path.Join(EventsDir, id+".json")
}
