// Package fs is an authkit.Adapter that keeps its records in memory and
// persists them to a single JSON file after every write. It suits demos and
// single process deployments.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/panyam/authkit"
	"github.com/panyam/authkit/stores/memory"
)

// Store embeds a memory.Store for reads. Mutating methods write the file
// before returning.
type Store struct {
	*memory.Store

	path   string
	saveMu sync.Mutex
	log    *slog.Logger
}

var (
	_ authkit.Adapter                 = (*Store)(nil)
	_ authkit.AccountLoginFinder      = (*Store)(nil)
	_ authkit.AccountUpdater          = (*Store)(nil)
	_ authkit.VerificationTokenFinder = (*Store)(nil)
)

type Option func(*options)

type options struct {
	now func() time.Time
	log *slog.Logger
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Open loads path if it exists. A missing file is an empty store.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{now: time.Now, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store{
		Store: memory.New(memory.WithClock(o.now)),
		path:  path,
		log:   o.log,
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("fs: reading %s: %w", path, err)
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("fs: decoding %s: %w", path, err)
	}
	s.Restore(snap)
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

func (s *Store) save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomicFile(s.path, data); err != nil {
		s.log.Error("fs: persisting store failed", "path", s.path, "error", err)
		return err
	}
	return nil
}

func persist[T any](s *Store, v T, err error) (T, error) {
	if err != nil {
		return v, err
	}
	if err := s.save(); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

func (s *Store) CreateUser(ctx context.Context, u *authkit.User) (*authkit.User, error) {
	out, err := s.Store.CreateUser(ctx, u)
	return persist(s, out, err)
}

func (s *Store) UpdateUser(ctx context.Context, u *authkit.User) (*authkit.User, error) {
	out, err := s.Store.UpdateUser(ctx, u)
	return persist(s, out, err)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if err := s.Store.DeleteUser(ctx, id); err != nil {
		return err
	}
	return s.save()
}

func (s *Store) LinkAccount(ctx context.Context, a *authkit.Account) (*authkit.Account, error) {
	out, err := s.Store.LinkAccount(ctx, a)
	return persist(s, out, err)
}

func (s *Store) UnlinkAccount(ctx context.Context, key authkit.AccountKey) error {
	if err := s.Store.UnlinkAccount(ctx, key); err != nil {
		return err
	}
	return s.save()
}

func (s *Store) UpdateAccount(ctx context.Context, id string, patch authkit.AccountPatch) (*authkit.Account, error) {
	out, err := s.Store.UpdateAccount(ctx, id, patch)
	return persist(s, out, err)
}

func (s *Store) CreateSession(ctx context.Context, rec *authkit.SessionRecord) (*authkit.SessionRecord, error) {
	out, err := s.Store.CreateSession(ctx, rec)
	return persist(s, out, err)
}

func (s *Store) UpdateSession(ctx context.Context, rec *authkit.SessionRecord) (*authkit.SessionRecord, error) {
	out, err := s.Store.UpdateSession(ctx, rec)
	return persist(s, out, err)
}

func (s *Store) DeleteSession(ctx context.Context, sessionToken string) error {
	if err := s.Store.DeleteSession(ctx, sessionToken); err != nil {
		return err
	}
	return s.save()
}

func (s *Store) CreateVerificationToken(ctx context.Context, t *authkit.VerificationToken) (*authkit.VerificationToken, error) {
	out, err := s.Store.CreateVerificationToken(ctx, t)
	return persist(s, out, err)
}

func (s *Store) UseVerificationToken(ctx context.Context, identifier, token string) (*authkit.VerificationToken, error) {
	out, err := s.Store.UseVerificationToken(ctx, identifier, token)
	if err != nil {
		// expired tokens are removed on use too
		_ = s.save()
		return nil, err
	}
	return persist(s, out, nil)
}
