// Package memory is an in-process authkit.Adapter for development and tests.
// It implements every optional extension interface.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/panyam/authkit"
)

type loginKey struct{ provider, login string }
type tokenKey struct{ identifier, token string }

// Store keeps all records in maps guarded by one mutex.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	users    map[string]*authkit.User
	emails   map[string]string
	accounts map[string]*authkit.Account
	byKey    map[authkit.AccountKey]string
	byLogin  map[loginKey]string
	sessions map[string]*authkit.SessionRecord
	tokens   map[tokenKey]*authkit.VerificationToken
}

type Option func(*Store)

// WithClock sets the clock used for timestamps and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		users:    map[string]*authkit.User{},
		emails:   map[string]string{},
		accounts: map[string]*authkit.Account{},
		byKey:    map[authkit.AccountKey]string{},
		byLogin:  map[loginKey]string{},
		sessions: map[string]*authkit.SessionRecord{},
		tokens:   map[tokenKey]*authkit.VerificationToken{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ authkit.Adapter                 = (*Store)(nil)
	_ authkit.AccountLoginFinder      = (*Store)(nil)
	_ authkit.AccountUpdater          = (*Store)(nil)
	_ authkit.VerificationTokenFinder = (*Store)(nil)
)

func notFound(what string) error {
	return authkit.NewAdapterError(authkit.ErrCodeNotFound, "%s not found", what)
}

func emailKey(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func copyAccount(a *authkit.Account) *authkit.Account {
	out := *a
	return &out
}

func copySession(s *authkit.SessionRecord) *authkit.SessionRecord {
	out := *s
	return &out
}

// ---- users

func (s *Store) CreateUser(ctx context.Context, u *authkit.User) (*authkit.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := u.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, exists := s.users[stored.ID]; exists {
		return nil, authkit.NewAdapterError(authkit.ErrCodeDuplicateUser, "user %s already exists", stored.ID)
	}
	if stored.Email != "" {
		if _, taken := s.emails[emailKey(stored.Email)]; taken {
			return nil, authkit.NewAdapterError(authkit.ErrCodeDuplicateEmail, "email %s already registered", stored.Email)
		}
		s.emails[emailKey(stored.Email)] = stored.ID
	}
	s.users[stored.ID] = stored
	return stored.Clone(), nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*authkit.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u.Clone(), nil
	}
	return nil, notFound("user")
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*authkit.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.emails[emailKey(email)]; ok {
		return s.users[id].Clone(), nil
	}
	return nil, notFound("user")
}

func (s *Store) GetUserByAccount(ctx context.Context, key authkit.AccountKey) (*authkit.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[key]; ok {
		if u, ok := s.users[s.accounts[id].UserID]; ok {
			return u.Clone(), nil
		}
	}
	return nil, notFound("user")
}

func (s *Store) UpdateUser(ctx context.Context, patch *authkit.User) (*authkit.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[patch.ID]
	if !ok {
		return nil, notFound("user")
	}
	if patch.Email != "" && emailKey(patch.Email) != emailKey(u.Email) {
		if _, taken := s.emails[emailKey(patch.Email)]; taken {
			return nil, authkit.NewAdapterError(authkit.ErrCodeDuplicateEmail, "email %s already registered", patch.Email)
		}
		delete(s.emails, emailKey(u.Email))
		s.emails[emailKey(patch.Email)] = u.ID
	}
	authkit.ApplyUserPatch(u, patch)
	return u.Clone(), nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("user")
	}
	delete(s.users, id)
	if u.Email != "" {
		delete(s.emails, emailKey(u.Email))
	}
	for aid, a := range s.accounts {
		if a.UserID == id {
			s.removeAccount(aid)
		}
	}
	for tok, sess := range s.sessions {
		if sess.UserID == id {
			delete(s.sessions, tok)
		}
	}
	return nil
}

// ---- accounts

func (s *Store) LinkAccount(ctx context.Context, a *authkit.Account) (*authkit.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyAccount(a)
	if _, ok := s.users[stored.UserID]; !ok {
		return nil, notFound("user")
	}
	key := authkit.AccountKey{Provider: stored.Provider, ProviderAccountID: stored.ProviderAccountID}
	if stored.ProviderAccountID != "" {
		if _, taken := s.byKey[key]; taken {
			return nil, authkit.NewAdapterError(authkit.ErrCodeAccountAlreadyLinked, "%s account %s already linked", stored.Provider, stored.ProviderAccountID)
		}
	}
	lk := loginKey{stored.Provider, stored.Login}
	if stored.Login != "" {
		if _, taken := s.byLogin[lk]; taken {
			return nil, authkit.NewAdapterError(authkit.ErrCodeAccountAlreadyLinked, "%s login %s already linked", stored.Provider, stored.Login)
		}
	}

	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.accounts[stored.ID] = stored
	if stored.ProviderAccountID != "" {
		s.byKey[key] = stored.ID
	}
	if stored.Login != "" {
		s.byLogin[lk] = stored.ID
	}
	return copyAccount(stored), nil
}

func (s *Store) removeAccount(id string) {
	a, ok := s.accounts[id]
	if !ok {
		return
	}
	delete(s.accounts, id)
	if a.ProviderAccountID != "" {
		delete(s.byKey, authkit.AccountKey{Provider: a.Provider, ProviderAccountID: a.ProviderAccountID})
	}
	if a.Login != "" {
		delete(s.byLogin, loginKey{a.Provider, a.Login})
	}
}

func (s *Store) UnlinkAccount(ctx context.Context, key authkit.AccountKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return notFound("account")
	}
	s.removeAccount(id)
	return nil
}

func (s *Store) GetAccount(ctx context.Context, key authkit.AccountKey) (*authkit.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[key]; ok {
		return copyAccount(s.accounts[id]), nil
	}
	return nil, notFound("account")
}

func (s *Store) GetAccountByLogin(ctx context.Context, provider, login string) (*authkit.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byLogin[loginKey{provider, login}]; ok {
		return copyAccount(s.accounts[id]), nil
	}
	return nil, notFound("account")
}

func (s *Store) UpdateAccount(ctx context.Context, id string, patch authkit.AccountPatch) (*authkit.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, notFound("account")
	}
	patch.Apply(a)
	a.UpdatedAt = s.now()
	return copyAccount(a), nil
}

// ---- sessions

func (s *Store) CreateSession(ctx context.Context, rec *authkit.SessionRecord) (*authkit.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := copySession(rec)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.now()
	stored.CreatedAt, stored.UpdatedAt = now, now
	s.sessions[stored.SessionToken] = stored
	return copySession(stored), nil
}

func (s *Store) GetSessionAndUser(ctx context.Context, sessionToken string) (*authkit.SessionRecord, *authkit.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionToken]
	if !ok {
		return nil, nil, notFound("session")
	}
	if rec.Expires.Before(s.now()) {
		delete(s.sessions, sessionToken)
		return nil, nil, notFound("session")
	}
	u, ok := s.users[rec.UserID]
	if !ok {
		return nil, nil, notFound("user")
	}
	return copySession(rec), u.Clone(), nil
}

func (s *Store) UpdateSession(ctx context.Context, rec *authkit.SessionRecord) (*authkit.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[rec.SessionToken]
	if !ok {
		return nil, notFound("session")
	}
	if !rec.Expires.IsZero() {
		stored.Expires = rec.Expires
	}
	stored.UpdatedAt = s.now()
	return copySession(stored), nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionToken]; !ok {
		return notFound("session")
	}
	delete(s.sessions, sessionToken)
	return nil
}

// ---- verification tokens

func (s *Store) CreateVerificationToken(ctx context.Context, t *authkit.VerificationToken) (*authkit.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *t
	s.tokens[tokenKey{t.Identifier, t.Token}] = &stored
	out := stored
	return &out, nil
}

func (s *Store) UseVerificationToken(ctx context.Context, identifier, token string) (*authkit.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := tokenKey{identifier, token}
	t, ok := s.tokens[k]
	if !ok {
		return nil, notFound("verification token")
	}
	delete(s.tokens, k)
	if t.Expires.Before(s.now()) {
		return nil, notFound("verification token")
	}
	out := *t
	return &out, nil
}

func (s *Store) GetVerificationToken(ctx context.Context, identifier, token string) (*authkit.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenKey{identifier, token}]
	if !ok || t.Expires.Before(s.now()) {
		return nil, notFound("verification token")
	}
	out := *t
	return &out, nil
}

// ---- snapshots

// Snapshot is a serializable copy of every record in a Store.
type Snapshot struct {
	Users    []*authkit.User              `json:"users"`
	Accounts []*authkit.Account           `json:"accounts"`
	Sessions []*authkit.SessionRecord     `json:"sessions"`
	Tokens   []*authkit.VerificationToken `json:"tokens"`
}

// Snapshot copies the store contents in a stable order.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var snap Snapshot
	for _, u := range s.users {
		snap.Users = append(snap.Users, u.Clone())
	}
	for _, a := range s.accounts {
		snap.Accounts = append(snap.Accounts, copyAccount(a))
	}
	for _, rec := range s.sessions {
		snap.Sessions = append(snap.Sessions, copySession(rec))
	}
	for _, t := range s.tokens {
		c := *t
		snap.Tokens = append(snap.Tokens, &c)
	}
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].ID < snap.Users[j].ID })
	sort.Slice(snap.Accounts, func(i, j int) bool { return snap.Accounts[i].ID < snap.Accounts[j].ID })
	sort.Slice(snap.Sessions, func(i, j int) bool { return snap.Sessions[i].SessionToken < snap.Sessions[j].SessionToken })
	sort.Slice(snap.Tokens, func(i, j int) bool {
		if snap.Tokens[i].Identifier != snap.Tokens[j].Identifier {
			return snap.Tokens[i].Identifier < snap.Tokens[j].Identifier
		}
		return snap.Tokens[i].Token < snap.Tokens[j].Token
	})
	return snap
}

// Restore replaces the store contents with snap.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.users)
	clear(s.emails)
	clear(s.accounts)
	clear(s.byKey)
	clear(s.byLogin)
	clear(s.sessions)
	clear(s.tokens)

	for _, u := range snap.Users {
		s.users[u.ID] = u.Clone()
		if u.Email != "" {
			s.emails[emailKey(u.Email)] = u.ID
		}
	}
	for _, a := range snap.Accounts {
		c := copyAccount(a)
		s.accounts[c.ID] = c
		if c.ProviderAccountID != "" {
			s.byKey[authkit.AccountKey{Provider: c.Provider, ProviderAccountID: c.ProviderAccountID}] = c.ID
		}
		if c.Login != "" {
			s.byLogin[loginKey{c.Provider, c.Login}] = c.ID
		}
	}
	for _, rec := range snap.Sessions {
		s.sessions[rec.SessionToken] = copySession(rec)
	}
	for _, t := range snap.Tokens {
		c := *t
		s.tokens[tokenKey{c.Identifier, c.Token}] = &c
	}
}
