//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/panyam/authkit"
)

// Kind constants for Datastore entities
const (
	KindUser                   = "User"
	KindUserEmail              = "UserEmail"
	KindAccount                = "Account"
	KindAccountSubject         = "AccountSubject"
	KindAccountLogin           = "AccountLogin"
	KindSession                = "Session"
	KindVerificationIdentifier = "VerificationIdentifier"
	KindVerificationToken      = "VerificationToken"
)

// Store implements authkit.Adapter using Google Cloud Datastore
type Store struct {
	client    *datastore.Client
	namespace string
	now       func() time.Time
}

var (
	_ authkit.Adapter                 = (*Store)(nil)
	_ authkit.AccountLoginFinder      = (*Store)(nil)
	_ authkit.AccountUpdater          = (*Store)(nil)
	_ authkit.VerificationTokenFinder = (*Store)(nil)
)

type Option func(*Store)

// WithClock sets the clock used for timestamps and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Datastore-backed adapter in namespace ("" is the default).
func New(client *datastore.Client, namespace string, opts ...Option) *Store {
	s := &Store{client: client, namespace: namespace, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *Store) query(kind string) *datastore.Query {
	q := datastore.NewQuery(kind)
	if s.namespace != "" {
		q = q.Namespace(s.namespace)
	}
	return q
}

func (s *Store) emailKey(email string) *datastore.Key {
	return s.namespacedKey(KindUserEmail, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) subjectKey(provider, providerAccountID string) *datastore.Key {
	return s.namespacedKey(KindAccountSubject, provider+":"+providerAccountID)
}

func (s *Store) loginKey(provider, login string) *datastore.Key {
	return s.namespacedKey(KindAccountLogin, provider+":"+login)
}

func (s *Store) tokenKey(identifier, token string) *datastore.Key {
	parent := s.namespacedKey(KindVerificationIdentifier, identifier)
	key := datastore.NameKey(KindVerificationToken, token, parent)
	key.Namespace = s.namespace
	return key
}

func notFound(what string) error {
	return authkit.NewAdapterError(authkit.ErrCodeNotFound, "%s not found", what)
}

func translate(err error, what string) error {
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return notFound(what)
	}
	return err
}

// exists reports whether key is present, inside tx.
func exists(tx *datastore.Transaction, key *datastore.Key, dst any) (bool, error) {
	err := tx.Get(key, dst)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, datastore.ErrNoSuchEntity):
		return false, nil
	}
	return false, err
}

// ============================================================================
// Users
// ============================================================================

func (s *Store) CreateUser(ctx context.Context, u *authkit.User) (*authkit.User, error) {
	id := u.ID
	if id == "" {
		id = uuid.NewString()
	}
	key := s.namespacedKey(KindUser, id)
	entity := UserToEntity(u, key)
	now := s.now()
	entity.CreatedAt, entity.UpdatedAt = now, now

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if found, err := exists(tx, key, &UserEntity{}); err != nil {
			return err
		} else if found {
			return authkit.NewAdapterError(authkit.ErrCodeDuplicateUser, "user %s already exists", id)
		}
		if u.Email != "" {
			ek := s.emailKey(u.Email)
			if found, err := exists(tx, ek, &IndexEntity{}); err != nil {
				return err
			} else if found {
				return authkit.NewAdapterError(authkit.ErrCodeDuplicateEmail, "email %s already registered", u.Email)
			}
			if _, err := tx.Put(ek, &IndexEntity{Owner: id}); err != nil {
				return err
			}
		}
		_, err := tx.Put(key, entity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity.ToUser(), nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*authkit.User, error) {
	var entity UserEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindUser, id), &entity); err != nil {
		return nil, translate(err, "user")
	}
	return entity.ToUser(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*authkit.User, error) {
	if strings.TrimSpace(email) == "" {
		return nil, notFound("user")
	}
	var idx IndexEntity
	if err := s.client.Get(ctx, s.emailKey(email), &idx); err != nil {
		return nil, translate(err, "user")
	}
	return s.GetUser(ctx, idx.Owner)
}

func (s *Store) GetUserByAccount(ctx context.Context, key authkit.AccountKey) (*authkit.User, error) {
	acct, err := s.GetAccount(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, acct.UserID)
}

func (s *Store) UpdateUser(ctx context.Context, patch *authkit.User) (*authkit.User, error) {
	key := s.namespacedKey(KindUser, patch.ID)
	var out *authkit.User
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity UserEntity
		if err := tx.Get(key, &entity); err != nil {
			return translate(err, "user")
		}
		u := entity.ToUser()
		oldEmail := u.Email
		if patch.Email != "" && !strings.EqualFold(patch.Email, oldEmail) {
			ek := s.emailKey(patch.Email)
			if found, err := exists(tx, ek, &IndexEntity{}); err != nil {
				return err
			} else if found {
				return authkit.NewAdapterError(authkit.ErrCodeDuplicateEmail, "email %s already registered", patch.Email)
			}
			if _, err := tx.Put(ek, &IndexEntity{Owner: patch.ID}); err != nil {
				return err
			}
			if oldEmail != "" {
				if err := tx.Delete(s.emailKey(oldEmail)); err != nil {
					return err
				}
			}
		}
		authkit.ApplyUserPatch(u, patch)
		updated := UserToEntity(u, key)
		updated.CreatedAt = entity.CreatedAt
		updated.UpdatedAt = s.now()
		if _, err := tx.Put(key, updated); err != nil {
			return err
		}
		out = updated.ToUser()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteUser removes the user with its accounts, sessions and index entries.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	accounts, err := s.accountsForUser(ctx, id)
	if err != nil {
		return err
	}
	sessionKeys, err := s.client.GetAll(ctx, s.query(KindSession).FilterField("user_id", "=", id).KeysOnly(), nil)
	if err != nil {
		return err
	}

	key := s.namespacedKey(KindUser, id)
	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity UserEntity
		if err := tx.Get(key, &entity); err != nil {
			return translate(err, "user")
		}
		keys := []*datastore.Key{key}
		if entity.Email != "" {
			keys = append(keys, s.emailKey(entity.Email))
		}
		for _, a := range accounts {
			keys = append(keys, s.accountKeys(a)...)
		}
		keys = append(keys, sessionKeys...)
		return tx.DeleteMulti(keys)
	})
	return err
}

// ============================================================================
// Accounts
// ============================================================================

func (s *Store) accountKeys(a *AccountEntity) []*datastore.Key {
	keys := []*datastore.Key{a.Key}
	if a.ProviderAccountID != "" {
		keys = append(keys, s.subjectKey(a.Provider, a.ProviderAccountID))
	}
	if a.Login != "" {
		keys = append(keys, s.loginKey(a.Provider, a.Login))
	}
	return keys
}

func (s *Store) accountsForUser(ctx context.Context, userID string) ([]*AccountEntity, error) {
	var accounts []*AccountEntity
	it := s.client.Run(ctx, s.query(KindAccount).FilterField("user_id", "=", userID))
	for {
		var entity AccountEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, &entity)
	}
	return accounts, nil
}

func (s *Store) LinkAccount(ctx context.Context, a *authkit.Account) (*authkit.Account, error) {
	id := a.ID
	if id == "" {
		id = uuid.NewString()
	}
	key := s.namespacedKey(KindAccount, id)
	entity := AccountToEntity(a, key)
	now := s.now()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if found, err := exists(tx, s.namespacedKey(KindUser, a.UserID), &UserEntity{}); err != nil {
			return err
		} else if !found {
			return notFound("user")
		}
		if a.ProviderAccountID != "" {
			sk := s.subjectKey(a.Provider, a.ProviderAccountID)
			if found, err := exists(tx, sk, &IndexEntity{}); err != nil {
				return err
			} else if found {
				return authkit.NewAdapterError(authkit.ErrCodeAccountAlreadyLinked, "%s account %s already linked", a.Provider, a.ProviderAccountID)
			}
			if _, err := tx.Put(sk, &IndexEntity{Owner: id}); err != nil {
				return err
			}
		}
		if a.Login != "" {
			lk := s.loginKey(a.Provider, a.Login)
			if found, err := exists(tx, lk, &IndexEntity{}); err != nil {
				return err
			} else if found {
				return authkit.NewAdapterError(authkit.ErrCodeAccountAlreadyLinked, "%s login %s already linked", a.Provider, a.Login)
			}
			if _, err := tx.Put(lk, &IndexEntity{Owner: id}); err != nil {
				return err
			}
		}
		_, err := tx.Put(key, entity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity.ToAccount(), nil
}

func (s *Store) UnlinkAccount(ctx context.Context, key authkit.AccountKey) error {
	sk := s.subjectKey(key.Provider, key.ProviderAccountID)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var idx IndexEntity
		if err := tx.Get(sk, &idx); err != nil {
			return translate(err, "account")
		}
		var entity AccountEntity
		if err := tx.Get(s.namespacedKey(KindAccount, idx.Owner), &entity); err != nil {
			return translate(err, "account")
		}
		return tx.DeleteMulti(s.accountKeys(&entity))
	})
	return err
}

func (s *Store) accountByIndex(ctx context.Context, idxKey *datastore.Key) (*authkit.Account, error) {
	var idx IndexEntity
	if err := s.client.Get(ctx, idxKey, &idx); err != nil {
		return nil, translate(err, "account")
	}
	var entity AccountEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindAccount, idx.Owner), &entity); err != nil {
		return nil, translate(err, "account")
	}
	return entity.ToAccount(), nil
}

func (s *Store) GetAccount(ctx context.Context, key authkit.AccountKey) (*authkit.Account, error) {
	return s.accountByIndex(ctx, s.subjectKey(key.Provider, key.ProviderAccountID))
}

func (s *Store) GetAccountByLogin(ctx context.Context, provider, login string) (*authkit.Account, error) {
	return s.accountByIndex(ctx, s.loginKey(provider, login))
}

func (s *Store) UpdateAccount(ctx context.Context, id string, patch authkit.AccountPatch) (*authkit.Account, error) {
	key := s.namespacedKey(KindAccount, id)
	var out *authkit.Account
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity AccountEntity
		if err := tx.Get(key, &entity); err != nil {
			return translate(err, "account")
		}
		a := entity.ToAccount()
		patch.Apply(a)
		a.UpdatedAt = s.now()
		updated := AccountToEntity(a, key)
		if _, err := tx.Put(key, updated); err != nil {
			return err
		}
		out = updated.ToAccount()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ============================================================================
// Sessions
// ============================================================================

func (s *Store) CreateSession(ctx context.Context, rec *authkit.SessionRecord) (*authkit.SessionRecord, error) {
	now := s.now()
	entity := &SessionEntity{
		Key:       s.namespacedKey(KindSession, rec.SessionToken),
		ID:        rec.ID,
		UserID:    rec.UserID,
		Expires:   rec.Expires,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if entity.ID == "" {
		entity.ID = uuid.NewString()
	}
	if _, err := s.client.Put(ctx, entity.Key, entity); err != nil {
		return nil, err
	}
	return entity.ToSessionRecord(), nil
}

func (s *Store) GetSessionAndUser(ctx context.Context, sessionToken string) (*authkit.SessionRecord, *authkit.User, error) {
	key := s.namespacedKey(KindSession, sessionToken)
	var entity SessionEntity
	if err := s.client.Get(ctx, key, &entity); err != nil {
		return nil, nil, translate(err, "session")
	}
	if entity.Expires.Before(s.now()) {
		s.client.Delete(ctx, key)
		return nil, nil, notFound("session")
	}
	u, err := s.GetUser(ctx, entity.UserID)
	if err != nil {
		return nil, nil, err
	}
	return entity.ToSessionRecord(), u, nil
}

func (s *Store) UpdateSession(ctx context.Context, rec *authkit.SessionRecord) (*authkit.SessionRecord, error) {
	key := s.namespacedKey(KindSession, rec.SessionToken)
	var out *authkit.SessionRecord
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity SessionEntity
		if err := tx.Get(key, &entity); err != nil {
			return translate(err, "session")
		}
		if !rec.Expires.IsZero() {
			entity.Expires = rec.Expires
		}
		entity.UpdatedAt = s.now()
		if _, err := tx.Put(key, &entity); err != nil {
			return err
		}
		out = entity.ToSessionRecord()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionToken string) error {
	key := s.namespacedKey(KindSession, sessionToken)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if found, err := exists(tx, key, &SessionEntity{}); err != nil {
			return err
		} else if !found {
			return notFound("session")
		}
		return tx.Delete(key)
	})
	return err
}

// ============================================================================
// Verification tokens
// ============================================================================

func (s *Store) CreateVerificationToken(ctx context.Context, t *authkit.VerificationToken) (*authkit.VerificationToken, error) {
	entity := &VerificationTokenEntity{Key: s.tokenKey(t.Identifier, t.Token), Expires: t.Expires}
	if _, err := s.client.Put(ctx, entity.Key, entity); err != nil {
		return nil, err
	}
	return entity.ToVerificationToken(), nil
}

// UseVerificationToken reads and deletes the token in one transaction.
// Concurrent callers conflict and all but one see NOT_FOUND.
func (s *Store) UseVerificationToken(ctx context.Context, identifier, token string) (*authkit.VerificationToken, error) {
	key := s.tokenKey(identifier, token)
	var entity VerificationTokenEntity
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if err := tx.Get(key, &entity); err != nil {
			return translate(err, "verification token")
		}
		return tx.Delete(key)
	})
	if err != nil {
		if errors.Is(err, datastore.ErrConcurrentTransaction) {
			return nil, notFound("verification token")
		}
		return nil, err
	}
	if entity.Expires.Before(s.now()) {
		return nil, notFound("verification token")
	}
	return entity.ToVerificationToken(), nil
}

func (s *Store) GetVerificationToken(ctx context.Context, identifier, token string) (*authkit.VerificationToken, error) {
	var entity VerificationTokenEntity
	if err := s.client.Get(ctx, s.tokenKey(identifier, token), &entity); err != nil {
		return nil, translate(err, "verification token")
	}
	if entity.Expires.Before(s.now()) {
		return nil, notFound("verification token")
	}
	return entity.ToVerificationToken(), nil
}
