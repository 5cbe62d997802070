//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/panyam/authkit"
)

// AutoMigrate runs database migrations for all authkit tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&AccountModel{},
		&SessionModel{},
		&VerificationTokenModel{},
	)
}

// Store implements authkit.Adapter using GORM
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ authkit.Adapter                 = (*Store)(nil)
	_ authkit.AccountLoginFinder      = (*Store)(nil)
	_ authkit.AccountUpdater          = (*Store)(nil)
	_ authkit.VerificationTokenFinder = (*Store)(nil)
)

type Option func(*Store)

// WithClock sets the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func notFound(what string) error {
	return authkit.NewAdapterError(authkit.ErrCodeNotFound, "%s not found", what)
}

// translate maps gorm.ErrRecordNotFound onto a NOT_FOUND adapter error.
func translate(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(what)
	}
	return err
}

// duplicate maps unique index violations that slipped past the existence
// checks. It needs gorm.Config.TranslateError.
func duplicate(err error, code authkit.ErrorCode, what string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &authkit.AdapterError{Code: code, Message: what + " already exists", Err: err}
	}
	return err
}

func (s *Store) tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// =============================================================================
// Users
// =============================================================================

func (s *Store) CreateUser(ctx context.Context, u *authkit.User) (*authkit.User, error) {
	model := UserToModel(u)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	err := s.tx(ctx, func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&UserModel{}).Where("id = ?", model.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return authkit.NewAdapterError(authkit.ErrCodeDuplicateUser, "user %s already exists", model.ID)
		}
		if model.EmailKey != nil {
			if err := tx.Model(&UserModel{}).Where("email_key = ?", *model.EmailKey).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return authkit.NewAdapterError(authkit.ErrCodeDuplicateEmail, "email %s already registered", u.Email)
			}
		}
		return duplicate(tx.Create(model).Error, authkit.ErrCodeDuplicateEmail, "user")
	})
	if err != nil {
		return nil, err
	}
	return model.ToUser(), nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*authkit.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, translate(err, "user")
	}
	return model.ToUser(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*authkit.User, error) {
	key := emailKey(email)
	if key == nil {
		return nil, notFound("user")
	}
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "email_key = ?", *key).Error; err != nil {
		return nil, translate(err, "user")
	}
	return model.ToUser(), nil
}

func (s *Store) GetUserByAccount(ctx context.Context, key authkit.AccountKey) (*authkit.User, error) {
	var model UserModel
	err := s.db.WithContext(ctx).
		Joins("JOIN accounts ON accounts.user_id = users.id").
		Where("accounts.provider = ? AND accounts.provider_account_id = ?", key.Provider, key.ProviderAccountID).
		First(&model).Error
	if err != nil {
		return nil, translate(err, "user")
	}
	return model.ToUser(), nil
}

func (s *Store) UpdateUser(ctx context.Context, patch *authkit.User) (*authkit.User, error) {
	var out *authkit.User
	err := s.tx(ctx, func(tx *gorm.DB) error {
		var model UserModel
		if err := tx.First(&model, "id = ?", patch.ID).Error; err != nil {
			return translate(err, "user")
		}
		u := model.ToUser()
		if key := emailKey(patch.Email); key != nil && deref(model.EmailKey) != *key {
			var n int64
			if err := tx.Model(&UserModel{}).Where("email_key = ?", *key).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return authkit.NewAdapterError(authkit.ErrCodeDuplicateEmail, "email %s already registered", patch.Email)
			}
		}
		authkit.ApplyUserPatch(u, patch)
		updated := UserToModel(u)
		updated.CreatedAt = model.CreatedAt
		if err := tx.Save(updated).Error; err != nil {
			return duplicate(err, authkit.ErrCodeDuplicateEmail, "user")
		}
		out = updated.ToUser()
		return nil
	})
	return out, err
}

// DeleteUser removes the user with its accounts and sessions.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		res := tx.Delete(&UserModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound("user")
		}
		if err := tx.Delete(&AccountModel{}, "user_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&SessionModel{}, "user_id = ?", id).Error
	})
}

// =============================================================================
// Accounts
// =============================================================================

func (s *Store) LinkAccount(ctx context.Context, a *authkit.Account) (*authkit.Account, error) {
	model := AccountToModel(a)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	err := s.tx(ctx, func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&UserModel{}).Where("id = ?", model.UserID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return notFound("user")
		}
		if model.ProviderAccountID != nil {
			if err := tx.Model(&AccountModel{}).
				Where("provider = ? AND provider_account_id = ?", model.Provider, *model.ProviderAccountID).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return authkit.NewAdapterError(authkit.ErrCodeAccountAlreadyLinked, "%s account %s already linked", model.Provider, *model.ProviderAccountID)
			}
		}
		if model.Login != nil {
			if err := tx.Model(&AccountModel{}).
				Where("provider = ? AND login = ?", model.Provider, *model.Login).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return authkit.NewAdapterError(authkit.ErrCodeAccountAlreadyLinked, "%s login %s already linked", model.Provider, *model.Login)
			}
		}
		return duplicate(tx.Create(model).Error, authkit.ErrCodeAccountAlreadyLinked, "account")
	})
	if err != nil {
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *Store) UnlinkAccount(ctx context.Context, key authkit.AccountKey) error {
	res := s.db.WithContext(ctx).Delete(&AccountModel{}, "provider = ? AND provider_account_id = ?", key.Provider, key.ProviderAccountID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("account")
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, key authkit.AccountKey) (*authkit.Account, error) {
	var model AccountModel
	err := s.db.WithContext(ctx).First(&model, "provider = ? AND provider_account_id = ?", key.Provider, key.ProviderAccountID).Error
	if err != nil {
		return nil, translate(err, "account")
	}
	return model.ToAccount(), nil
}

func (s *Store) GetAccountByLogin(ctx context.Context, provider, login string) (*authkit.Account, error) {
	var model AccountModel
	err := s.db.WithContext(ctx).First(&model, "provider = ? AND login = ?", provider, login).Error
	if err != nil {
		return nil, translate(err, "account")
	}
	return model.ToAccount(), nil
}

func (s *Store) UpdateAccount(ctx context.Context, id string, patch authkit.AccountPatch) (*authkit.Account, error) {
	var out *authkit.Account
	err := s.tx(ctx, func(tx *gorm.DB) error {
		var model AccountModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return translate(err, "account")
		}
		a := model.ToAccount()
		patch.Apply(a)
		updated := AccountToModel(a)
		if err := tx.Save(updated).Error; err != nil {
			return err
		}
		out = updated.ToAccount()
		return nil
	})
	return out, err
}

// =============================================================================
// Sessions
// =============================================================================

func (s *Store) CreateSession(ctx context.Context, rec *authkit.SessionRecord) (*authkit.SessionRecord, error) {
	model := &SessionModel{
		ID:           rec.ID,
		SessionToken: rec.SessionToken,
		UserID:       rec.UserID,
		Expires:      rec.Expires,
	}
	if model.ID == "" {
		model.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, err
	}
	return model.ToSessionRecord(), nil
}

func (s *Store) GetSessionAndUser(ctx context.Context, sessionToken string) (*authkit.SessionRecord, *authkit.User, error) {
	db := s.db.WithContext(ctx)
	var sess SessionModel
	if err := db.First(&sess, "session_token = ?", sessionToken).Error; err != nil {
		return nil, nil, translate(err, "session")
	}
	if sess.Expires.Before(s.now()) {
		db.Delete(&SessionModel{}, "session_token = ?", sessionToken)
		return nil, nil, notFound("session")
	}
	var user UserModel
	if err := db.First(&user, "id = ?", sess.UserID).Error; err != nil {
		return nil, nil, translate(err, "user")
	}
	return sess.ToSessionRecord(), user.ToUser(), nil
}

func (s *Store) UpdateSession(ctx context.Context, rec *authkit.SessionRecord) (*authkit.SessionRecord, error) {
	var out *authkit.SessionRecord
	err := s.tx(ctx, func(tx *gorm.DB) error {
		var model SessionModel
		if err := tx.First(&model, "session_token = ?", rec.SessionToken).Error; err != nil {
			return translate(err, "session")
		}
		if !rec.Expires.IsZero() {
			model.Expires = rec.Expires
		}
		if err := tx.Save(&model).Error; err != nil {
			return err
		}
		out = model.ToSessionRecord()
		return nil
	})
	return out, err
}

func (s *Store) DeleteSession(ctx context.Context, sessionToken string) error {
	res := s.db.WithContext(ctx).Delete(&SessionModel{}, "session_token = ?", sessionToken)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("session")
	}
	return nil
}

// =============================================================================
// Verification tokens
// =============================================================================

func (s *Store) CreateVerificationToken(ctx context.Context, t *authkit.VerificationToken) (*authkit.VerificationToken, error) {
	model := &VerificationTokenModel{Identifier: t.Identifier, Token: t.Token, Expires: t.Expires}
	if err := s.db.WithContext(ctx).Save(model).Error; err != nil {
		return nil, err
	}
	return model.ToVerificationToken(), nil
}

// UseVerificationToken deletes the token and returns it. Only the caller
// whose delete affects the row wins, so concurrent uses yield one success.
func (s *Store) UseVerificationToken(ctx context.Context, identifier, token string) (*authkit.VerificationToken, error) {
	var out *authkit.VerificationToken
	err := s.tx(ctx, func(tx *gorm.DB) error {
		var model VerificationTokenModel
		if err := tx.First(&model, "identifier = ? AND token = ?", identifier, token).Error; err != nil {
			return translate(err, "verification token")
		}
		res := tx.Delete(&VerificationTokenModel{}, "identifier = ? AND token = ?", identifier, token)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound("verification token")
		}
		out = model.ToVerificationToken()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Expires.Before(s.now()) {
		return nil, notFound("verification token")
	}
	return out, nil
}

func (s *Store) GetVerificationToken(ctx context.Context, identifier, token string) (*authkit.VerificationToken, error) {
	var model VerificationTokenModel
	if err := s.db.WithContext(ctx).First(&model, "identifier = ? AND token = ?", identifier, token).Error; err != nil {
		return nil, translate(err, "verification token")
	}
	if model.Expires.Before(s.now()) {
		return nil, notFound("verification token")
	}
	return model.ToVerificationToken(), nil
}
