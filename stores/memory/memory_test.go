package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authkit"
	"github.com/panyam/authkit/stores/memory"
	"github.com/panyam/authkit/stores/storetest"
)

func TestMemoryAdapter(t *testing.T) {
	storetest.RunAdapterTests(t, func(t *testing.T, now func() time.Time) authkit.Adapter {
		return memory.New(memory.WithClock(now))
	})
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	u, err := src.CreateUser(ctx, &authkit.User{Email: "a@example.com", Extra: map[string]any{"k": "v"}})
	require.NoError(t, err)
	_, err = src.LinkAccount(ctx, &authkit.Account{UserID: u.ID, Provider: "credentials", Login: "a@example.com", Type: authkit.AccountTypeCredentials})
	require.NoError(t, err)

	dst := memory.New()
	dst.Restore(src.Snapshot())

	got, err := dst.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "v", got.Extra["k"])

	acct, err := dst.GetAccountByLogin(ctx, "credentials", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, acct.UserID)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	u, err := s.CreateUser(ctx, &authkit.User{Email: "a@example.com", Name: "A"})
	require.NoError(t, err)

	u.Name = "changed"
	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)
}
