package authkit_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authkit"
	"github.com/panyam/authkit/stores/memory"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSessionCodecRoundTrip(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec := authkit.NewSessionCodec(testSecret, clock.Now)

	s := codec.NewSession(&authkit.User{ID: "u1", Email: "a@example.com", Extra: map[string]any{"plan": "pro"}}, time.Hour)
	s.AccessToken = "at"
	s.Extra = map[string]any{"role": "admin", "sub": "ignored"}
	tok, err := codec.Encode(s, time.Hour)
	require.NoError(t, err)

	got := codec.Decode(tok)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.User.ID)
	assert.Equal(t, "a@example.com", got.User.Email)
	assert.Equal(t, "pro", got.User.Extra["plan"])
	assert.Equal(t, "at", got.AccessToken)
	assert.Equal(t, "admin", got.Extra["role"])
	assert.NotContains(t, got.Extra, "sub", "reserved claims never land in Extra")
	assert.Equal(t, clock.Now(), got.IssuedAt.UTC())
	assert.Equal(t, clock.Now().Add(time.Hour), got.Expires.UTC())
}

func TestSessionCodecRejects(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec := authkit.NewSessionCodec(testSecret, clock.Now)
	tok, err := codec.Encode(codec.NewSession(&authkit.User{ID: "u1"}, time.Hour), time.Hour)
	require.NoError(t, err)

	assert.Nil(t, codec.Decode(""))
	assert.Nil(t, codec.Decode("not.a.token"))

	other := authkit.NewSessionCodec(strings.Repeat("x", 32), clock.Now)
	assert.Nil(t, other.Decode(tok), "wrong secret")

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	assert.Nil(t, codec.Decode(parts[0]+"."+parts[1]+"."+string(sig)), "bad signature")

	clock.Advance(2 * time.Hour)
	assert.Nil(t, codec.Decode(tok), "expired")
}

func TestSessionCodecRefresh(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec := authkit.NewSessionCodec(testSecret, clock.Now)
	s := codec.NewSession(&authkit.User{ID: "u1"}, time.Hour)

	assert.False(t, codec.ShouldUpdate(s, 10*time.Minute))
	clock.Advance(15 * time.Minute)
	assert.True(t, codec.ShouldUpdate(s, 10*time.Minute))

	fresh := codec.Refresh(s, time.Hour)
	assert.Equal(t, clock.Now(), fresh.IssuedAt)
	assert.Equal(t, clock.Now().Add(time.Hour), fresh.Expires)
	assert.Equal(t, s.User, fresh.User)
}

func TestSessionEndpointRefreshesOldSessions(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	h := newHarness(t, func(cfg *authkit.Config) {
		cfg.Clock = clock.Now
		cfg.Session.MaxAge = 2 * time.Hour
		cfg.Session.UpdateAge = 30 * time.Minute
	})
	h.addUser("lea@example.com", "pw-lea-1234")
	h.signIn("lea@example.com", "pw-lea-1234")

	first := h.session()["expires"]
	assert.Equal(t, "2026-03-01T14:00:00Z", first)

	clock.Advance(10 * time.Minute)
	assert.Equal(t, first, h.session()["expires"], "young sessions are not reissued")

	clock.Advance(50 * time.Minute)
	assert.Equal(t, "2026-03-01T15:00:00Z", h.session()["expires"])
}

func TestDecodeSession(t *testing.T) {
	ctx := context.Background()
	a, err := authkit.New(authkit.Config{Secret: testSecret})
	require.NoError(t, err)

	s, err := a.DecodeSession(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, s)

	tok, err := a.Codec().Encode(a.Codec().NewSession(&authkit.User{ID: "u9"}, time.Hour), time.Hour)
	require.NoError(t, err)
	s, err = a.DecodeSession(ctx, tok)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "u9", s.User.ID)

	store := memory.New()
	db, err := authkit.New(authkit.Config{
		Secret:  testSecret,
		Adapter: store,
		Session: authkit.SessionConfig{Strategy: authkit.StrategyDatabase},
	})
	require.NoError(t, err)
	s, err = db.DecodeSession(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestUserJSON(t *testing.T) {
	verified := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	u := authkit.User{
		ID:            "u1",
		Email:         "a@example.com",
		EmailVerified: &verified,
		Extra:         map[string]any{"plan": "pro", "id": "shadowed"},
	}
	raw, err := json.Marshal(u)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.Equal(t, "u1", flat["id"], "core fields win over Extra")
	assert.Equal(t, "pro", flat["plan"])
	assert.Equal(t, "2026-01-02T03:04:05Z", flat["emailVerified"])
	assert.NotContains(t, flat, "name")

	var back authkit.User
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, "u1", back.ID)
	assert.Equal(t, map[string]any{"plan": "pro"}, back.Extra)
	require.NotNil(t, back.EmailVerified)
	assert.True(t, verified.Equal(*back.EmailVerified))
}
