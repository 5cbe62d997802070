package password_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/panyam/authkit/password"
)

func TestHashIsSelfDescribing(t *testing.T) {
	h, err := password.Hash("correct horse", password.Options{})
	require.NoError(t, err)

	parts := strings.Split(h, ":")
	require.Len(t, parts, 4)
	assert.Equal(t, password.PBKDF2, parts[0])
	assert.Equal(t, "100000", parts[1])
	assert.Len(t, parts[2], 32) // 16 byte salt, hex
	assert.Len(t, parts[3], 64) // 32 byte key, hex

	ok, err := password.Verify("correct horse", h)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = password.Verify("wrong horse", h)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashIsSalted(t *testing.T) {
	a, err := password.Hash("pw", password.Options{Iterations: 1000})
	require.NoError(t, err)
	b, err := password.Hash("pw", password.Options{Iterations: 1000})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestBcrypt(t *testing.T) {
	h, err := password.Hash("secret123", password.Options{Algorithm: password.Bcrypt, BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(h, "bcrypt:4:$2a$"))

	ok, err := password.Verify("secret123", h)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = password.Verify("secret124", h)
	assert.False(t, ok)
}

func TestVerifyMalformed(t *testing.T) {
	for _, h := range []string{
		"",
		"nonsense",
		"md5:abc:def",
		"pbkdf2-sha256",
		"pbkdf2-sha256:abc:00:00",
		"pbkdf2-sha256:1000:zz:00",
		"pbkdf2-sha256:1000:00",
		"bcrypt:10",
		"bcrypt:10:not-a-bcrypt-hash",
	} {
		ok, err := password.Verify("pw", h)
		assert.NoError(t, err, h)
		assert.False(t, ok, h)
	}
}

func TestArgon2Unavailable(t *testing.T) {
	_, err := password.Hash("pw", password.Options{Algorithm: password.Argon2id})
	var cfgErr *password.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "github.com/panyam/authkit/password/argon2", cfgErr.Dependency)

	ok, err := password.Verify("pw", "argon2id:3:65536:2:00:00")
	assert.False(t, ok)
	assert.True(t, errors.As(err, &cfgErr))
}

func TestNeedsRehash(t *testing.T) {
	h, err := password.Hash("pw", password.Options{Iterations: 100000})
	require.NoError(t, err)

	assert.False(t, password.NeedsRehash(h, password.Options{Iterations: 100000}))
	assert.True(t, password.NeedsRehash(h, password.Options{Iterations: 150000}))
	assert.False(t, password.NeedsRehash(h, password.Options{Iterations: 50000}))
	assert.True(t, password.NeedsRehash(h, password.Options{Iterations: 100000, KeyLength: 64}))

	bh, err := password.Hash("pw", password.Options{Algorithm: password.Bcrypt, BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	assert.True(t, password.NeedsRehash(bh, password.Options{}), "bcrypt is weaker than pbkdf2")
	assert.True(t, password.NeedsRehash(bh, password.Options{Algorithm: password.Bcrypt, BcryptCost: bcrypt.MinCost + 1}))
	assert.False(t, password.NeedsRehash(bh, password.Options{Algorithm: password.Bcrypt, BcryptCost: bcrypt.MinCost}))

	// no downgrade from pbkdf2 to bcrypt
	assert.False(t, password.NeedsRehash(h, password.Options{Algorithm: password.Bcrypt}))

	assert.True(t, password.NeedsRehash("garbage", password.Options{}))
}

func TestHashUnknownAlgorithm(t *testing.T) {
	_, err := password.Hash("pw", password.Options{Algorithm: "rot13"})
	assert.Error(t, err)
}
