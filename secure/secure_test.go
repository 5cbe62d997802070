package secure_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authkit/secure"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestSignVerify(t *testing.T) {
	sig := secure.Sign("hello", testSecret)
	assert.True(t, secure.Verify("hello", sig, testSecret))
	assert.False(t, secure.Verify("hello!", sig, testSecret))
	assert.False(t, secure.Verify("hello", sig, testSecret+"x"))
	assert.False(t, secure.Verify("hello", "", testSecret))
	assert.NotContains(t, sig, "=")
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	a, err := secure.Encrypt([]byte("payload"), testSecret)
	require.NoError(t, err)
	b, err := secure.Encrypt([]byte("payload"), testSecret)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	for _, blob := range []string{a, b} {
		out, err := secure.Decrypt(blob, testSecret)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(out))
	}
}

func TestDecryptFailures(t *testing.T) {
	blob, err := secure.Encrypt([]byte("payload"), testSecret)
	require.NoError(t, err)

	tests := []struct {
		name   string
		blob   string
		secret string
	}{
		{"wrong secret", blob, "another-secret-another-secret-xx"},
		{"garbage", "not base64 at all!!", testSecret},
		{"too short", "AAAA", testSecret},
		{"tampered", tamper(blob), testSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := secure.Decrypt(tt.blob, tt.secret)
			assert.ErrorIs(t, err, secure.ErrDecryption)
		})
	}
}

func tamper(blob string) string {
	// flip a character inside the ciphertext section, past salt and iv
	b := []byte(blob)
	i := len(b) - 6
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	return string(b)
}

func TestRandomStringUsesReader(t *testing.T) {
	orig := secure.Reader
	defer func() { secure.Reader = orig }()

	secure.Reader = bytes.NewReader(bytes.Repeat([]byte{0}, 64))
	s, err := secure.RandomString(16)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("A", 22), s)

	secure.Reader = bytes.NewReader(nil)
	_, err = secure.RandomString(16)
	assert.Error(t, err)
}

func TestCodeChallenge(t *testing.T) {
	// RFC 7636 appendix B
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", secure.GenerateCodeChallenge(verifier))

	v, err := secure.GenerateCodeVerifier()
	require.NoError(t, err)
	assert.Len(t, v, 43)
}

func TestBase64URL(t *testing.T) {
	in := []byte{0xfb, 0xff, 0xfe}
	enc := secure.Base64URLEncode(in)
	assert.Equal(t, "-__-", enc)

	out, err := secure.Base64URLDecode(enc)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	out, err = secure.Base64URLDecode("-_8=")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfb, 0xff}, out)
}
