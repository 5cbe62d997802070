// Package secure provides the crypto primitives used throughout authkit:
// HMAC signing, authenticated encryption, random tokens, PKCE helpers and
// base64url encoding.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize = 16
	ivSize   = 12
	keySize  = 32

	// KDFIterations is the PBKDF2 round count used to derive encryption keys.
	KDFIterations = 100000

	signingInfo = "authkit signing key"
)

// ErrDecryption is returned for any ciphertext that cannot be opened:
// bad encoding, short input, wrong secret or tampered data.
var ErrDecryption = errors.New("decryption failed")

// Reader is the randomness source for every primitive in this package.
// Tests may replace it with a deterministic reader.
var Reader io.Reader = rand.Reader

// Sign returns the base64url HMAC-SHA256 of data under a key derived from secret.
func Sign(data, secret string) string {
	mac := hmac.New(sha256.New, signingKey(secret))
	mac.Write([]byte(data))
	return Base64URLEncode(mac.Sum(nil))
}

// Verify reports whether signature is the HMAC of data under secret.
// The comparison is constant time.
func Verify(data, signature, secret string) bool {
	expected := Sign(data, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func signingKey(secret string) []byte {
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(signingInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only fails after 255*32 bytes
		panic(err)
	}
	return key
}

// Encrypt seals plaintext with AES-256-GCM. A fresh salt and IV are drawn on
// every call, so the key is re-derived each time and identical plaintexts
// produce different blobs. The result is base64(salt || iv || ciphertext).
func Encrypt(plaintext []byte, secret string) (string, error) {
	buf := make([]byte, saltSize+ivSize)
	if _, err := io.ReadFull(Reader, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	salt, iv := buf[:saltSize], buf[saltSize:]

	aead, err := newAEAD(secret, salt)
	if err != nil {
		return "", err
	}
	sealed := aead.Seal(buf, iv, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. All failures map to ErrDecryption.
func Decrypt(blob string, secret string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil || len(raw) < saltSize+ivSize {
		return nil, ErrDecryption
	}
	salt, iv, ciphertext := raw[:saltSize], raw[saltSize:saltSize+ivSize], raw[saltSize+ivSize:]

	aead, err := newAEAD(secret, salt)
	if err != nil {
		return nil, ErrDecryption
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

func newAEAD(secret string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(secret), salt, KDFIterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, ivSize)
}

// RandomBytes returns n bytes from Reader.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(Reader, b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// RandomString returns a URL-safe string carrying n random bytes of entropy.
func RandomString(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return Base64URLEncode(b), nil
}

// GenerateCodeVerifier returns a PKCE code verifier (43 characters, RFC 7636).
func GenerateCodeVerifier() (string, error) {
	return RandomString(32)
}

// GenerateCodeChallenge returns the S256 challenge for a PKCE verifier.
func GenerateCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return Base64URLEncode(sum[:])
}

// Base64URLEncode encodes b as unpadded base64url.
func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64URLDecode decodes unpadded base64url. Trailing padding is tolerated.
func Base64URLDecode(s string) ([]byte, error) {
	for len(s) > 0 && s[len(s)-1] == '=' {
		s = s[:len(s)-1]
	}
	return base64.RawURLEncoding.DecodeString(s)
}
