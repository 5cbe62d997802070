package password

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"

	"golang.org/x/crypto/pbkdf2"

	"github.com/panyam/authkit/secure"
)

type pbkdf2Algorithm struct{}

func init() {
	Register(pbkdf2Algorithm{})
	Register(bcryptAlgorithm{})
}

func (pbkdf2Algorithm) Name() string { return PBKDF2 }
func (pbkdf2Algorithm) Rank() int    { return 20 }

func (pbkdf2Algorithm) Hash(password string, opts Options) (string, error) {
	salt, err := secure.RandomBytes(opts.SaltLength)
	if err != nil {
		return "", err
	}
	key := pbkdf2.Key([]byte(password), salt, opts.Iterations, opts.KeyLength, sha256.New)
	return fmt.Sprintf("%s:%d:%s:%s", PBKDF2, opts.Iterations, hex.EncodeToString(salt), hex.EncodeToString(key)), nil
}

type pbkdf2Params struct {
	iterations int
	salt       []byte
	key        []byte
}

func parsePBKDF2(params []string) (pbkdf2Params, bool) {
	var p pbkdf2Params
	if len(params) != 3 {
		return p, false
	}
	iter, err := strconv.Atoi(params[0])
	if err != nil || iter <= 0 {
		return p, false
	}
	salt, err := hex.DecodeString(params[1])
	if err != nil || len(salt) == 0 {
		return p, false
	}
	key, err := hex.DecodeString(params[2])
	if err != nil || len(key) == 0 {
		return p, false
	}
	return pbkdf2Params{iterations: iter, salt: salt, key: key}, true
}

func (pbkdf2Algorithm) Verify(password string, params []string) bool {
	p, ok := parsePBKDF2(params)
	if !ok {
		return false
	}
	derived := pbkdf2.Key([]byte(password), p.salt, p.iterations, len(p.key), sha256.New)
	return subtle.ConstantTimeCompare(derived, p.key) == 1
}

func (pbkdf2Algorithm) NeedsRehash(params []string, opts Options) bool {
	p, ok := parsePBKDF2(params)
	if !ok {
		return true
	}
	return p.iterations < opts.Iterations ||
		len(p.salt) < opts.SaltLength ||
		len(p.key) < opts.KeyLength
}
