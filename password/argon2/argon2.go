// Package argon2 registers the memory-hard argon2id algorithm with the
// password package. Import it for its side effect:
//
//	import _ "github.com/panyam/authkit/password/argon2"
package argon2

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"

	"golang.org/x/crypto/argon2"

	"github.com/panyam/authkit/password"
	"github.com/panyam/authkit/secure"
)

func init() {
	password.Register(Algorithm{})
}

// Algorithm implements password.Algorithm for argon2id.
type Algorithm struct{}

func (Algorithm) Name() string { return password.Argon2id }
func (Algorithm) Rank() int    { return 30 }

func (Algorithm) Hash(pw string, opts password.Options) (string, error) {
	p := opts.Argon2
	salt, err := secure.RandomBytes(opts.SaltLength)
	if err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(pw), salt, p.Time, p.MemoryKiB, p.Threads, uint32(opts.KeyLength))
	return fmt.Sprintf("%s:%d:%d:%d:%s:%s", password.Argon2id, p.Time, p.MemoryKiB, p.Threads,
		hex.EncodeToString(salt), hex.EncodeToString(key)), nil
}

type parsed struct {
	params password.Argon2Params
	salt   []byte
	key    []byte
}

func parse(fields []string) (parsed, bool) {
	var out parsed
	if len(fields) != 5 {
		return out, false
	}
	t, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil || t == 0 {
		return out, false
	}
	m, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil || m == 0 {
		return out, false
	}
	th, err := strconv.ParseUint(fields[2], 10, 8)
	if err != nil || th == 0 {
		return out, false
	}
	salt, err := hex.DecodeString(fields[3])
	if err != nil || len(salt) == 0 {
		return out, false
	}
	key, err := hex.DecodeString(fields[4])
	if err != nil || len(key) == 0 {
		return out, false
	}
	out.params = password.Argon2Params{Time: uint32(t), MemoryKiB: uint32(m), Threads: uint8(th)}
	out.salt, out.key = salt, key
	return out, true
}

func (Algorithm) Verify(pw string, fields []string) bool {
	p, ok := parse(fields)
	if !ok {
		return false
	}
	derived := argon2.IDKey([]byte(pw), p.salt, p.params.Time, p.params.MemoryKiB, p.params.Threads, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(derived, p.key) == 1
}

func (Algorithm) NeedsRehash(fields []string, opts password.Options) bool {
	p, ok := parse(fields)
	if !ok {
		return true
	}
	want := opts.Argon2
	return p.params.Time < want.Time ||
		p.params.MemoryKiB < want.MemoryKiB ||
		p.params.Threads < want.Threads ||
		len(p.key) < opts.KeyLength
}
