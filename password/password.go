// Package password produces and checks self-describing password hashes.
//
// A hash string carries its algorithm and parameters:
//
//	pbkdf2-sha256:<iterations>:<saltHex>:<hashHex>
//	bcrypt:<cost>:<bcrypt hash>
//	argon2id:<time>:<memoryKiB>:<threads>:<saltHex>:<hashHex>
//
// pbkdf2-sha256 and bcrypt are built in. argon2id is registered by importing
// github.com/panyam/authkit/password/argon2.
package password

import (
	"fmt"
	"strings"
	"sync"

	"github.com/panyam/authkit/internal/errdefs"
)

// ConfigurationError is returned when a hash needs an algorithm that was not
// linked into the binary.
type ConfigurationError = errdefs.ConfigurationError

const (
	PBKDF2   = "pbkdf2-sha256"
	Bcrypt   = "bcrypt"
	Argon2id = "argon2id"
)

const (
	DefaultIterations = 100000
	DefaultSaltLength = 16
	DefaultKeyLength  = 32
	DefaultBcryptCost = 12
)

// optional algorithms live in their own packages so the core does not pull
// in their dependencies
var optional = map[string]string{
	Argon2id: "github.com/panyam/authkit/password/argon2",
}

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// Options selects the algorithm and the cost parameters for new hashes and
// the targets NeedsRehash compares against. Zero fields take defaults.
type Options struct {
	Algorithm  string
	Iterations int
	SaltLength int
	KeyLength  int
	BcryptCost int
	Argon2     Argon2Params
}

// WithDefaults returns a copy of o with zero fields filled in.
func (o Options) WithDefaults() Options {
	if o.Algorithm == "" {
		o.Algorithm = PBKDF2
	}
	if o.Iterations <= 0 {
		o.Iterations = DefaultIterations
	}
	if o.SaltLength <= 0 {
		o.SaltLength = DefaultSaltLength
	}
	if o.KeyLength <= 0 {
		o.KeyLength = DefaultKeyLength
	}
	if o.BcryptCost <= 0 {
		o.BcryptCost = DefaultBcryptCost
	}
	if o.Argon2.Time == 0 {
		o.Argon2.Time = 3
	}
	if o.Argon2.MemoryKiB == 0 {
		o.Argon2.MemoryKiB = 64 * 1024
	}
	if o.Argon2.Threads == 0 {
		o.Argon2.Threads = 2
	}
	return o
}

// Algorithm is one hashing scheme. params are the colon separated fields
// that follow the algorithm tag.
type Algorithm interface {
	Name() string

	// Rank orders algorithms by strength. NeedsRehash upgrades toward higher ranks.
	Rank() int

	Hash(password string, opts Options) (string, error)

	// Verify reports whether password matches. Malformed params verify false.
	Verify(password string, params []string) bool

	NeedsRehash(params []string, opts Options) bool
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Algorithm{}
)

// Register makes an algorithm available under its Name. Registering the same
// name twice replaces the earlier entry.
func Register(alg Algorithm) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[alg.Name()] = alg
}

func lookup(name string) (Algorithm, error) {
	registryMu.RLock()
	alg, ok := registry[name]
	registryMu.RUnlock()
	if ok {
		return alg, nil
	}
	if pkg, known := optional[name]; known {
		return nil, &ConfigurationError{
			Dependency: pkg,
			Message:    fmt.Sprintf("password algorithm %q is not available; import %s to enable it", name, pkg),
		}
	}
	return nil, nil
}

func split(hash string) (string, []string) {
	parts := strings.Split(hash, ":")
	return parts[0], parts[1:]
}

// Hash hashes password with the algorithm named in opts (pbkdf2-sha256 by
// default).
func Hash(password string, opts Options) (string, error) {
	opts = opts.WithDefaults()
	alg, err := lookup(opts.Algorithm)
	if err != nil {
		return "", err
	}
	if alg == nil {
		return "", fmt.Errorf("unknown password algorithm %q", opts.Algorithm)
	}
	return alg.Hash(password, opts)
}

// Verify reports whether password matches hash. Malformed hashes and unknown
// algorithm tags return false with a nil error. The only error is a
// *ConfigurationError for a known algorithm that is not linked in.
func Verify(password, hash string) (bool, error) {
	name, params := split(hash)
	alg, err := lookup(name)
	if err != nil {
		return false, err
	}
	if alg == nil {
		return false, nil
	}
	return alg.Verify(password, params), nil
}

// NeedsRehash reports whether hash should be replaced by one made with opts:
// a weaker algorithm or weaker parameters of the same algorithm. Unparseable
// hashes need rehashing. Hashes stronger than opts are left alone.
func NeedsRehash(hash string, opts Options) bool {
	opts = opts.WithDefaults()
	name, params := split(hash)

	current, _ := lookup(name)
	if current == nil {
		return true
	}
	desired, _ := lookup(opts.Algorithm)
	if desired != nil && desired.Name() != current.Name() {
		return desired.Rank() > current.Rank()
	}
	return current.NeedsRehash(params, opts)
}
