package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

type bcryptAlgorithm struct{}

func (bcryptAlgorithm) Name() string { return Bcrypt }
func (bcryptAlgorithm) Rank() int    { return 10 }

func (bcryptAlgorithm) Hash(password string, opts Options) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), opts.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return fmt.Sprintf("%s:%d:%s", Bcrypt, opts.BcryptCost, h), nil
}

func (bcryptAlgorithm) Verify(password string, params []string) bool {
	if len(params) != 2 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(params[1]), []byte(password)) == nil
}

func (bcryptAlgorithm) NeedsRehash(params []string, opts Options) bool {
	if len(params) != 2 {
		return true
	}
	cost, err := bcrypt.Cost([]byte(params[1]))
	if err != nil {
		return true
	}
	return cost < opts.BcryptCost
}
