// Package examcode hands out the short numeric codes students type in to join an exam.
package examcode

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/redis/go-redis/v9"
)

const (
	codeMin     = 100000
	codeMax     = 999999
	maxAttempts = 10
)

// Checker reports whether a code is already used by a stored exam.
type Checker interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

type Config struct {
	Checker Checker
	// Redis is optional. When set, every code is reserved with SETNX before being handed out,
	// so two instances can never hand out the same code concurrently.
	Redis  redis.UniversalClient
	Prefix string
	// RandFunc returns a random integer in [0, n). Defaults to crypto/rand.
	RandFunc func(n int64) (int64, error)
}

type Generator struct {
	checker Checker
	redis   redis.UniversalClient
	prefix  string
	rand    func(n int64) (int64, error)
}

func NewGenerator(c Config) *Generator {
	g := &Generator{
		checker: c.Checker,
		redis:   c.Redis,
		prefix:  c.Prefix,
		rand:    c.RandFunc,
	}

	if g.rand == nil {
		g.rand = cryptoRand
	}

	return g
}

// Generate returns a 6-digit code that is neither reserved nor used by any stored exam.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		n, err := g.rand(codeMax - codeMin + 1)
		if err != nil {
			return "", fmt.Errorf("examcode: random: %w", err)
		}
		code := fmt.Sprintf("%d", codeMin+n)

		ok, err := g.reserve(ctx, code)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}

		exists, err := g.checker.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("examcode: check %s: %w", code, err)
		}
		if !exists {
			return code, nil
		}
	}

	return "", fmt.Errorf("examcode: no free code after %d attempts", maxAttempts)
}

// Release drops a reservation whose exam was deleted or never stored, so the code can be reused.
func (g *Generator) Release(ctx context.Context, code string) error {
	if g.redis == nil {
		return nil
	}

	if err := g.redis.Del(ctx, g.key(code)).Err(); err != nil {
		return fmt.Errorf("examcode: release %s: %w", code, err)
	}

	return nil
}

func (g *Generator) reserve(ctx context.Context, code string) (bool, error) {
	if g.redis == nil {
		return true, nil
	}

	ok, err := g.redis.SetNX(ctx, g.key(code), 1, 0).Result()
	if err != nil {
		return false, fmt.Errorf("examcode: reserve %s: %w", code, err)
	}

	return ok, nil
}

func (g *Generator) key(code string) string {
	return fmt.Sprintf("%s:code:%s", g.prefix, code)
}

func cryptoRand(n int64) (int64, error) {
	r, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}

	return r.Int64(), nil
}
