package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrExpired         = errors.New("otp challenge expired or unknown")
	ErrTooManyAttempts = errors.New("too many otp attempts")
	ErrInvalidCode     = errors.New("invalid otp code")
)

const keyPrefix = "otp:"

// Challenge is one pending login. The code itself is never stored, only its hash.
type Challenge struct {
	ID         string
	Email      string
	BusinessID string
	ExpiresAt  time.Time
}

type Config struct {
	TTL         time.Duration
	MaxAttempts int
	CodeLength  int
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Store keeps challenges in Redis hashes keyed by otp:<challenge_id>.
type Store struct {
	rdb redis.Cmdable
	cfg Config
	now func() time.Time
}

func NewStore(rdb redis.Cmdable, cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Store{rdb: rdb, cfg: cfg, now: time.Now}
}

func (s *Store) TTL() time.Duration {
	return s.cfg.TTL
}

// Issue creates a challenge for email and returns it with the plaintext code.
func (s *Store) Issue(ctx context.Context, email, businessID string) (Challenge, string, error) {
	code, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		return Challenge{}, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.BcryptCost)
	if err != nil {
		return Challenge{}, "", fmt.Errorf("hash otp: %w", err)
	}

	ch := Challenge{
		ID:         uuid.NewString(),
		Email:      NormalizeEmail(email),
		BusinessID: strings.TrimSpace(businessID),
		ExpiresAt:  s.now().Add(s.cfg.TTL),
	}
	key := keyPrefix + ch.ID
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"email", ch.Email,
			"business_id", ch.BusinessID,
			"code_hash", string(hash),
			"attempts", 0,
		)
		p.Expire(ctx, key, s.cfg.TTL)
		return nil
	})
	if err != nil {
		return Challenge{}, "", fmt.Errorf("store otp challenge: %w", err)
	}
	return ch, code, nil
}

// verifyAttemptScript counts an attempt on a live challenge and returns its fields in one step.
// A missing key yields nil, so an expired challenge is never recreated without a TTL. Once the
// limit is passed the challenge is deleted and only the attempt count is returned.
var verifyAttemptScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return false
end
local attempts = redis.call("HINCRBY", KEYS[1], "attempts", 1)
if attempts > tonumber(ARGV[1]) then
  redis.call("DEL", KEYS[1])
  return {attempts}
end
local f = redis.call("HMGET", KEYS[1], "code_hash", "email", "business_id")
return {attempts, f[1] or "", f[2] or "", f[3] or ""}
`)

// Verify checks code against the challenge. Every call counts as an attempt;
// the challenge is deleted on success and on lockout. Of several concurrent
// verifications with the right code, only the one that deletes the challenge wins.
func (s *Store) Verify(ctx context.Context, challengeID, code string) (Challenge, error) {
	key := keyPrefix + challengeID
	res, err := verifyAttemptScript.Run(ctx, s.rdb, []string{key}, s.cfg.MaxAttempts).Slice()
	if errors.Is(err, redis.Nil) {
		return Challenge{}, ErrExpired
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("count otp attempt: %w", err)
	}
	if len(res) == 1 {
		return Challenge{}, ErrTooManyAttempts
	}
	if len(res) != 4 {
		return Challenge{}, fmt.Errorf("count otp attempt: unexpected reply of %d items", len(res))
	}
	hash, _ := res[1].(string)
	email, _ := res[2].(string)
	businessID, _ := res[3].(string)
	if hash == "" {
		return Challenge{}, ErrExpired
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(code))) != nil {
		return Challenge{}, ErrInvalidCode
	}
	deleted, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return Challenge{}, fmt.Errorf("consume otp challenge: %w", err)
	}
	if deleted == 0 {
		return Challenge{}, ErrExpired
	}

	return Challenge{
		ID:         challengeID,
		Email:      email,
		BusinessID: businessID,
	}, nil
}

// Attempts reports how many verifications were tried on a live challenge.
func (s *Store) Attempts(ctx context.Context, challengeID string) (int, error) {
	v, err := s.rdb.HGet(ctx, keyPrefix+challengeID, "attempts").Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrExpired
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func generateCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
