package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/CarlosATO/flota-somyl-apps/internal/api"
)

const (
	tokenKey  = "flota:session:token"
	driverKey = "flota:session:driver"
)

// Claims is what the dispatch platform puts in its bearer tokens. The agent
// never verifies the signature (it does not hold the secret); it only reads
// the driver id and expiry.
type Claims struct {
	DriverID string `json:"driver_id"`
	jwt.RegisteredClaims
}

var parseUnverifiedFn = jwt.NewParser().ParseUnverified

// ParseClaims decodes a token without verifying it.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := parseUnverifiedFn(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *Claims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// Store persists the driver's session (bearer token + profile) in redis so
// the agent survives its own restarts without a fresh login.
type Store struct {
	redis *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{redis: client}
}

// SaveSession stores the token and driver profile. When the token carries an
// expiry, both keys inherit it as TTL so a stale session evicts itself.
func (s *Store) SaveSession(ctx context.Context, token string, driver api.Driver) error {
	var ttl time.Duration
	if claims, err := ParseClaims(token); err == nil && claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
		if ttl <= 0 {
			return errors.New("auth: token already expired")
		}
	}

	profile, err := json.Marshal(driver)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, tokenKey, token, ttl).Err(); err != nil {
		return err
	}
	return s.redis.Set(ctx, driverKey, profile, ttl).Err()
}

// Token returns the stored bearer token, or "" when no session exists.
// Satisfies api.TokenSource.
func (s *Store) Token(ctx context.Context) (string, error) {
	token, err := s.redis.Get(ctx, tokenKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return token, err
}

func (s *Store) Driver(ctx context.Context) (api.Driver, bool, error) {
	raw, err := s.redis.Get(ctx, driverKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return api.Driver{}, false, nil
	}
	if err != nil {
		return api.Driver{}, false, err
	}

	var driver api.Driver
	if err := json.Unmarshal(raw, &driver); err != nil {
		return api.Driver{}, false, err
	}
	return driver, true, nil
}

func (s *Store) Clear(ctx context.Context) error {
	return s.redis.Del(ctx, tokenKey, driverKey).Err()
}
