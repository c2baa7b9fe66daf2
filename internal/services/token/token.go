// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package token mints and verifies stateless bearer tokens.
package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"codeberg.org/counselpoint/authcore/internal/config"
	"codeberg.org/counselpoint/authcore/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultTTL is the bearer token lifetime.
	DefaultTTL = 7 * 24 * time.Hour
	// DefaultLeeway absorbs clock skew between services.
	DefaultLeeway = 30 * time.Second
)

// ErrInvalidToken is returned for every token that does not verify:
// malformed, badly signed, wrong algorithm or expired.
var ErrInvalidToken = errors.New("invalid token")

// Subject identifies who a token is minted for.
type Subject struct {
	UserID int64
	Email  string
	Role   models.Role
}

// Claims are the verified contents of a bearer token.
type Claims struct {
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
	jwt.RegisteredClaims
}

// UserID returns the numeric user id from the subject claim.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// Issuer mints and verifies bearer tokens.
type Issuer interface {
	Mint(sub Subject) (string, time.Time, error)
	Verify(token string) (*Claims, error)
}

// Config configures a JWTIssuer.
type Config struct {
	Method     string // config.JWTMethodHS256 or config.JWTMethodEd25519
	Secret     []byte
	PrivateKey []byte // PEM or raw ed25519 key
	PublicKey  []byte // optional, derived from PrivateKey when empty
	Issuer     string
	TTL        time.Duration
	Leeway     time.Duration
	Now        func() time.Time
}

// JWTIssuer implements Issuer with golang-jwt.
type JWTIssuer struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	issuer    string
	ttl       time.Duration
	leeway    time.Duration
	now       func() time.Time
}

var _ Issuer = (*JWTIssuer)(nil)

// NewJWTIssuer creates a JWTIssuer.
func NewJWTIssuer(cfg Config) (*JWTIssuer, error) {
	j := &JWTIssuer{
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		leeway: cfg.Leeway,
		now:    cfg.Now,
	}
	if j.ttl <= 0 {
		j.ttl = DefaultTTL
	}
	if j.leeway < 0 || j.leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if j.now == nil {
		j.now = time.Now
	}

	switch cfg.Method {
	case config.JWTMethodHS256, "":
		if len(cfg.Secret) < 32 {
			return nil, errors.New("hs256 secret must be at least 32 bytes")
		}
		j.method = jwt.SigningMethodHS256
		j.signKey = cfg.Secret
		j.verifyKey = cfg.Secret
	case config.JWTMethodEd25519:
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		pub, ok := priv.Public().(ed25519.PublicKey)
		if !ok {
			return nil, errors.New("invalid ed25519 private key type")
		}
		if len(cfg.PublicKey) > 0 {
			if pub, err = parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		j.method = jwt.SigningMethodEdDSA
		j.signKey = priv
		j.verifyKey = pub
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.Method)
	}

	return j, nil
}

// NewFromConfig builds a JWTIssuer from the jwt config section, reading key files.
func NewFromConfig(cfg *config.JWTConfig) (*JWTIssuer, error) {
	c := Config{
		Method: cfg.Method,
		Secret: []byte(cfg.Secret),
		Issuer: cfg.Issuer,
		TTL:    cfg.ExpiresIn,
		Leeway: DefaultLeeway,
	}
	if cfg.Method == config.JWTMethodEd25519 {
		key, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading jwt private key: %w", err)
		}
		c.PrivateKey = key
		if cfg.PublicKeyFile != "" {
			if c.PublicKey, err = os.ReadFile(cfg.PublicKeyFile); err != nil {
				return nil, fmt.Errorf("reading jwt public key: %w", err)
			}
		}
	}
	return NewJWTIssuer(c)
}

// SetClock replaces the time source used for minting and verification.
func (j *JWTIssuer) SetClock(now func() time.Time) {
	j.now = now
}

// Mint signs a token for sub and returns it with its expiry.
func (j *JWTIssuer) Mint(sub Subject) (string, time.Time, error) {
	if sub.UserID <= 0 {
		return "", time.Time{}, errors.New("token subject requires a user id")
	}

	now := j.now()
	expiresAt := now.Add(j.ttl)
	claims := Claims{
		Email: sub.Email,
		Role:  sub.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(sub.UserID, 10),
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(j.method, claims).SignedString(j.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, algorithm and expiry and returns the claims.
func (j *JWTIssuer) Verify(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.leeway),
		jwt.WithTimeFunc(j.now),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	claims := &Claims{}
	token, err := jwt.NewParser(opts...).ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return j.verifyKey, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, ErrInvalidToken
	}
	if !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
