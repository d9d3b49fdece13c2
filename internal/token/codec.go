// Package token signs and verifies access tokens with an RSA key pair (RS256).
package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidSignature = errors.New("token: invalid signature")
	ErrExpired          = errors.New("token: expired")
	ErrNoSigningKey     = errors.New("token: private key not loaded")
)

// Claims is the access-token payload. The registered jti ties the token to
// the refresh-token family that produced it.
type Claims struct {
	UserID int64  `json:"userID"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JTI returns the refresh-token family identifier.
func (c *Claims) JTI() string { return c.ID }

type Codec struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
	issuer  string
	now     func() time.Time
}

// NewCodec builds a codec from parsed keys. private may be nil for a
// verify-only codec.
func NewCodec(private *rsa.PrivateKey, public *rsa.PublicKey, issuer string) (*Codec, error) {
	if public == nil {
		if private == nil {
			return nil, errors.New("token: public key required")
		}
		public = &private.PublicKey
	}
	return &Codec{private: private, public: public, issuer: issuer, now: time.Now}, nil
}

// LoadCodec reads PEM-encoded keys from disk. It is called once at startup.
func LoadCodec(privatePath, publicPath, issuer string) (*Codec, error) {
	privPEM, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	private, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	pubPEM, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	public, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return NewCodec(private, public, issuer)
}

// Issue signs claims with an expiry of now+ttl.
func (c *Codec) Issue(claims Claims, ttl time.Duration) (string, error) {
	if c.private == nil {
		return "", ErrNoSigningKey
	}
	now := c.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if c.issuer != "" {
		claims.Issuer = c.issuer
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, &claims).SignedString(c.private)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer and expiry. Any failure other
// than expiry is reported as ErrInvalidSignature.
func (c *Codec) Verify(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	return c.parse(raw, opts...)
}

// Decode checks the signature but not the time-based claims. Logout uses it
// so an expired access token can still name the family to revoke.
func (c *Codec) Decode(raw string) (*Claims, error) {
	return c.parse(raw,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
}

func (c *Codec) parse(raw string, opts ...jwt.ParserOption) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.public, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !tok.Valid {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}
