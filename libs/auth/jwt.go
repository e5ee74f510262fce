package auth

import (
	"crypto"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the access token payload shared by the auth service and the gateway.
type Claims struct {
	Sub        string `json:"sub"`
	Email      string `json:"email,omitempty"`
	BusinessID string `json:"business_id,omitempty"`
	Role       string `json:"role"`
	Exp        int64  `json:"exp"`
	Iat        int64  `json:"iat"`
}

type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid,omitempty"`
}

// Verifier checks a compact JWT and returns its claims.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// HS256Verifier verifies tokens signed with a shared secret.
type HS256Verifier struct {
	Secret string
}

func (v HS256Verifier) Verify(token string) (*Claims, error) {
	return ParseAndVerifyHS256(token, v.Secret)
}

// JWKSVerifier resolves the signing key by kid and verifies RS256 tokens.
type JWKSVerifier struct {
	Keys *JWKSClient
}

func (v JWKSVerifier) Verify(token string) (*Claims, error) {
	header, err := ParseHeader(token)
	if err != nil {
		return nil, err
	}
	if header.Alg != "RS256" || header.Kid == "" {
		return nil, ErrInvalidToken
	}
	key, err := v.Keys.Get(header.Kid)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return VerifyRS256(token, key)
}

// ParseHeader reads the JOSE header without verifying the signature.
func ParseHeader(token string) (*Header, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	header := &Header{}
	header.Alg, _ = parsed.Header["alg"].(string)
	header.Typ, _ = parsed.Header["typ"].(string)
	header.Kid, _ = parsed.Header["kid"].(string)
	return header, nil
}

func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func SignRS256(claims Claims, key *rsa.PrivateKey, kid string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	return token.SignedString(key)
}

func ParseAndVerifyHS256(token, secret string) (*Claims, error) {
	if secret == "" {
		return nil, ErrInvalidToken
	}
	return parse(token, jwt.SigningMethodHS256.Alg(), []byte(secret))
}

func VerifyRS256(token string, pubKey crypto.PublicKey) (*Claims, error) {
	rsaKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidToken
	}
	return parse(token, jwt.SigningMethodRS256.Alg(), rsaKey)
}

// parse verifies the signature with key, requires exp and rejects tokens without a subject.
func parse(token, alg string, key any) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{alg}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Sub == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return unixDate(c.Exp), nil
}

func (c Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return unixDate(c.Iat), nil
}

func (c Claims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

func (c Claims) GetIssuer() (string, error) {
	return "", nil
}

func (c Claims) GetSubject() (string, error) {
	return c.Sub, nil
}

func (c Claims) GetAudience() (jwt.ClaimStrings, error) {
	return nil, nil
}

func unixDate(sec int64) *jwt.NumericDate {
	if sec == 0 {
		return nil
	}
	return jwt.NewNumericDate(time.Unix(sec, 0))
}
