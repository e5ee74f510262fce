package handlers

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"

	"github.com/md-rashed-zaman/apptdesk/libs/auth"
)

type TokenSigner interface {
	Sign(claims auth.Claims) (string, error)
	Verify(token string) (*auth.Claims, error)
	// JWKS returns the public keys, empty for shared-secret signers.
	JWKS() auth.JWKS
}

type hs256Signer struct {
	secret string
}

func NewHS256Signer(secret string) (TokenSigner, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &hs256Signer{secret: secret}, nil
}

func (s *hs256Signer) Sign(claims auth.Claims) (string, error) {
	return auth.SignHS256(claims, s.secret)
}

func (s *hs256Signer) Verify(token string) (*auth.Claims, error) {
	return auth.ParseAndVerifyHS256(token, s.secret)
}

func (s *hs256Signer) JWKS() auth.JWKS {
	return auth.JWKS{}
}

type rs256Signer struct {
	privateKey *rsa.PrivateKey
	kid        string
	publicJWK  auth.JWK
}

func NewRS256Signer(pemBytes []byte, kid string) (TokenSigner, error) {
	key, err := parseRSAPrivateKey(pemBytes)
	if err != nil {
		return nil, err
	}
	return newRS256Signer(key, kid), nil
}

func newRS256Signer(key *rsa.PrivateKey, kid string) *rs256Signer {
	if kid == "" {
		kid = keyIDFromPublicKey(&key.PublicKey)
	}
	return &rs256Signer{
		privateKey: key,
		kid:        kid,
		publicJWK:  auth.PublicJWK(kid, &key.PublicKey),
	}
}

func (s *rs256Signer) Sign(claims auth.Claims) (string, error) {
	return auth.SignRS256(claims, s.privateKey, s.kid)
}

func (s *rs256Signer) Verify(token string) (*auth.Claims, error) {
	header, err := auth.ParseHeader(token)
	if err != nil {
		return nil, err
	}
	if header.Kid != s.kid {
		return nil, auth.ErrInvalidToken
	}
	return auth.VerifyRS256(token, &s.privateKey.PublicKey)
}

func (s *rs256Signer) JWKS() auth.JWKS {
	return auth.JWKS{Keys: []auth.JWK{s.publicJWK}}
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
	}
	return nil, errors.New("unsupported private key")
}

func keyIDFromPublicKey(pub *rsa.PublicKey) string {
	sum := sha256.Sum256(pub.N.Bytes())
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}
