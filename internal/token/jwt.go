// Package token implements the JWT session lifecycle: encode, verify,
// refresh and revoke. Every token is signed with a secret derived from one
// key's stored value, so revoking that key invalidates the whole session
// family without a blacklist.
package token

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/tendant/simple-sso/internal/domain"
	ssoerrors "github.com/tendant/simple-sso/internal/errors"
)

// Token types carried in the "type" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
	TypeCsrf    = "csrf"
)

// hkdfInfo domain-separates the derived signing secret from any other use
// of the key value.
const hkdfInfo = "simple-sso/v1 token signing"

// Claims is the claim set embedded in every session token. The shape is
// part of the wire contract: sub, service_id, key_id, type, exp.
type Claims struct {
	ServiceID string `json:"service_id"`
	KeyID     string `json:"key_id"`
	TokenType string `json:"type"`

	jwt.RegisteredClaims
}

// signingSecret derives the HMAC secret for a key. The derivation is
// deterministic and never cached beyond the request scope.
func signingSecret(keyValue string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(keyValue), nil, []byte(hkdfInfo))
	secret := make([]byte, 32)
	if _, err := io.ReadFull(r, secret); err != nil {
		return nil, fmt.Errorf("failed to derive signing secret: %w", err)
	}
	return secret, nil
}

// encode signs one token of the given type with the key's derived secret.
func encode(key *domain.Key, userID, serviceID, typ string, now time.Time, ttl time.Duration) (string, int64, error) {
	expiresAt := now.Add(ttl)
	claims := &Claims{
		ServiceID: serviceID,
		KeyID:     key.ID,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	secret, err := signingSecret(key.Value)
	if err != nil {
		return "", 0, err
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiresAt.Unix(), nil
}

// decodeUnsafe reads the claims without verifying the signature. It only
// yields enough identity to look up which key to verify against.
func decodeUnsafe(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, ssoerrors.Wrap(err, ssoerrors.CodeTokenInvalid, "malformed token")
	}
	if claims.Subject == "" || claims.ServiceID == "" || claims.KeyID == "" {
		return nil, ssoerrors.New(ssoerrors.CodeTokenInvalid, "token missing identity claims")
	}
	return claims, nil
}

// decode verifies the signature against the key's derived secret and
// validates expiry against the given time source.
func decode(tokenString string, key *domain.Key, now func() time.Time) (*Claims, error) {
	return parse(tokenString, key, jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
	))
}

// decodeSignatureOnly verifies the signature but skips claim validation.
// Revocation uses it so an expired token can still revoke its own key.
func decodeSignatureOnly(tokenString string, key *domain.Key) (*Claims, error) {
	return parse(tokenString, key, jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	))
}

func parse(tokenString string, key *domain.Key, parser *jwt.Parser) (*Claims, error) {
	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return signingSecret(key.Value)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ssoerrors.Wrap(err, ssoerrors.CodeTokenExpired, "token expired")
		}
		return nil, ssoerrors.Wrap(err, ssoerrors.CodeTokenInvalid, "token verification failed")
	}
	return claims, nil
}
