package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrInvalidIssuer   = errors.New("invalid issuer")
	ErrInvalidAudience = errors.New("invalid audience")
	ErrTokenExpired    = errors.New("token expired or not valid yet")
	ErrInvalidSubject  = errors.New("invalid subject")
)

// Verifier проверяет access-токены, выпущенные auth-service (RS256).
type Verifier struct {
	public    *rsa.PublicKey
	issuer    string
	audience  string
	clockSkew time.Duration
}

func NewVerifier(public *rsa.PublicKey, issuer, audience string, clockSkew time.Duration) *Verifier {
	return &Verifier{
		public:    public,
		issuer:    issuer,
		audience:  audience,
		clockSkew: clockSkew,
	}
}

type AccessClaims struct {
	jwt.StandardClaims // включает поля Issuer, Audience, ExpiresAt, NotBefore, IssuedAt, Subject
}

// ParseAndValidate проверяет подпись и клеймы, возвращает user id из sub.
func (v *Verifier) ParseAndValidate(tokenStr string) (int64, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok || t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, ErrInvalidToken
		}
		return v.public, nil
	})
	if err != nil {
		return 0, ErrInvalidToken
	}
	if !token.Valid {
		return 0, ErrInvalidToken
	}

	now := time.Now()

	// issuer
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return 0, ErrInvalidIssuer
	}
	// audience
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return 0, ErrInvalidAudience
	}

	// временные клеймы с допуском clockSkew
	nbf := time.Unix(claims.NotBefore, 0).Add(-v.clockSkew)
	exp := time.Unix(claims.ExpiresAt, 0).Add(v.clockSkew)
	if now.Before(nbf) || now.After(exp) {
		return 0, ErrTokenExpired
	}

	uid, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || uid <= 0 {
		return 0, ErrInvalidSubject
	}

	return uid, nil
}

// LoadPublicKey читает RSA public key из PEM-файла (PKIX или PKCS1).
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid PEM block")
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}

	return key, nil
}
