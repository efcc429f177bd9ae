package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"access-core/internal/apperr"
)

// ErrSigningConfig is returned when no usable signing key is configured. It is fatal at startup.
var ErrSigningConfig = errors.New("token signing is misconfigured")

// TokenType is the value of the "type" claim.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the signed claim set: sub, iat, exp, jti and type (plus iss when configured).
type Claims struct {
	jwt.RegisteredClaims
	Type TokenType `json:"type"`
}

// TokenProvider signs and verifies JWTs with either an HMAC secret (HS256) or an RSA/ECDSA key
// pair (RS256/ES256). It holds no mutable state; all methods are safe for concurrent use.
type TokenProvider struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	issuer    string
	now       func() time.Time
	newID     func() string
}

// Option configures a TokenProvider.
type Option func(*TokenProvider)

// WithClock overrides the time source used for iat/exp and for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(p *TokenProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithIDGenerator overrides the jti generator.
func WithIDGenerator(newID func() string) Option {
	return func(p *TokenProvider) {
		if newID != nil {
			p.newID = newID
		}
	}
}

// NewHMACTokenProvider returns a provider signing with HS256. secret must be non-empty.
func NewHMACTokenProvider(secret []byte, issuer string, opts ...Option) (*TokenProvider, error) {
	if len(secret) == 0 {
		return nil, ErrSigningConfig
	}
	return newProvider(jwt.SigningMethodHS256, secret, secret, issuer, opts), nil
}

// NewKeyPairTokenProvider returns a provider signing with RS256 or ES256 depending on the key type.
func NewKeyPairTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer string, opts ...Option) (*TokenProvider, error) {
	if privateKey == nil || publicKey == nil {
		return nil, ErrSigningConfig
	}
	var method jwt.SigningMethod
	switch privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return nil, ErrSigningConfig
	}
	if KeyAlg(publicKey) != method.Alg() {
		return nil, ErrSigningConfig
	}
	return newProvider(method, privateKey, publicKey, issuer, opts), nil
}

// NewTokenProviderFromConfig picks the key pair when both PEMs are set, otherwise the HMAC secret.
func NewTokenProviderFromConfig(secret, privateKeyPEM, publicKeyPEM, issuer string, opts ...Option) (*TokenProvider, error) {
	if strings.TrimSpace(privateKeyPEM) != "" || strings.TrimSpace(publicKeyPEM) != "" {
		priv, err := ParsePrivateKey(privateKeyPEM)
		if err != nil {
			return nil, errors.Join(ErrSigningConfig, err)
		}
		pub, err := ParsePublicKey(publicKeyPEM)
		if err != nil {
			return nil, errors.Join(ErrSigningConfig, err)
		}
		return NewKeyPairTokenProvider(priv, pub, issuer, opts...)
	}
	return NewHMACTokenProvider([]byte(secret), issuer, opts...)
}

func newProvider(method jwt.SigningMethod, signKey, verifyKey any, issuer string, opts []Option) *TokenProvider {
	p := &TokenProvider{
		method:    method,
		signKey:   signKey,
		verifyKey: verifyKey,
		issuer:    issuer,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Algorithm returns the JWT alg header value used for signing.
func (p *TokenProvider) Algorithm() string { return p.method.Alg() }

// IssueAccess issues an access token for subject valid for ttl.
// Returns the token string, its jti, and expiration time.
func (p *TokenProvider) IssueAccess(subject string, ttl time.Duration) (token string, jti string, expiresAt time.Time, err error) {
	return p.Issue(subject, TokenTypeAccess, ttl)
}

// Issue signs a token of the given type. The only failure mode is a signing misconfiguration.
func (p *TokenProvider) Issue(subject string, typ TokenType, ttl time.Duration) (token string, jti string, expiresAt time.Time, err error) {
	now := p.now().UTC()
	expiresAt = now.Add(ttl)
	jti = p.newID()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Type: typ,
	}
	token, err = jwt.NewWithClaims(p.method, claims).SignedString(p.signKey)
	if err != nil {
		return "", "", time.Time{}, errors.Join(ErrSigningConfig, err)
	}
	return token, jti, expiresAt, nil
}

// Verify checks signature, type and expiry and returns the subject. Every failure is an
// *apperr.TokenError whose message is the same; the Reason is for internal logging only.
func (p *TokenProvider) Verify(tokenString string, expected TokenType) (string, error) {
	claims, err := p.Parse(tokenString, expected)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Parse is Verify returning the full claim set.
func (p *TokenProvider) Parse(tokenString string, expected TokenType) (*Claims, error) {
	if tokenString == "" {
		return nil, apperr.NewTokenError(apperr.TokenReasonMalformed)
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{p.method.Alg()}),
		jwt.WithTimeFunc(p.now),
		jwt.WithExpirationRequired(),
	}
	if p.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(p.issuer))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return p.verifyKey, nil
	}, parserOpts...)
	if err != nil {
		return nil, apperr.NewTokenError(classifyParseError(err))
	}
	if !token.Valid {
		return nil, apperr.NewTokenError(apperr.TokenReasonClaims)
	}
	if claims.Type != expected {
		return nil, apperr.NewTokenError(apperr.TokenReasonType)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, apperr.NewTokenError(apperr.TokenReasonClaims)
	}
	return claims, nil
}

func classifyParseError(err error) apperr.TokenReason {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return apperr.TokenReasonMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return apperr.TokenReasonSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperr.TokenReasonExpired
	default:
		return apperr.TokenReasonClaims
	}
}
