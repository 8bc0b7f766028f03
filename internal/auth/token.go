package auth

import (
    "errors"
    "fmt"
    "time"

    "github.com/golang-jwt/jwt/v5"
    "github.com/google/uuid"
)

var (
    ErrNoSecret     = errors.New("stream token secret not configured")
    ErrTokenInvalid = errors.New("invalid stream token")
)

// StreamClaims is carried by the token embedded in the media stream URL.
// Subject holds the telephony call sid the stream was issued for.
type StreamClaims struct {
    jwt.RegisteredClaims
}

// IssueStreamToken signs an HS256 token for callSID valid for ttl from now.
func IssueStreamToken(secret, callSID string, now time.Time, ttl time.Duration) (string, error) {
    if secret == "" {
        return "", ErrNoSecret
    }
    claims := StreamClaims{
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   callSID,
            IssuedAt:  jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
            ID:        uuid.NewString(),
        },
    }
    t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    return t.SignedString([]byte(secret))
}

// ValidateStreamToken parses the token and returns the call sid it was
// issued for. skew is the tolerated clock drift around exp.
func ValidateStreamToken(secret, token string, now time.Time, skew time.Duration) (string, error) {
    if secret == "" {
        return "", ErrNoSecret
    }
    var claims StreamClaims
    parser := jwt.NewParser(
        jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
        jwt.WithExpirationRequired(),
        jwt.WithTimeFunc(func() time.Time { return now }),
        jwt.WithLeeway(skew),
    )
    _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
        return []byte(secret), nil
    })
    if err != nil {
        return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
    }
    return claims.Subject, nil
}
