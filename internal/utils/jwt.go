package utils

import (
    "time" // time utilities for generating expirations

    "github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// DashboardToken is a signed HS256 JWT minted when an auth session verifies.
// It lets the dashboard read a beneficiary's certificates without another
// verification round. The Token field contains the JWT string; Exp stores
// the expiration timestamp.
type DashboardToken struct {
    Token string    // the serialized JWT string
    Exp   time.Time // the UTC expiration time
}

// NewDashboardToken builds and signs a dashboard JWT bound to a verified
// session. Claims: subject (the session id), uid (linked pool user id, may
// be empty), email, expiration and issued-at.
func NewDashboardToken(secret, sessionID, userID, email string, ttl time.Duration) (DashboardToken, error) {
    exp := time.Now().UTC().Add(ttl)
    claims := jwt.MapClaims{
        "sub":   sessionID,
        "uid":   userID,
        "email": email,
        "exp":   exp.Unix(),
        "iat":   time.Now().UTC().Unix(),
    }
    t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    signed, err := t.SignedString([]byte(secret))
    if err != nil {
        return DashboardToken{}, err
    }
    return DashboardToken{Token: signed, Exp: exp}, nil
}

// ParseDashboardToken validates a dashboard JWT and returns the session id
// and pool user id it carries. The signing method must be HMAC.
func ParseDashboardToken(secret, raw string) (sessionID, userID string, err error) {
    tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, jwt.ErrSignatureInvalid
        }
        return []byte(secret), nil
    })
    if err != nil || !tok.Valid {
        if err == nil {
            err = jwt.ErrTokenUnverifiable
        }
        return "", "", err
    }
    claims, ok := tok.Claims.(jwt.MapClaims)
    if !ok {
        return "", "", jwt.ErrTokenInvalidClaims
    }
    if v, ok := claims["sub"].(string); ok {
        sessionID = v
    }
    if v, ok := claims["uid"].(string); ok {
        userID = v
    }
    return sessionID, userID, nil
}
