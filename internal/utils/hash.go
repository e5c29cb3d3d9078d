package utils // package utils provides helper functions for hashing and token generation

import (
    "crypto/hmac"   // HMAC construction for signed payloads
    "crypto/rand"   // secure random number generation
    "crypto/sha256" // SHA-256 hashing for codes and recovery tokens
    "crypto/subtle" // constant-time comparison
    "encoding/hex"  // hex encoding of digests and random bytes
    "fmt"           // numeric formatting for verification codes
    "math/big"      // unbiased random integers
)

// HashKeyed returns the SHA-256 hex digest of the given parts joined with
// ":" and prefixed with the secret. Verification codes and recovery tokens
// are stored only in this form so a leaked store cannot be replayed without
// the secret.
func HashKeyed(secret string, parts ...string) string {
    h := sha256.New()
    h.Write([]byte(secret))
    for _, p := range parts {
        h.Write([]byte(":"))
        h.Write([]byte(p))
    }
    return hex.EncodeToString(h.Sum(nil))
}

// HmacHex returns the hex-encoded HMAC-SHA256 of payload under secret.
func HmacHex(secret, payload string) string {
    m := hmac.New(sha256.New, []byte(secret))
    m.Write([]byte(payload))
    return hex.EncodeToString(m.Sum(nil))
}

// ConstantTimeEquals compares two strings without leaking the position of
// the first differing byte. Length differences still return false.
func ConstantTimeEquals(a, b string) bool {
    return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// RandomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func RandomHex(n int) (string, error) {
    buf := make([]byte, n)
    if _, err := rand.Read(buf); err != nil {
        return "", err
    }
    return hex.EncodeToString(buf), nil
}

// RandomDigits returns a zero-padded numeric code of the given length,
// drawn uniformly from crypto/rand. Used for email verification codes.
func RandomDigits(length int) (string, error) {
    max := big.NewInt(1)
    for i := 0; i < length; i++ {
        max.Mul(max, big.NewInt(10))
    }
    n, err := rand.Int(rand.Reader, max)
    if err != nil {
        return "", err
    }
    return fmt.Sprintf("%0*d", length, n), nil
}
