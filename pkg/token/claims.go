package token

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is the decoded claim set of a token. It is never mutated after
// decoding; each installed token gets a fresh User.
type User struct {
	claims jwt.MapClaims
}

// Decoder turns a raw token into its claims. It must fail on malformed input.
type Decoder func(raw string) (*User, error)

var parser = jwt.NewParser(jwt.WithJSONNumber())

// DecodeJWT reads the payload of a JWT without verifying its signature.
func DecodeJWT(raw string) (*User, error) {
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &User{claims: claims}, nil
}

// NewUser builds a User from an already decoded claim set.
func NewUser(claims map[string]interface{}) *User {
	copied := make(jwt.MapClaims, len(claims))
	for k, v := range claims {
		copied[k] = v
	}
	return &User{claims: copied}
}

// Claim returns the raw value of a claim.
func (u *User) Claim(name string) (interface{}, bool) {
	if u == nil {
		return nil, false
	}
	v, ok := u.claims[name]
	return v, ok
}

// String returns a claim rendered as a string. Numbers keep their exact
// textual form.
func (u *User) String(name string) (string, bool) {
	v, ok := u.Claim(name)
	if !ok || v == nil {
		return "", false
	}
	switch value := v.(type) {
	case string:
		return value, true
	case json.Number:
		return value.String(), true
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(value, 10), true
	case int:
		return strconv.Itoa(value), true
	case bool:
		return strconv.FormatBool(value), true
	default:
		return fmt.Sprintf("%v", value), true
	}
}

// ID returns the "id" claim.
func (u *User) ID() (string, bool) {
	return u.String("id")
}

// ExpiresAt returns the "exp" claim as an absolute time.
func (u *User) ExpiresAt() (time.Time, bool) {
	if u == nil {
		return time.Time{}, false
	}
	exp, err := u.claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Claims returns a copy of the claim set.
func (u *User) Claims() map[string]interface{} {
	if u == nil {
		return nil
	}
	copied := make(map[string]interface{}, len(u.claims))
	for k, v := range u.claims {
		copied[k] = v
	}
	return copied
}
