package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"door-monitor/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DemoPrefix marks tokens synthesized locally instead of issued by the backend.
const DemoPrefix = "fake."

const demoSignature = "demo"

var ErrMalformedToken = errors.New("malformed token")

// roleFields lists the payload keys read as the role, highest priority first.
var roleFields = []string{"role", "user_role"}

var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

func IsDemo(token string) bool {
	return strings.HasPrefix(token, DemoPrefix)
}

// DecodePayload decodes the middle segment of a three-segment token without
// verifying the signature. Both base64url and standard base64 are accepted.
func DecodePayload(token string) (jwt.MapClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[1] == "" {
		return nil, ErrMalformedToken
	}

	raw, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		raw, err = decodeStdSegment(parts[1])
		if err != nil {
			return nil, ErrMalformedToken
		}
	}

	var claims jwt.MapClaims
	if err := json.Unmarshal(raw, &claims); err != nil || claims == nil {
		return nil, ErrMalformedToken
	}
	return claims, nil
}

func decodeStdSegment(seg string) ([]byte, error) {
	if l := len(seg) % 4; l > 0 {
		seg += strings.Repeat("=", 4-l)
	}
	return base64.StdEncoding.DecodeString(seg)
}

// RoleFromClaims returns the first non-empty string role field.
func RoleFromClaims(claims jwt.MapClaims) (string, bool) {
	for _, field := range roleFields {
		if v, ok := claims[field].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func NewDemoToken(username string, role model.Role) (string, error) {
	if username == "" {
		username = "demo"
	}
	claims := jwt.MapClaims{
		"sub":  username,
		"role": string(role),
		"jti":  uuid.NewString(),
		"iat":  time.Now().Unix(),
	}
	signing, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SigningString()
	if err != nil {
		return "", err
	}
	parts := strings.Split(signing, ".")
	return DemoPrefix + parts[1] + "." + demoSignature, nil
}
