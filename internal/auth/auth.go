package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errUnexpectedMethod = errors.New("unexpected signing method")

// tokenClaims is the wire payload of every signed token.
type tokenClaims struct {
	UserID      string   `json:"user_id"`
	ClinicID    string   `json:"clinic_id"`
	Phone       string   `json:"whatsapp_number,omitempty"`
	Role        string   `json:"role,omitempty"`
	DoctorID    string   `json:"doctor_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TokenType   string   `json:"token_type"`
	jwt.RegisteredClaims
}

func signClaims(claims tokenClaims, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// parseSigned checks the HS256 signature and decodes the payload. Time based
// claims are left to the caller so expiry can be reported separately.
func parseSigned(token string, secret []byte) (*tokenClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	parsed, err := parser.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errUnexpectedMethod
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// peekTokenID reads the jti without verifying the signature. It is only used
// to consult the revocation store before any cryptographic work.
func peekTokenID(token string) string {
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	return strings.TrimSpace(claims.ID)
}

// missingField returns the first required claim absent from c.
func missingField(c *tokenClaims) string {
	switch {
	case strings.TrimSpace(c.UserID) == "":
		return "user_id"
	case strings.TrimSpace(c.ClinicID) == "":
		return "clinic_id"
	case strings.TrimSpace(c.TokenType) == "":
		return "token_type"
	case c.ExpiresAt == nil:
		return "exp"
	case c.IssuedAt == nil:
		return "iat"
	case strings.TrimSpace(c.ID) == "":
		return "jti"
	case c.TokenType == string(KindAccess) && strings.TrimSpace(c.Role) == "":
		return "role"
	case c.TokenType == string(KindAccess) && c.Role == string(RoleDoctor) && strings.TrimSpace(c.DoctorID) == "":
		return "doctor_id"
	}
	return ""
}

// Fingerprint is a short, non-reversible token digest safe for audit records.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:16]
}

func permissionStrings(set PermissionSet) []string {
	sorted := set.Sorted()
	out := make([]string, len(sorted))
	for i, p := range sorted {
		out[i] = string(p)
	}
	return out
}
