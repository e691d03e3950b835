package auth

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"pulseops.app/internal/apperr"
)

const specialChars = "!@#$%^&*()_+-=[]{}|;:,.<>?"

var weakPasswords = map[string]struct{}{
	"password": {}, "password123": {}, "123456": {}, "12345678": {}, "qwerty": {},
	"abc123": {}, "admin": {}, "letmein": {}, "welcome": {}, "clinic123": {},
	"doctor123": {}, "iloveyou": {},
}

// PasswordPolicy holds the strength rules applied to new passwords.
type PasswordPolicy struct {
	MinLength      int
	RequireUpper   bool
	RequireNumber  bool
	RequireSpecial bool
	Cost           int
}

// DefaultPasswordPolicy mirrors the configuration defaults.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:      8,
		RequireUpper:   true,
		RequireNumber:  true,
		RequireSpecial: true,
		Cost:           bcrypt.DefaultCost,
	}
}

// Check returns WEAK_PASSWORD listing every violated rule.
func (p PasswordPolicy) Check(password string) error {
	var failures []string
	if len([]rune(password)) < p.MinLength {
		failures = append(failures, "too_short")
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(specialChars, r):
			special = true
		}
	}
	if p.RequireUpper && (!upper || !lower) {
		failures = append(failures, "mixed_case_required")
	}
	if p.RequireNumber && !digit {
		failures = append(failures, "number_required")
	}
	if p.RequireSpecial && !special {
		failures = append(failures, "special_character_required")
	}
	if _, weak := weakPasswords[strings.ToLower(password)]; weak {
		failures = append(failures, "common_password")
	}
	if len(failures) > 0 {
		return apperr.New(apperr.CodeWeakPassword, "").With("failed_rules", failures)
	}
	return nil
}

// Hash checks password against the policy and returns its bcrypt hash.
func (p PasswordPolicy) Hash(password string) (string, error) {
	if err := p.Check(password); err != nil {
		return "", err
	}
	cost := p.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeSecurityError, "", err)
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return apperr.New(apperr.CodeInvalidCredentials, "")
	}
	return nil
}

// GenerateSecurePassword returns a random password of length n that
// satisfies the default policy. n below 12 is raised to 12.
func GenerateSecurePassword(n int) (string, error) {
	if n < 12 {
		n = 12
	}
	const (
		lowers = "abcdefghijklmnopqrstuvwxyz"
		uppers = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
		digits = "0123456789"
	)
	all := lowers + uppers + digits + specialChars
	out := make([]byte, 0, n)
	for _, set := range []string{lowers, uppers, digits, specialChars} {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < n {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}
	return string(out), nil
}

func pick(set string) (byte, error) {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[i.Int64()], nil
}
