package auth

import (
	"fmt"
	"strings"
	"time"

	"pulseops.app/internal/apperr"
	"pulseops.app/internal/audit"
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// UserStatus is the lifecycle state of an account.
type UserStatus string

const (
	StatusActive    UserStatus = "ACTIVE"
	StatusInactive  UserStatus = "INACTIVE"
	StatusSuspended UserStatus = "SUSPENDED"
	StatusPending   UserStatus = "PENDING"
)

// ParseUserStatus validates s against the known lifecycle states.
func ParseUserStatus(s string) (UserStatus, error) {
	switch UserStatus(s) {
	case StatusActive, StatusInactive, StatusSuspended, StatusPending:
		return UserStatus(s), nil
	}
	return "", fmt.Errorf("auth: unknown status %q", s)
}

// IdentitySeed is the input for minting an access token.
type IdentitySeed struct {
	UserID   string
	ClinicID string
	Phone    string
	Role     Role
	DoctorID string
}

// Validate enforces required fields and that DoctorID is set iff the role is DOCTOR.
func (s IdentitySeed) Validate() error {
	switch {
	case strings.TrimSpace(s.UserID) == "":
		return apperr.InvalidInput("user_id", "user id is required")
	case strings.TrimSpace(s.ClinicID) == "":
		return apperr.InvalidInput("clinic_id", "clinic id is required")
	case strings.TrimSpace(s.Phone) == "":
		return apperr.InvalidInput("phone", "phone identifier is required")
	}
	if _, err := ParseRole(string(s.Role)); err != nil {
		return apperr.InvalidInput("role", err.Error())
	}
	hasDoctor := strings.TrimSpace(s.DoctorID) != ""
	if s.Role == RoleDoctor && !hasDoctor {
		return apperr.InvalidInput("doctor_id", "doctor id is required for DOCTOR role")
	}
	if s.Role != RoleDoctor && hasDoctor {
		return apperr.InvalidInput("doctor_id", "doctor id is only allowed for DOCTOR role")
	}
	return nil
}

// IdentityClaims is the verified identity of a request. It is rebuilt on every
// verification and its permission set always equals the catalog set of Role.
type IdentityClaims struct {
	UserID    string
	ClinicID  string
	Phone     string
	Role      Role
	DoctorID  string
	Scope     DataAccessScope
	TokenID   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time

	permissions PermissionSet
}

func newIdentityClaims(seed IdentitySeed) IdentityClaims {
	return IdentityClaims{
		UserID:      seed.UserID,
		ClinicID:    seed.ClinicID,
		Phone:       seed.Phone,
		Role:        seed.Role,
		DoctorID:    seed.DoctorID,
		Scope:       ScopeFor(seed.Role),
		permissions: PermissionsFor(seed.Role),
	}
}

// HasPermission reports whether the identity holds p.
func (c IdentityClaims) HasPermission(p Permission) bool {
	return c.permissions.Has(p)
}

// Permissions returns the granted permissions in lexical order.
func (c IdentityClaims) Permissions() []Permission {
	return c.permissions.Sorted()
}

func (c IdentityClaims) IsAdmin() bool  { return c.Role == RoleAdmin }
func (c IdentityClaims) IsDoctor() bool { return c.Role == RoleDoctor }

// Actor converts the identity for audit records.
func (c IdentityClaims) Actor() audit.Actor {
	return audit.Actor{
		UserID:   c.UserID,
		ClinicID: c.ClinicID,
		Role:     string(c.Role),
		DoctorID: c.DoctorID,
		Phone:    c.Phone,
	}
}

// Account is the authorization read model of a user.
type Account struct {
	UserID   string
	ClinicID string
	Phone    string
	Role     Role
	DoctorID string
	Status   UserStatus
}

// Seed converts the account into token issuance input.
func (a Account) Seed() IdentitySeed {
	return IdentitySeed{
		UserID:   a.UserID,
		ClinicID: a.ClinicID,
		Phone:    a.Phone,
		Role:     a.Role,
		DoctorID: a.DoctorID,
	}
}

// IssuedToken is a freshly signed token with its identifiers.
type IssuedToken struct {
	Token     string
	TokenID   string
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair bundles access and refresh tokens minted together.
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// RevocationEntry records a revoked token until its natural expiry.
type RevocationEntry struct {
	TokenID     string
	RevokedAt   time.Time
	ExpiresAt   time.Time
	Fingerprint string
}
