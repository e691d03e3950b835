package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pulseops.app/internal/apperr"
	"pulseops.app/internal/audit"
	"pulseops.app/internal/ids"
	"pulseops.app/internal/obs"
)

const (
	defaultAccessTTL  = 60 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultIssuer     = "pulseops-api"

	// MinSecretLength is the shortest accepted HS256 secret.
	MinSecretLength = 32

	issuedAtSkew = 5 * time.Second
)

// TokenService issues, verifies and revokes signed tokens.
type TokenService struct {
	secret      []byte
	issuer      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	now         func() time.Time
	revocations RevocationStore
	directory   Directory
	trail       *audit.Trail
}

// ServiceOption configures TokenService behavior.
type ServiceOption func(*TokenService) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *TokenService) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures the default access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures the default refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithRevocationStore sets the store consulted before every verification.
func WithRevocationStore(store RevocationStore) ServiceOption {
	return func(s *TokenService) error {
		s.revocations = store
		return nil
	}
}

// WithDirectory sets the account lookup used by Refresh.
func WithDirectory(dir Directory) ServiceOption {
	return func(s *TokenService) error {
		s.directory = dir
		return nil
	}
}

// WithAuditTrail sets the trail receiving token events.
func WithAuditTrail(trail *audit.Trail) ServiceOption {
	return func(s *TokenService) error {
		s.trail = trail
		return nil
	}
}

// NewTokenService constructs a TokenService signing with secret. Without
// WithRevocationStore an in-memory store is used.
func NewTokenService(secret string, opts ...ServiceOption) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	svc := &TokenService{
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.revocations == nil {
		svc.revocations = NewMemoryRevocationStore(svc.now)
	}
	return svc, nil
}

// Revocations exposes the configured store, e.g. for scheduled sweeps.
func (s *TokenService) Revocations() RevocationStore { return s.revocations }

// IssueAccess mints an access token for seed. A zero ttl uses the default.
func (s *TokenService) IssueAccess(ctx context.Context, seed IdentitySeed, ttl time.Duration) (IssuedToken, error) {
	if err := seed.Validate(); err != nil {
		return IssuedToken{}, err
	}
	if ttl <= 0 {
		ttl = s.accessTTL
	}
	identity := newIdentityClaims(seed)
	now := s.now()
	claims := tokenClaims{
		UserID:      seed.UserID,
		ClinicID:    seed.ClinicID,
		Phone:       seed.Phone,
		Role:        string(seed.Role),
		DoctorID:    seed.DoctorID,
		Permissions: permissionStrings(identity.permissions),
		TokenType:   string(KindAccess),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   seed.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        ids.TokenID(),
		},
	}
	issued, err := s.sign(claims, KindAccess)
	if err != nil {
		return IssuedToken{}, err
	}
	s.trail.Record(ctx, audit.CategoryAuthentication, "token_create", identity.Actor(), audit.OutcomeSuccess, map[string]any{
		"jti":        issued.TokenID,
		"expires_at": issued.ExpiresAt,
		"token_kind": string(KindAccess),
	})
	return issued, nil
}

// IssueRefresh mints a refresh token. A zero ttl uses the default.
func (s *TokenService) IssueRefresh(ctx context.Context, userID, clinicID string, ttl time.Duration) (IssuedToken, error) {
	userID, clinicID = strings.TrimSpace(userID), strings.TrimSpace(clinicID)
	if userID == "" {
		return IssuedToken{}, apperr.InvalidInput("user_id", "user id is required")
	}
	if clinicID == "" {
		return IssuedToken{}, apperr.InvalidInput("clinic_id", "clinic id is required")
	}
	if ttl <= 0 {
		ttl = s.refreshTTL
	}
	now := s.now()
	claims := tokenClaims{
		UserID:    userID,
		ClinicID:  clinicID,
		TokenType: string(KindRefresh),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        ids.TokenID(),
		},
	}
	issued, err := s.sign(claims, KindRefresh)
	if err != nil {
		return IssuedToken{}, err
	}
	s.trail.Record(ctx, audit.CategoryAuthentication, "refresh_token_create", audit.Actor{UserID: userID, ClinicID: clinicID}, audit.OutcomeSuccess, map[string]any{
		"jti":        issued.TokenID,
		"expires_at": issued.ExpiresAt,
		"token_kind": string(KindRefresh),
	})
	return issued, nil
}

// IssuePair mints an access token and a refresh token for seed.
func (s *TokenService) IssuePair(ctx context.Context, seed IdentitySeed) (TokenPair, error) {
	access, err := s.IssueAccess(ctx, seed, 0)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.IssueRefresh(ctx, seed.UserID, seed.ClinicID, 0)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

func (s *TokenService) sign(claims tokenClaims, kind TokenKind) (IssuedToken, error) {
	signed, err := signClaims(claims, s.secret)
	if err != nil {
		obs.TokenEvent(string(kind), "sign_error")
		return IssuedToken{}, apperr.Wrap(apperr.CodeSecurityError, "", err)
	}
	obs.TokenEvent(string(kind), "issued")
	return IssuedToken{
		Token:     signed,
		TokenID:   claims.ID,
		Kind:      kind,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify checks, in order: revocation, signature, expiry, required fields,
// issuer, token kind. The returned identity's permissions come from the
// catalog for its role; permissions carried in the payload are ignored.
func (s *TokenService) Verify(ctx context.Context, token string, kind TokenKind) (IdentityClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return IdentityClaims{}, s.rejected(ctx, kind, "token_invalid", audit.Actor{}, apperr.InvalidToken("empty token"))
	}

	if jti := peekTokenID(token); jti != "" {
		revoked, err := s.revocations.IsRevoked(ctx, jti)
		if err != nil {
			obs.StoreError("revocation", "is_revoked")
			return IdentityClaims{}, s.rejected(ctx, kind, "token_invalid", audit.Actor{}, apperr.Unavailable("revocation", err))
		}
		if revoked {
			return IdentityClaims{}, s.rejected(ctx, kind, "token_revoked", audit.Actor{}, apperr.New(apperr.CodeTokenRevoked, "").With("jti", jti))
		}
	}

	claims, err := parseSigned(token, s.secret)
	if err != nil {
		return IdentityClaims{}, s.rejected(ctx, kind, "token_invalid", audit.Actor{}, apperr.InvalidToken("signature or format"))
	}
	actor := audit.Actor{UserID: claims.UserID, ClinicID: claims.ClinicID, Role: claims.Role, DoctorID: claims.DoctorID, Phone: claims.Phone}

	now := s.now()
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return IdentityClaims{}, s.rejected(ctx, kind, "token_expired", actor, apperr.New(apperr.CodeTokenExpired, ""))
	}
	if field := missingField(claims); field != "" {
		return IdentityClaims{}, s.rejected(ctx, kind, "token_invalid", actor, apperr.MissingField(field))
	}
	if claims.Issuer != s.issuer {
		return IdentityClaims{}, s.rejected(ctx, kind, "token_invalid", actor, apperr.InvalidToken("unexpected issuer"))
	}
	if claims.IssuedAt.Time.After(now.Add(issuedAtSkew)) {
		return IdentityClaims{}, s.rejected(ctx, kind, "token_invalid", actor, apperr.InvalidToken("issued in the future"))
	}
	if TokenKind(claims.TokenType) != kind {
		return IdentityClaims{}, s.rejected(ctx, kind, "token_invalid", actor, apperr.InvalidToken("token kind mismatch").With("expected", string(kind)))
	}

	identity, err := identityFromClaims(claims)
	if err != nil {
		return IdentityClaims{}, s.rejected(ctx, kind, "token_invalid", actor, err)
	}
	obs.TokenEvent(string(kind), "verified")
	s.trail.Record(ctx, audit.CategoryAuthentication, "token_decode", actor, audit.OutcomeSuccess, map[string]any{
		"jti":        identity.TokenID,
		"token_kind": string(kind),
	})
	return identity, nil
}

func identityFromClaims(c *tokenClaims) (IdentityClaims, error) {
	var identity IdentityClaims
	if c.TokenType == string(KindAccess) {
		role, err := ParseRole(c.Role)
		if err != nil {
			return IdentityClaims{}, apperr.InvalidToken("unknown role")
		}
		if role != RoleDoctor && c.DoctorID != "" {
			return IdentityClaims{}, apperr.InvalidToken("doctor_id on non-doctor token")
		}
		identity = newIdentityClaims(IdentitySeed{
			UserID:   c.UserID,
			ClinicID: c.ClinicID,
			Phone:    c.Phone,
			Role:     role,
			DoctorID: c.DoctorID,
		})
	} else {
		identity = IdentityClaims{UserID: c.UserID, ClinicID: c.ClinicID}
	}
	identity.TokenID = c.ID
	identity.Issuer = c.Issuer
	identity.IssuedAt = c.IssuedAt.Time
	identity.ExpiresAt = c.ExpiresAt.Time
	return identity, nil
}

func (s *TokenService) rejected(ctx context.Context, kind TokenKind, event string, actor audit.Actor, err error) error {
	obs.TokenEvent(string(kind), strings.TrimPrefix(event, "token_"))
	s.trail.Record(ctx, audit.CategoryAuthentication, event, actor, audit.OutcomeFailure, map[string]any{
		"token_kind": string(kind),
		"error_code": string(apperr.CodeOf(err)),
	})
	return err
}

// Refresh exchanges a refresh token for a new access token built from the
// account's current state.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (IssuedToken, error) {
	rc, err := s.Verify(ctx, refreshToken, KindRefresh)
	if err != nil {
		return IssuedToken{}, err
	}
	if s.directory == nil {
		return IssuedToken{}, apperr.New(apperr.CodeServiceUnavailable, "account directory is not configured")
	}
	acct, err := s.directory.AccountByID(ctx, rc.UserID)
	if errors.Is(err, ErrAccountNotFound) {
		return IssuedToken{}, apperr.InvalidToken("unknown account")
	}
	if err != nil {
		return IssuedToken{}, apperr.Unavailable("directory", err)
	}
	if acct.Status != StatusActive {
		return IssuedToken{}, apperr.New(apperr.CodeAccountInactive, "").With("status", string(acct.Status))
	}
	if acct.ClinicID != rc.ClinicID {
		return IssuedToken{}, apperr.InvalidToken("clinic mismatch")
	}
	return s.IssueAccess(ctx, acct.Seed(), 0)
}

// Revoke blacklists a validly signed token until its natural expiry.
// Tokens that already expired need no entry and are accepted silently.
func (s *TokenService) Revoke(ctx context.Context, token string) error {
	claims, err := s.revocable(token)
	if err != nil {
		return err
	}
	return s.revoke(ctx, token, claims)
}

// revocable checks signature and the claims a revocation entry is keyed on.
func (s *TokenService) revocable(token string) (*tokenClaims, error) {
	claims, err := parseSigned(strings.TrimSpace(token), s.secret)
	if err != nil {
		return nil, apperr.InvalidToken("signature or format")
	}
	if strings.TrimSpace(claims.ID) == "" {
		return nil, apperr.MissingField("jti")
	}
	if claims.ExpiresAt == nil {
		return nil, apperr.MissingField("exp")
	}
	return claims, nil
}

func (s *TokenService) revoke(ctx context.Context, token string, claims *tokenClaims) error {
	actor := audit.Actor{UserID: claims.UserID, ClinicID: claims.ClinicID, Role: claims.Role, DoctorID: claims.DoctorID}
	if !s.now().Before(claims.ExpiresAt.Time) {
		return nil
	}
	fingerprint := Fingerprint(token)
	if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time, fingerprint); err != nil {
		obs.StoreError("revocation", "revoke")
		s.trail.Record(ctx, audit.CategoryAuthentication, "token_revoke", actor, audit.OutcomeFailure, map[string]any{
			"jti":   claims.ID,
			"error": err.Error(),
		})
		return apperr.Wrap(apperr.CodeSecurityError, "failed to revoke token", err)
	}
	s.trail.Record(ctx, audit.CategoryAuthentication, "token_revoke", actor, audit.OutcomeSuccess, map[string]any{
		"jti":         claims.ID,
		"fingerprint": fingerprint,
		"expires_at":  claims.ExpiresAt.Time,
		"token_kind":  claims.TokenType,
	})
	return nil
}

// Logout revokes the access token and, when present, the refresh token.
// The refresh token must be a refresh token of the same user and clinic.
// Both tokens are validated before either is revoked.
func (s *TokenService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	access, err := s.revocable(accessToken)
	if err != nil {
		return err
	}
	var refresh *tokenClaims
	if strings.TrimSpace(refreshToken) != "" {
		if refresh, err = s.revocable(refreshToken); err != nil {
			return err
		}
		reason := ""
		switch {
		case refresh.TokenType != string(KindRefresh):
			reason = "refresh token expected"
		case refresh.UserID != access.UserID || refresh.ClinicID != access.ClinicID:
			reason = "refresh token belongs to another identity"
		}
		if reason != "" {
			actor := audit.Actor{UserID: access.UserID, ClinicID: access.ClinicID, Role: access.Role, DoctorID: access.DoctorID}
			s.trail.Record(ctx, audit.CategoryAuthentication, "logout", actor, audit.OutcomeDenied, map[string]any{
				"reason":      reason,
				"refresh_jti": refresh.ID,
			})
			return apperr.InvalidToken(reason)
		}
	}
	if err := s.revoke(ctx, accessToken, access); err != nil {
		return err
	}
	if refresh == nil {
		return nil
	}
	return s.revoke(ctx, refreshToken, refresh)
}
