package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pulseops.app/internal/apperr"
	"pulseops.app/internal/audit"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Write(_ context.Context, ev audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type failingRevocations struct{}

func (failingRevocations) Revoke(context.Context, string, time.Time, string) error {
	return errors.New("backend down")
}
func (failingRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("backend down")
}
func (failingRevocations) SweepExpired(context.Context) (int, error) { return 0, nil }

type mapDirectory map[string]Account

func (d mapDirectory) AccountByID(_ context.Context, id string) (Account, error) {
	acct, ok := d[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (d mapDirectory) AccountByPhone(_ context.Context, phone string) (Account, error) {
	for _, acct := range d {
		if acct.Phone == phone {
			return acct, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func doctorSeed() IdentitySeed {
	return IdentitySeed{UserID: "u-1", ClinicID: "c-1", Phone: "+919876543210", Role: RoleDoctor, DoctorID: "d-1"}
}

func adminSeed() IdentitySeed {
	return IdentitySeed{UserID: "u-9", ClinicID: "c-1", Phone: "+919812345678", Role: RoleAdmin}
}

func newTestService(t *testing.T, opts ...ServiceOption) (*TokenService, *fakeClock, *recordingSink) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	sink := &recordingSink{}
	base := []ServiceOption{
		WithClock(clock.Now),
		WithAuditTrail(audit.New(audit.WithSinks(sink), audit.WithClock(clock.Now))),
	}
	svc, err := NewTokenService(testSecret, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return svc, clock, sink
}

func TestNewTokenServiceRejectsShortSecret(t *testing.T) {
	if _, err := NewTokenService("short"); !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("expected ErrSecretTooShort, got %v", err)
	}
}

func TestIssueAndVerifyAccessRoundTrip(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	issued, err := svc.IssueAccess(ctx, doctorSeed(), 0)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if issued.TokenID == "" || issued.Kind != KindAccess {
		t.Fatalf("unexpected issued token: %+v", issued)
	}

	claims, err := svc.Verify(ctx, issued.Token, KindAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "u-1" || claims.ClinicID != "c-1" || claims.DoctorID != "d-1" || claims.Role != RoleDoctor {
		t.Fatalf("identity not preserved: %+v", claims)
	}
	if claims.Scope != ScopeDoctorOwn {
		t.Fatalf("scope = %s", claims.Scope)
	}
	if claims.TokenID != issued.TokenID {
		t.Fatalf("jti mismatch: %s vs %s", claims.TokenID, issued.TokenID)
	}
	if !claims.ExpiresAt.Equal(issued.ExpiresAt) {
		t.Fatalf("expiry mismatch: %v vs %v", claims.ExpiresAt, issued.ExpiresAt)
	}
	if got, want := len(claims.Permissions()), len(PermissionsFor(RoleDoctor)); got != want {
		t.Fatalf("permissions = %d, want %d", got, want)
	}

	types := sink.types()
	if len(types) != 2 || types[0] != "token_create" || types[1] != "token_decode" {
		t.Fatalf("unexpected audit events: %v", types)
	}
}

func TestIssueAccessValidatesSeed(t *testing.T) {
	svc, _, _ := newTestService(t)
	cases := map[string]IdentitySeed{
		"missing user":        {ClinicID: "c-1", Phone: "+919876543210", Role: RoleAdmin},
		"doctor without id":   {UserID: "u", ClinicID: "c-1", Phone: "+919876543210", Role: RoleDoctor},
		"admin with doctorID": {UserID: "u", ClinicID: "c-1", Phone: "+919876543210", Role: RoleAdmin, DoctorID: "d"},
		"unknown role":        {UserID: "u", ClinicID: "c-1", Phone: "+919876543210", Role: "NURSE"},
	}
	for name, seed := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.IssueAccess(context.Background(), seed, 0)
			if apperr.CodeOf(err) != apperr.CodeInvalidInput {
				t.Fatalf("expected INVALID_INPUT, got %v", err)
			}
		})
	}
}

func TestVerifyRejectsWrongKind(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	refresh, err := svc.IssueRefresh(ctx, "u-1", "c-1", 0)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, err := svc.Verify(ctx, refresh.Token, KindAccess); apperr.CodeOf(err) != apperr.CodeInvalidToken {
		t.Fatalf("refresh token accepted as access: %v", err)
	}
	rc, err := svc.Verify(ctx, refresh.Token, KindRefresh)
	if err != nil {
		t.Fatalf("Verify refresh: %v", err)
	}
	if rc.Role != "" || len(rc.Permissions()) != 0 {
		t.Fatalf("refresh identity should carry no role: %+v", rc)
	}

	access, _ := svc.IssueAccess(ctx, adminSeed(), 0)
	if _, err := svc.Verify(ctx, access.Token, KindRefresh); apperr.CodeOf(err) != apperr.CodeInvalidToken {
		t.Fatalf("access token accepted as refresh: %v", err)
	}
}

func TestVerifyExpiredVersusInvalid(t *testing.T) {
	svc, clock, sink := newTestService(t)
	ctx := context.Background()

	issued, err := svc.IssueAccess(ctx, adminSeed(), time.Minute)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := svc.Verify(ctx, issued.Token, KindAccess); apperr.CodeOf(err) != apperr.CodeTokenExpired {
		t.Fatalf("expected TOKEN_EXPIRED at exp boundary, got %v", err)
	}
	if _, err := svc.Verify(ctx, "not.a.token", KindAccess); apperr.CodeOf(err) != apperr.CodeInvalidToken {
		t.Fatalf("expected INVALID_TOKEN, got %v", err)
	}
	if _, err := svc.Verify(ctx, "   ", KindAccess); apperr.CodeOf(err) != apperr.CodeInvalidToken {
		t.Fatalf("expected INVALID_TOKEN for empty token, got %v", err)
	}
	types := sink.types()
	if types[len(types)-3] != "token_expired" || types[len(types)-1] != "token_invalid" {
		t.Fatalf("unexpected audit tail: %v", types)
	}
}

func TestVerifyRejectsForeignSignatureAndAlgorithms(t *testing.T) {
	svc, clock, _ := newTestService(t)
	ctx := context.Background()
	now := clock.Now()
	claims := tokenClaims{
		UserID: "u-1", ClinicID: "c-1", Role: string(RoleAdmin), TokenType: string(KindAccess),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        "jti-1",
		},
	}

	foreign, err := signClaims(claims, []byte("ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatalf("signClaims: %v", err)
	}
	if _, err := svc.Verify(ctx, foreign, KindAccess); apperr.CodeOf(err) != apperr.CodeInvalidToken {
		t.Fatalf("foreign signature accepted: %v", err)
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign HS512: %v", err)
	}
	if _, err := svc.Verify(ctx, hs512, KindAccess); apperr.CodeOf(err) != apperr.CodeInvalidToken {
		t.Fatalf("HS512 token accepted: %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := svc.Verify(ctx, none, KindAccess); apperr.CodeOf(err) != apperr.CodeInvalidToken {
		t.Fatalf("unsigned token accepted: %v", err)
	}
}

func TestVerifyRejectsMissingClaims(t *testing.T) {
	svc, clock, _ := newTestService(t)
	now := clock.Now()
	claims := tokenClaims{
		UserID: "u-1", ClinicID: "c-1", Role: string(RoleDoctor), TokenType: string(KindAccess),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        "jti-2",
		},
	}
	token, err := signClaims(claims, []byte(testSecret))
	if err != nil {
		t.Fatalf("signClaims: %v", err)
	}
	_, err = svc.Verify(context.Background(), token, KindAccess)
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeInvalidToken || ae.Details["field"] != "doctor_id" {
		t.Fatalf("expected missing doctor_id, got %v", err)
	}
}

func TestVerifyIgnoresPayloadPermissions(t *testing.T) {
	svc, clock, _ := newTestService(t)
	now := clock.Now()
	claims := tokenClaims{
		UserID: "u-1", ClinicID: "c-1", Role: string(RoleDoctor), DoctorID: "d-1",
		Permissions: []string{string(PermManageDoctors), string(PermViewRevenue)},
		TokenType:   string(KindAccess),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        "jti-3",
		},
	}
	token, err := signClaims(claims, []byte(testSecret))
	if err != nil {
		t.Fatalf("signClaims: %v", err)
	}
	identity, err := svc.Verify(context.Background(), token, KindAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.HasPermission(PermManageDoctors) || identity.HasPermission(PermViewRevenue) {
		t.Fatalf("payload permissions leaked into identity")
	}
}

func TestTamperedPayloadFailsSignature(t *testing.T) {
	svc, _, _ := newTestService(t)
	issued, _ := svc.IssueAccess(context.Background(), doctorSeed(), 0)
	parts := strings.Split(issued.Token, ".")
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	payload["role"] = "ADMIN"
	delete(payload, "doctor_id")
	forged, _ := json.Marshal(payload)
	parts[1] = base64.RawURLEncoding.EncodeToString(forged)
	if _, err := svc.Verify(context.Background(), strings.Join(parts, "."), KindAccess); apperr.CodeOf(err) != apperr.CodeInvalidToken {
		t.Fatalf("tampered token accepted: %v", err)
	}
}

func TestRevokeBlocksUntilExpiryThenPurges(t *testing.T) {
	store := NewMemoryRevocationStore(nil)
	svc, clock, sink := newTestService(t)
	store.now = clock.Now
	svc.revocations = store
	ctx := context.Background()

	issued, err := svc.IssueAccess(ctx, doctorSeed(), 10*time.Minute)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if err := svc.Revoke(ctx, issued.Token); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.Verify(ctx, issued.Token, KindAccess); apperr.CodeOf(err) != apperr.CodeTokenRevoked {
		t.Fatalf("expected TOKEN_REVOKED, got %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one revocation entry, got %d", store.Len())
	}

	clock.Advance(10 * time.Minute)
	if _, err := svc.Verify(ctx, issued.Token, KindAccess); apperr.CodeOf(err) != apperr.CodeTokenExpired {
		t.Fatalf("expected TOKEN_EXPIRED after natural expiry, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("matured entry should be purged, %d left", store.Len())
	}

	found := false
	for _, ev := range sink.events {
		if ev.Type == "token_revoke" {
			found = true
			if ev.Details["fingerprint"] != Fingerprint(issued.Token) {
				t.Fatalf("revoke event fingerprint mismatch: %v", ev.Details)
			}
		}
	}
	if !found {
		t.Fatalf("token_revoke event missing")
	}
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	svc, clock, _ := newTestService(t)
	issued, _ := svc.IssueAccess(context.Background(), adminSeed(), time.Minute)
	clock.Advance(2 * time.Minute)
	if err := svc.Revoke(context.Background(), issued.Token); err != nil {
		t.Fatalf("Revoke expired: %v", err)
	}
	if n := svc.Revocations().(*MemoryRevocationStore).Len(); n != 0 {
		t.Fatalf("expired token should not be stored, got %d", n)
	}
}

func TestVerifyFailsClosedWhenStoreUnavailable(t *testing.T) {
	svc, _, _ := newTestService(t, WithRevocationStore(failingRevocations{}))
	issued, _ := svc.IssueAccess(context.Background(), adminSeed(), 0)
	_, err := svc.Verify(context.Background(), issued.Token, KindAccess)
	if apperr.CodeOf(err) != apperr.CodeServiceUnavailable {
		t.Fatalf("expected SERVICE_UNAVAILABLE, got %v", err)
	}
	if err := svc.Revoke(context.Background(), issued.Token); apperr.CodeOf(err) != apperr.CodeSecurityError {
		t.Fatalf("expected SECURITY_ERROR on revoke failure, got %v", err)
	}
}

func TestRefreshUsesCurrentAccountState(t *testing.T) {
	dir := mapDirectory{
		"u-1": {UserID: "u-1", ClinicID: "c-1", Phone: "+919876543210", Role: RoleDoctor, DoctorID: "d-1", Status: StatusActive},
		"u-2": {UserID: "u-2", ClinicID: "c-1", Phone: "+919876543211", Role: RoleAdmin, Status: StatusSuspended},
	}
	svc, _, _ := newTestService(t, WithDirectory(dir))
	ctx := context.Background()

	refresh, _ := svc.IssueRefresh(ctx, "u-1", "c-1", 0)
	access, err := svc.Refresh(ctx, refresh.Token)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	claims, err := svc.Verify(ctx, access.Token, KindAccess)
	if err != nil {
		t.Fatalf("Verify refreshed: %v", err)
	}
	if claims.DoctorID != "d-1" || claims.Role != RoleDoctor {
		t.Fatalf("refreshed identity mismatch: %+v", claims)
	}

	suspended, _ := svc.IssueRefresh(ctx, "u-2", "c-1", 0)
	if _, err := svc.Refresh(ctx, suspended.Token); apperr.CodeOf(err) != apperr.CodeAccountInactive {
		t.Fatalf("expected ACCOUNT_INACTIVE, got %v", err)
	}

	unknown, _ := svc.IssueRefresh(ctx, "u-404", "c-1", 0)
	if _, err := svc.Refresh(ctx, unknown.Token); apperr.CodeOf(err) != apperr.CodeInvalidToken {
		t.Fatalf("expected INVALID_TOKEN for unknown account, got %v", err)
	}

	moved, _ := svc.IssueRefresh(ctx, "u-1", "c-2", 0)
	if _, err := svc.Refresh(ctx, moved.Token); apperr.CodeOf(err) != apperr.CodeInvalidToken {
		t.Fatalf("expected INVALID_TOKEN for clinic mismatch, got %v", err)
	}
}

func TestLogoutRevokesBothTokens(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	pair, err := svc.IssuePair(ctx, doctorSeed())
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if err := svc.Logout(ctx, pair.Access.Token, pair.Refresh.Token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Verify(ctx, pair.Access.Token, KindAccess); apperr.CodeOf(err) != apperr.CodeTokenRevoked {
		t.Fatalf("access still valid after logout: %v", err)
	}
	if _, err := svc.Verify(ctx, pair.Refresh.Token, KindRefresh); apperr.CodeOf(err) != apperr.CodeTokenRevoked {
		t.Fatalf("refresh still valid after logout: %v", err)
	}
}

func TestLogoutRejectsForeignOrBadRefreshWithoutRevoking(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	mine, err := svc.IssuePair(ctx, doctorSeed())
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	other := adminSeed()
	theirs, err := svc.IssuePair(ctx, other)
	if err != nil {
		t.Fatalf("IssuePair other: %v", err)
	}

	cases := []struct {
		name    string
		refresh string
	}{
		{"garbage", "garbage"},
		{"another user's refresh", theirs.Refresh.Token},
		{"access token as refresh", mine.Access.Token},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := svc.Logout(ctx, mine.Access.Token, tc.refresh); apperr.CodeOf(err) != apperr.CodeInvalidToken {
				t.Fatalf("expected INVALID_TOKEN, got %v", err)
			}
			if _, err := svc.Verify(ctx, mine.Access.Token, KindAccess); err != nil {
				t.Fatalf("access token must survive a rejected logout: %v", err)
			}
		})
	}
	if _, err := svc.Verify(ctx, theirs.Refresh.Token, KindRefresh); err != nil {
		t.Fatalf("other user's refresh token must not be revoked: %v", err)
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWithClaims(context.Background(), newIdentityClaims(adminSeed()))
	ctx = ContextWithToken(ctx, "tok")
	claims, ok := ClaimsFromContext(ctx)
	if !ok || claims.UserID != "u-9" || !claims.IsAdmin() {
		t.Fatalf("claims not restored: %+v", claims)
	}
	if tok, ok := TokenFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("token not restored")
	}
	if _, ok := ClaimsFromContext(context.Background()); ok {
		t.Fatalf("empty context should not yield claims")
	}
}
