package pg

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseops.app/internal/audit"
	"pulseops.app/internal/auth"
	"pulseops.app/internal/pii"
)

var fixedNow = time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	guard, err := pii.NewGuard("pg-test-secret-pg-test-secret-pg")
	require.NoError(t, err)
	s := New(db, guard)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func TestRevokeUpsertsEntry(t *testing.T) {
	s, mock := newMockStore(t)
	exp := fixedNow.Add(time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("insert into revoked_tokens (jti, revoked_at, expires_at, fingerprint)")).
		WithArgs("jti-1", fixedNow, exp, "abcd").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Revocations().Revoke(context.Background(), "jti-1", exp, "abcd"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeRejectsEmptyID(t *testing.T) {
	s, _ := newMockStore(t)
	err := s.Revocations().Revoke(context.Background(), "  ", fixedNow, "")
	assert.ErrorIs(t, err, auth.ErrEmptyTokenID)
}

func TestIsRevoked(t *testing.T) {
	s, mock := newMockStore(t)
	q := regexp.QuoteMeta("select expires_at from revoked_tokens where jti = $1")

	mock.ExpectQuery(q).WithArgs("live").
		WillReturnRows(sqlmock.NewRows([]string{"expires_at"}).AddRow(fixedNow.Add(time.Minute)))
	mock.ExpectQuery(q).WithArgs("unknown").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(q).WithArgs("matured").
		WillReturnRows(sqlmock.NewRows([]string{"expires_at"}).AddRow(fixedNow))
	mock.ExpectExec(regexp.QuoteMeta("delete from revoked_tokens where jti = $1")).WithArgs("matured").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := s.Revocations()
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "live")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = store.IsRevoked(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, revoked)

	revoked, err = store.IsRevoked(ctx, "matured")
	require.NoError(t, err)
	assert.False(t, revoked, "entries at their expiry are purged")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRevokedPropagatesErrors(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select expires_at from revoked_tokens").WillReturnError(errors.New("conn reset"))
	_, err := s.Revocations().IsRevoked(context.Background(), "x")
	assert.Error(t, err)
}

func TestSweepExpired(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("delete from revoked_tokens where expires_at <= $1")).
		WithArgs(fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 4))
	n, err := s.Revocations().SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestDirectoryRoundTripsEncryptedPhone(t *testing.T) {
	s, mock := newMockStore(t)
	dir := s.Directory()
	phone := "+919876543210"
	cipherText, err := s.pii.Encrypt(phone)
	require.NoError(t, err)

	cols := []string{"id", "clinic_id", "phone_ciphertext", "role", "doctor_id", "status"}
	mock.ExpectQuery("where phone_index = \\$1").
		WithArgs(s.pii.BlindIndex(phone)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u-1", "c-1", cipherText, "DOCTOR", "d-1", "ACTIVE"))

	acct, err := dir.AccountByPhone(context.Background(), phone)
	require.NoError(t, err)
	assert.Equal(t, auth.Account{
		UserID: "u-1", ClinicID: "c-1", Phone: phone, Role: auth.RoleDoctor, DoctorID: "d-1", Status: auth.StatusActive,
	}, acct)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClinicAccounts(t *testing.T) {
	s, mock := newMockStore(t)
	a, err := s.pii.Encrypt("+919876543210")
	require.NoError(t, err)
	b, err := s.pii.Encrypt("+919812345678")
	require.NoError(t, err)

	cols := []string{"id", "clinic_id", "phone_ciphertext", "role", "doctor_id", "status"}
	mock.ExpectQuery("where clinic_id = \\$1 order by id").
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("u-1", "c-1", a, "DOCTOR", "d-1", "ACTIVE").
			AddRow("u-2", "c-1", b, "ADMIN", "", "PENDING"))

	list, err := s.Directory().ClinicAccounts(context.Background(), "c-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "+919876543210", list[0].Phone)
	assert.Equal(t, auth.RoleAdmin, list[1].Role)
	assert.Empty(t, list[1].DoctorID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("where id = \\$1").WithArgs("ghost").WillReturnError(sql.ErrNoRows)
	_, err := s.Directory().AccountByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, auth.ErrAccountNotFound)
}

func TestPutAccount(t *testing.T) {
	s, mock := newMockStore(t)
	acct := auth.Account{UserID: "u-2", ClinicID: "c-1", Phone: "+919812345678", Role: auth.RoleAdmin, Status: auth.StatusActive}
	mock.ExpectExec("insert into users").
		WithArgs("u-2", "c-1", sqlmock.AnyArg(), s.pii.BlindIndex(acct.Phone), "ADMIN",
			sql.NullString{}, "ACTIVE", sql.NullString{}, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.Directory().PutAccount(context.Background(), acct, ""))

	mock.ExpectExec("insert into users").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	acct.UserID = "u-3"
	assert.ErrorIs(t, s.Directory().PutAccount(context.Background(), acct, ""), auth.ErrAccountExists)

	bad := acct
	bad.DoctorID = "d-9"
	assert.Error(t, s.Directory().PutAccount(context.Background(), bad, ""), "admin with doctor id is rejected before the query")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPasswordHash(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select password_hash from users").WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow("$2a$10$hash"))
	mock.ExpectQuery("select password_hash from users").WithArgs("u-2").
		WillReturnRows(sqlmock.NewRows([]string{"password_hash"}).AddRow(nil))
	mock.ExpectQuery("select password_hash from users").WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	hash, err := s.Directory().PasswordHash(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$hash", hash)

	hash, err = s.Directory().PasswordHash(context.Background(), "u-2")
	require.NoError(t, err)
	assert.Empty(t, hash)

	_, err = s.Directory().PasswordHash(context.Background(), "ghost")
	assert.ErrorIs(t, err, auth.ErrAccountNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatus(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("update users set status").WithArgs("u-1", "SUSPENDED", fixedNow).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update users set status").WithArgs("ghost", "ACTIVE", fixedNow).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.Directory().SetStatus(context.Background(), "u-1", auth.StatusSuspended))
	assert.ErrorIs(t, s.Directory().SetStatus(context.Background(), "ghost", auth.StatusActive), auth.ErrAccountNotFound)
}

func TestAuditSinkWrite(t *testing.T) {
	s, mock := newMockStore(t)
	ev := audit.Event{
		ID:        "01J0000000000000000000000",
		Timestamp: fixedNow,
		Category:  audit.CategoryPermission,
		Type:      "permission_check",
		Outcome:   audit.OutcomeDenied,
		Actor:     audit.Actor{UserID: "u-1", ClinicID: "c-1", Role: "DOCTOR", DoctorID: "d-1", Phone: "+91*******210"},
		Details:   map[string]any{"permission": "manage_doctors"},
	}
	mock.ExpectExec("insert into audit_events").
		WithArgs(ev.ID, fixedNow, "permission", "permission_check", "denied",
			sql.NullString{String: "u-1", Valid: true}, sql.NullString{String: "c-1", Valid: true},
			sql.NullString{String: "DOCTOR", Valid: true}, sql.NullString{String: "d-1", Valid: true},
			sql.NullString{String: "+91*******210", Valid: true},
			sql.NullString{}, sql.NullString{}, []byte(`{"permission":"manage_doctors"}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	sink := s.AuditSink()
	assert.Equal(t, "postgres", sink.Name())
	require.NoError(t, sink.Write(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := Files.ReadDir("migrations")
	require.NoError(t, err)
	assert.Len(t, entries, 6)
	seeds, err := Files.ReadDir("seeds")
	require.NoError(t, err)
	assert.NotEmpty(t, seeds)
}
