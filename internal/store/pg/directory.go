package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pulseops.app/internal/auth"
)

var _ auth.AccountStore = (*Directory)(nil)

// Directory reads and writes the users table. Phones are stored encrypted
// and looked up through a blind index.
type Directory struct{ s *Store }

func (s *Store) Directory() *Directory { return &Directory{s: s} }

const selectAccount = `
	select id, clinic_id, phone_ciphertext, role, coalesce(doctor_id, ''), status
	from users
`

func (d *Directory) AccountByID(ctx context.Context, userID string) (auth.Account, error) {
	return d.one(ctx, selectAccount+` where id = $1`, userID)
}

func (d *Directory) AccountByPhone(ctx context.Context, phone string) (auth.Account, error) {
	return d.one(ctx, selectAccount+` where phone_index = $1`, d.s.pii.BlindIndex(phone))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (d *Directory) one(ctx context.Context, query string, arg string) (auth.Account, error) {
	if d.s.db == nil {
		return auth.Account{}, errNoDB
	}
	acct, err := d.scan(d.s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Account{}, auth.ErrAccountNotFound
	}
	return acct, err
}

func (d *Directory) scan(row rowScanner) (auth.Account, error) {
	var (
		acct       auth.Account
		cipherText string
		role       string
		status     string
	)
	if err := row.Scan(&acct.UserID, &acct.ClinicID, &cipherText, &role, &acct.DoctorID, &status); err != nil {
		return auth.Account{}, err
	}
	phone, err := d.s.pii.Decrypt(cipherText)
	if err != nil {
		return auth.Account{}, fmt.Errorf("decrypt phone of %s: %w", acct.UserID, err)
	}
	acct.Phone = phone
	if acct.Role, err = auth.ParseRole(role); err != nil {
		return auth.Account{}, err
	}
	acct.Status = auth.UserStatus(status)
	return acct, nil
}

// ClinicAccounts lists every account of clinicID ordered by id.
func (d *Directory) ClinicAccounts(ctx context.Context, clinicID string) ([]auth.Account, error) {
	if d.s.db == nil {
		return nil, errNoDB
	}
	rows, err := d.s.db.QueryContext(ctx, selectAccount+` where clinic_id = $1 order by id`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]auth.Account, 0)
	for rows.Next() {
		acct, err := d.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

// PutAccount inserts or updates acct. passwordHash may be empty.
func (d *Directory) PutAccount(ctx context.Context, acct auth.Account, passwordHash string) error {
	if d.s.db == nil {
		return errNoDB
	}
	if err := acct.Seed().Validate(); err != nil {
		return err
	}
	if acct.Status == "" {
		acct.Status = auth.StatusPending
	}
	cipherText, err := d.s.pii.Encrypt(acct.Phone)
	if err != nil {
		return err
	}
	_, err = d.s.db.ExecContext(ctx, `
		insert into users (id, clinic_id, phone_ciphertext, phone_index, role, doctor_id, status, password_hash, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		on conflict (id) do update
		set clinic_id = excluded.clinic_id,
		    phone_ciphertext = excluded.phone_ciphertext,
		    phone_index = excluded.phone_index,
		    role = excluded.role,
		    doctor_id = excluded.doctor_id,
		    status = excluded.status,
		    password_hash = coalesce(excluded.password_hash, users.password_hash),
		    updated_at = excluded.updated_at
	`, acct.UserID, acct.ClinicID, cipherText, d.s.pii.BlindIndex(acct.Phone), string(acct.Role),
		nullIfEmpty(acct.DoctorID), string(acct.Status), nullIfEmpty(passwordHash), d.s.now().UTC())
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return auth.ErrAccountExists
	}
	return err
}

// SetStatus changes the lifecycle state of userID.
func (d *Directory) SetStatus(ctx context.Context, userID string, status auth.UserStatus) error {
	if d.s.db == nil {
		return errNoDB
	}
	res, err := d.s.db.ExecContext(ctx, `update users set status = $2, updated_at = $3 where id = $1`,
		userID, string(status), d.s.now().UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrAccountNotFound
	}
	return nil
}

// PasswordHash returns the stored bcrypt hash of userID, empty when none is set.
func (d *Directory) PasswordHash(ctx context.Context, userID string) (string, error) {
	if d.s.db == nil {
		return "", errNoDB
	}
	var hash sql.NullString
	err := d.s.db.QueryRowContext(ctx, `select password_hash from users where id = $1`, userID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.ErrAccountNotFound
	}
	if err != nil {
		return "", err
	}
	return hash.String, nil
}
