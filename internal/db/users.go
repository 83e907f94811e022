package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AccessType lists the biometric methods a user may pass the gate with.
type AccessType string

const (
	AccessFacial      AccessType = "facial"
	AccessFingerprint AccessType = "fingerprint"
	AccessBoth        AccessType = "both"
	AccessNone        AccessType = "none"
)

// ParseAccessType accepts the canonical names and the Spanish labels used by
// the administration forms.
func ParseAccessType(s string) (AccessType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "facial":
		return AccessFacial, nil
	case "fingerprint", "huella":
		return AccessFingerprint, nil
	case "both", "ambos":
		return AccessBoth, nil
	case "none", "ninguno", "":
		return AccessNone, nil
	}
	return "", fmt.Errorf("unknown access type %q", s)
}

func (a AccessType) AllowsFacial() bool { return a == AccessFacial || a == AccessBoth }

func (a AccessType) AllowsFingerprint() bool { return a == AccessFingerprint || a == AccessBoth }

// User is a person known to the access system.
type User struct {
	ID             int64
	Cedula         string
	Nombres        string
	Role           string
	Access         AccessType
	FingerprintID  *int
	HasFacial      bool
	HasFingerprint bool
	CreatedAt      time.Time
}

const userColumns = `id, cedula, nombres, role, access_type, fingerprint_id, has_facial, has_fingerprint, created_unix_ns`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u       User
		access  string
		fp      sql.NullInt64
		created int64
	)
	if err := row.Scan(&u.ID, &u.Cedula, &u.Nombres, &u.Role, &access, &fp, &u.HasFacial, &u.HasFingerprint, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Access = AccessType(access)
	if fp.Valid {
		id := int(fp.Int64)
		u.FingerprintID = &id
	}
	u.CreatedAt = time.Unix(0, created).UTC()
	return &u, nil
}

// CreateUser inserts u. Cedula and Nombres are required.
func (db *DB) CreateUser(u User) (*User, error) {
	if u.Cedula == "" || u.Nombres == "" {
		return nil, fmt.Errorf("cedula and nombres are required")
	}
	if u.Role == "" {
		u.Role = "user"
	}
	if u.Access == "" {
		u.Access = AccessNone
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	res, err := db.Exec(
		`INSERT INTO users (cedula, nombres, role, access_type, has_facial, has_fingerprint, created_unix_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Cedula, u.Nombres, u.Role, string(u.Access), u.HasFacial, u.HasFingerprint, u.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert user %s: %w", u.Cedula, err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return &u, nil
}

// UserByCedula returns the user with the given national id.
func (db *DB) UserByCedula(cedula string) (*User, error) {
	return scanUser(db.QueryRow(`SELECT `+userColumns+` FROM users WHERE cedula = ?`, cedula))
}

// UserByFingerprint returns the user bound to a sensor slot.
func (db *DB) UserByFingerprint(id int) (*User, error) {
	return scanUser(db.QueryRow(`SELECT `+userColumns+` FROM users WHERE fingerprint_id = ?`, id))
}

// ListUsers returns every user ordered by cedula.
func (db *DB) ListUsers() ([]User, error) {
	return db.queryUsers(`SELECT ` + userColumns + ` FROM users ORDER BY cedula`)
}

// FacialUsers returns users whose access includes facial recognition.
func (db *DB) FacialUsers() ([]User, error) {
	return db.queryUsers(`SELECT `+userColumns+` FROM users WHERE access_type IN (?, ?) ORDER BY cedula`,
		string(AccessFacial), string(AccessBoth))
}

func (db *DB) queryUsers(query string, args ...any) ([]User, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// DeleteUser removes the user and returns the row as it was.
func (db *DB) DeleteUser(cedula string) (*User, error) {
	u, err := db.UserByCedula(cedula)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`DELETE FROM users WHERE id = ?`, u.ID); err != nil {
		return nil, fmt.Errorf("delete user %s: %w", cedula, err)
	}
	return u, nil
}

// BindFingerprint records that sensor slot id belongs to cedula. It fails
// with ErrFingerprintInUse when another user already holds the slot.
func (db *DB) BindFingerprint(cedula string, id int) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRow(`SELECT cedula FROM users WHERE fingerprint_id = ?`, id).Scan(&owner)
	switch {
	case err == nil && owner != cedula:
		return ErrFingerprintInUse
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return err
	}

	res, err := tx.Exec(`UPDATE users SET fingerprint_id = ?, has_fingerprint = 1 WHERE cedula = ?`, id, cedula)
	if err != nil {
		return fmt.Errorf("bind fingerprint %d to %s: %w", id, cedula, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// ClearFingerprint unbinds the user's sensor slot.
func (db *DB) ClearFingerprint(cedula string) error {
	return db.updateUser(`UPDATE users SET fingerprint_id = NULL, has_fingerprint = 0 WHERE cedula = ?`, cedula)
}

// ClearAllFingerprints unbinds every sensor slot, used after the sensor
// library has been wiped.
func (db *DB) ClearAllFingerprints() error {
	_, err := db.Exec(`UPDATE users SET fingerprint_id = NULL, has_fingerprint = 0`)
	return err
}

// SetHasFacial marks whether the gallery holds encodings for the user.
func (db *DB) SetHasFacial(cedula string, has bool) error {
	return db.updateUser(`UPDATE users SET has_facial = ? WHERE cedula = ?`, has, cedula)
}

// SyncHasFacial sets has_facial for exactly the given users and clears it
// for everyone else.
func (db *DB) SyncHasFacial(cedulas []string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`UPDATE users SET has_facial = 0`); err != nil {
		return err
	}
	for _, c := range cedulas {
		if _, err := tx.Exec(`UPDATE users SET has_facial = 1 WHERE cedula = ?`, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetAccess changes the methods a user may authenticate with.
func (db *DB) SetAccess(cedula string, access AccessType) error {
	return db.updateUser(`UPDATE users SET access_type = ? WHERE cedula = ?`, string(access), cedula)
}

func (db *DB) updateUser(query string, args ...any) error {
	res, err := db.Exec(query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
