package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// AccessMethod is the biometric used for an attempt.
type AccessMethod string

const (
	MethodFacial      AccessMethod = "facial"
	MethodFingerprint AccessMethod = "fingerprint"
)

// AccessEvent is one row of the audit trail. Cedula and Nombres are empty
// when the person was not identified.
type AccessEvent struct {
	ID       string       `json:"id"`
	DeviceID string       `json:"device_id"`
	Cedula   string       `json:"cedula,omitempty"`
	Nombres  string       `json:"nombres,omitempty"`
	Method   AccessMethod `json:"method"`
	Status   string       `json:"status"`
	Time     time.Time    `json:"time"`
}

// RecordAccess appends e to the audit trail, filling in its ID and time
// when unset.
func (db *DB) RecordAccess(e AccessEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := db.Exec(
		`INSERT INTO access_log (id, device_id, cedula, nombres, method, status, created_unix_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DeviceID, nullString(e.Cedula), nullString(e.Nombres), string(e.Method), e.Status, e.Time.UnixNano(),
	)
	return err
}

// RecentAccess returns up to limit events, newest first.
func (db *DB) RecentAccess(limit int) ([]AccessEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT id, device_id, cedula, nombres, method, status, created_unix_ns
		 FROM access_log ORDER BY created_unix_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AccessEvent
	for rows.Next() {
		var (
			e               AccessEvent
			cedula, nombres sql.NullString
			method          string
			ts              int64
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &cedula, &nombres, &method, &e.Status, &ts); err != nil {
			return nil, err
		}
		e.Cedula, e.Nombres = cedula.String, nombres.String
		e.Method = AccessMethod(method)
		e.Time = time.Unix(0, ts).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
