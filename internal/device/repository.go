package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines device persistence. The abstraction keeps the
// registry testable without a database and leaves room for other
// backends.
type Repository interface {
	// GetByJID retrieves a device by its Beolink identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByJID(ctx context.Context, jid string) (*Device, error)

	// List retrieves all known devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the JID is already registered.
	Create(ctx context.Context, d *Device) error

	// Update modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, d *Device) error

	// Delete removes a device by JID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, jid string) error

	// Touch updates the last-seen timestamp and current address.
	// Called on every mDNS sighting and stream connect.
	Touch(ctx context.Context, jid, address string, seen time.Time) error

	// UpdateSoftwareVersion records the firmware version a device reports.
	UpdateSoftwareVersion(ctx context.Context, jid, version string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with the
// migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `jid, name, model, serial, address, sw_version, last_seen, created_at, updated_at`

// GetByJID retrieves a device by its Beolink identifier.
func (r *SQLiteRepository) GetByJID(ctx context.Context, jid string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE jid = ?`

	d, err := scanDevice(r.db.QueryRowContext(ctx, query, jid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by jid: %w", err)
	}
	return d, nil
}

// List retrieves all known devices ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name, jid`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}
	return devices, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	if err := d.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	query := `
		INSERT INTO devices (jid, name, model, serial, address, sw_version, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		d.JID,
		d.Name,
		d.Model,
		d.Serial,
		d.Address,
		d.SoftwareVersion,
		nullableTime(d.LastSeen),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	if err := d.Validate(); err != nil {
		return err
	}

	d.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, model = ?, serial = ?, address = ?,
			sw_version = ?, last_seen = ?, updated_at = ?
		WHERE jid = ?`

	result, err := r.db.ExecContext(ctx, query,
		d.Name,
		d.Model,
		d.Serial,
		d.Address,
		d.SoftwareVersion,
		nullableTime(d.LastSeen),
		d.UpdatedAt.Format(time.RFC3339),
		d.JID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return checkAffected(result)
}

// Delete removes a device by JID.
func (r *SQLiteRepository) Delete(ctx context.Context, jid string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE jid = ?", jid)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return checkAffected(result)
}

// Touch updates the last-seen timestamp and current address.
func (r *SQLiteRepository) Touch(ctx context.Context, jid, address string, seen time.Time) error {
	query := `
		UPDATE devices
		SET address = ?, last_seen = ?, updated_at = ?
		WHERE jid = ?`

	result, err := r.db.ExecContext(ctx, query,
		address,
		seen.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		jid,
	)
	if err != nil {
		return fmt.Errorf("touching device: %w", err)
	}
	return checkAffected(result)
}

// UpdateSoftwareVersion records the firmware version a device reports.
func (r *SQLiteRepository) UpdateSoftwareVersion(ctx context.Context, jid, version string) error {
	query := `
		UPDATE devices
		SET sw_version = ?, updated_at = ?
		WHERE jid = ?`

	result, err := r.db.ExecContext(ctx, query,
		version,
		time.Now().UTC().Format(time.RFC3339),
		jid,
	)
	if err != nil {
		return fmt.Errorf("updating software version: %w", err)
	}
	return checkAffected(result)
}

// scannable abstracts sql.Row and sql.Rows for scanDevice.
type scannable interface {
	Scan(dest ...any) error
}

func scanDevice(row scannable) (*Device, error) {
	var (
		d         Device
		lastSeen  sql.NullString
		createdAt string
		updatedAt string
	)

	err := row.Scan(
		&d.JID,
		&d.Name,
		&d.Model,
		&d.Serial,
		&d.Address,
		&d.SoftwareVersion,
		&lastSeen,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastSeen.Valid {
		if t, err := parseTime(lastSeen.String); err == nil {
			d.LastSeen = t
		}
	}
	if t, err := parseTime(createdAt); err == nil {
		d.CreatedAt = t
	}
	if t, err := parseTime(updatedAt); err == nil {
		d.UpdatedAt = t
	}

	return &d, nil
}

// parseTime handles both RFC3339 strings written by this package and
// SQLite's CURRENT_TIMESTAMP format from column defaults.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func checkAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
