package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the devices table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE devices (
			jid TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			serial TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL,
			sw_version TEXT NOT NULL DEFAULT '',
			last_seen TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX idx_devices_last_seen ON devices(last_seen);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

const (
	testJID      = "1111.1234567.11111111@products.bang-olufsen.com"
	testOtherJID = "2222.7654321.22222222@products.bang-olufsen.com"
)

func testDevice(jid, name string) *Device {
	return &Device{
		JID:     jid,
		Name:    name,
		Model:   "Beosound Balance",
		Serial:  SerialFromJID(jid),
		Address: "10.0.0.42",
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	want := testDevice(testJID, "Living Room")
	if err := repo.Create(ctx, want); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByJID(ctx, testJID)
	if err != nil {
		t.Fatalf("GetByJID() error = %v", err)
	}

	if got.JID != want.JID || got.Name != want.Name || got.Model != want.Model {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.Serial != "1234567" {
		t.Errorf("serial = %q, want 1234567", got.Serial)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestCreateDuplicate(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice(testJID, "Living Room")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := repo.Create(ctx, testDevice(testJID, "Duplicate"))
	if !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Create() duplicate error = %v, want ErrDeviceExists", err)
	}
}

func TestCreateValidation(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	tests := []struct {
		name    string
		device  *Device
		wantErr error
	}{
		{"missing JID", &Device{Address: "10.0.0.1"}, ErrInvalidDevice},
		{"malformed JID", &Device{JID: "not-a-jid", Address: "10.0.0.1"}, ErrInvalidJID},
		{"missing address", &Device{JID: testJID}, ErrInvalidDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.Create(ctx, tt.device); !errors.Is(err, tt.wantErr) {
				t.Errorf("Create() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetNotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	_, err := repo.GetByJID(context.Background(), testJID)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByJID() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestListOrdering(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	for _, d := range []*Device{
		testDevice(testOtherJID, "Kitchen"),
		testDevice(testJID, "Bedroom"),
	} {
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if len(devices) != 2 {
		t.Fatalf("List() returned %d devices, want 2", len(devices))
	}
	if devices[0].Name != "Bedroom" || devices[1].Name != "Kitchen" {
		t.Errorf("List() order = [%s %s], want name order", devices[0].Name, devices[1].Name)
	}
}

func TestUpdate(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	d := testDevice(testJID, "Living Room")
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	d.Name = "Lounge"
	d.SoftwareVersion = "8.3.1"
	if err := repo.Update(ctx, d); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByJID(ctx, testJID)
	if err != nil {
		t.Fatalf("GetByJID() error = %v", err)
	}
	if got.Name != "Lounge" || got.SoftwareVersion != "8.3.1" {
		t.Errorf("got %+v after update", got)
	}
}

func TestUpdateNotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	err := repo.Update(context.Background(), testDevice(testJID, "Ghost"))
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Update() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice(testJID, "Living Room")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Delete(ctx, testJID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := repo.GetByJID(ctx, testJID); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByJID() after delete error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.Delete(ctx, testJID); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Delete() repeated error = %v, want ErrDeviceNotFound", err)
	}
}

func TestTouch(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice(testJID, "Living Room")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	seen := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.Touch(ctx, testJID, "10.0.0.99", seen); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}

	got, err := repo.GetByJID(ctx, testJID)
	if err != nil {
		t.Fatalf("GetByJID() error = %v", err)
	}
	if got.Address != "10.0.0.99" {
		t.Errorf("address = %q, want refreshed address", got.Address)
	}
	if !got.LastSeen.Equal(seen) {
		t.Errorf("last seen = %v, want %v", got.LastSeen, seen)
	}
}

func TestUpdateSoftwareVersion(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice(testJID, "Living Room")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.UpdateSoftwareVersion(ctx, testJID, "9.0.12"); err != nil {
		t.Fatalf("UpdateSoftwareVersion() error = %v", err)
	}

	got, err := repo.GetByJID(ctx, testJID)
	if err != nil {
		t.Fatalf("GetByJID() error = %v", err)
	}
	if got.SoftwareVersion != "9.0.12" {
		t.Errorf("software version = %q, want 9.0.12", got.SoftwareVersion)
	}
}

func TestSerialFromJID(t *testing.T) {
	tests := []struct {
		jid  string
		want string
	}{
		{testJID, "1234567"},
		{"2222.7654321.22222222@products.bang-olufsen.com", "7654321"},
		{"garbage", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := SerialFromJID(tt.jid); got != tt.want {
			t.Errorf("SerialFromJID(%q) = %q, want %q", tt.jid, got, tt.want)
		}
	}
}
