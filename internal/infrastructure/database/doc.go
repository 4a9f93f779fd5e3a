// Package database provides SQLite connection management and schema
// migrations for the beobridge device registry.
//
// The database stores discovered Mozart devices and their metadata so
// the bridge can reconnect to known devices on restart without waiting
// for mDNS discovery.
//
// Migrations are embedded SQL files registered by the top-level
// migrations package. Filenames follow the pattern
// YYYYMMDD_HHMMSS_description.up.sql with an optional matching .down.sql.
//
// SQLite is opened with WAL mode, foreign keys enabled, and a single
// writer connection.
package database
