// Package device provides the persistent registry of known Mozart
// devices.
//
// Devices enter the registry from mDNS discovery and static
// configuration, keyed by their Beolink JID. The SQLite-backed
// Repository handles persistence; the Registry layers an in-memory
// cache on top so the hot path (discovery sightings, API reads) rarely
// touches the database.
package device
