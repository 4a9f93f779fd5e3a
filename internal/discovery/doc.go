// Package discovery finds Mozart devices on the local network via
// mDNS/DNS-SD.
//
// Devices advertise the _bangolufsen._tcp service with TXT records
// carrying the type, item and serial numbers that make up the Beolink
// JID. The Browser reports sightings and expirations through callbacks
// so the caller can feed the device registry and the bridge's peer set.
package discovery
