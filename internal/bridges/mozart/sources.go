package mozart

// Known Mozart source IDs.
const (
	SourceURIStreamer  = "uriStreamer"
	SourceBluetooth    = "bluetooth"
	SourceChromeCast   = "chromeCast"
	SourceSpotify      = "spotify"
	SourceLineIn       = "lineIn"
	SourceSPDIF        = "spdif"
	SourceNetRadio     = "netRadio"
	SourceLocal        = "local"
	SourceDLNA         = "dlna"
	SourceQPlay        = "qplay"
	SourceWPL          = "wpl"
	SourcePL           = "pl"
	SourceBeolink      = "beolink"
	SourceDeezer       = "deezer"
	SourceTidalConnect = "tidalConnect"
	SourceAirPlay      = "airPlay"
	SourceUSBIn        = "usbIn"
	SourceGenerator    = "generator"
)

// knownSources is every source ID a device can report.
var knownSources = map[string]bool{
	SourceURIStreamer:  true,
	SourceBluetooth:    true,
	SourceChromeCast:   true,
	SourceSpotify:      true,
	SourceLineIn:       true,
	SourceSPDIF:        true,
	SourceNetRadio:     true,
	SourceLocal:        true,
	SourceDLNA:         true,
	SourceQPlay:        true,
	SourceWPL:          true,
	SourcePL:           true,
	SourceBeolink:      true,
	SourceDeezer:       true,
	SourceTidalConnect: true,
	SourceAirPlay:      true,
	SourceUSBIn:        true,
	SourceGenerator:    true,
}

// hiddenSources are internal or transport-level sources excluded from
// the projected source list.
var hiddenSources = map[string]bool{
	SourceAirPlay:    true,
	SourceBluetooth:  true,
	SourceChromeCast: true,
	SourceGenerator:  true,
	SourceLocal:      true,
	SourceDLNA:       true,
	SourceQPlay:      true,
	SourceWPL:        true,
	SourcePL:         true,
	SourceBeolink:    true,
	SourceUSBIn:      true,
}

// expandableSources are sources a leading device can share with
// Beolink listeners.
var expandableSources = map[string]bool{
	SourceLineIn:       true,
	SourceSPDIF:        true,
	SourceURIStreamer:  true,
	SourceNetRadio:     true,
	SourceDeezer:       true,
	SourceSpotify:      true,
	SourceTidalConnect: true,
}

// joinableSources are sources that may be named when joining a remote
// experience.
var joinableSources = map[string]bool{
	SourceNetRadio:     true,
	SourceDeezer:       true,
	SourceSpotify:      true,
	SourceTidalConnect: true,
	SourceURIStreamer:  true,
}

// IsKnownSource reports whether id is a recognised source.
func IsKnownSource(id string) bool {
	return knownSources[id]
}

// IsHiddenSource reports whether id is excluded from projection.
func IsHiddenSource(id string) bool {
	return hiddenSources[id]
}

// IsExpandableSource reports whether a device playing id may expand
// the session to listeners.
func IsExpandableSource(id string) bool {
	return expandableSources[id]
}

// IsJoinableSource reports whether id may be requested in a Join.
func IsJoinableSource(id string) bool {
	return joinableSources[id]
}
