package mqtt

import "fmt"

// Topic prefixes for the beobridge MQTT surface.
//
// All device topics use the flat scheme: beobridge/{category}/mozart/{jid}
// Beolink JIDs contain no slashes, so they are safe as a single topic level.
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "beobridge"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "beobridge/system"
)

// SystemStatusTopic returns the topic for bridge online/offline status.
// This is also the LWT topic.
//
// Example: beobridge/system/status
func SystemStatusTopic() string {
	return TopicPrefixSystem + "/status"
}

// Topics provides builders for beobridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("1234.1234567.12345678@products.bang-olufsen.com")
type Topics struct{}

// DeviceState returns the topic for device state updates.
//
// Example: beobridge/state/mozart/{jid}
func (Topics) DeviceState(jid string) string {
	return fmt.Sprintf("%s/state/mozart/%s", TopicPrefix, jid)
}

// DeviceEvent returns the topic for semantic input events from a device control.
//
// Example: beobridge/event/mozart/{jid}/PlayPause
func (Topics) DeviceEvent(jid, control string) string {
	return fmt.Sprintf("%s/event/mozart/%s/%s", TopicPrefix, jid, control)
}

// DeviceAvailability returns the topic for per-device availability.
//
// Example: beobridge/availability/mozart/{jid}
func (Topics) DeviceAvailability(jid string) string {
	return fmt.Sprintf("%s/availability/mozart/%s", TopicPrefix, jid)
}

// DeviceCommand returns the topic for commands to a device.
//
// Example: beobridge/command/mozart/{jid}
func (Topics) DeviceCommand(jid string) string {
	return fmt.Sprintf("%s/command/mozart/%s", TopicPrefix, jid)
}

// DeviceAck returns the topic for command acknowledgements.
//
// Example: beobridge/ack/mozart/{jid}
func (Topics) DeviceAck(jid string) string {
	return fmt.Sprintf("%s/ack/mozart/%s", TopicPrefix, jid)
}

// Health returns the topic for bridge health reports.
//
// Example: beobridge/health
func (Topics) Health() string {
	return TopicPrefix + "/health"
}

// CommandSubscribe returns the subscription pattern for all device commands.
//
// Example: beobridge/command/mozart/+
func (Topics) CommandSubscribe() string {
	return TopicPrefix + "/command/mozart/+"
}
