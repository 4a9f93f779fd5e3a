// Package mqtt provides the MQTT projection surface for beobridge.
//
// It wraps eclipse/paho.mqtt.golang with:
//   - Connection management with auto-reconnect and LWT
//   - Subscription tracking and restoration on reconnect
//   - Panic-safe message handlers
//   - Topic builders for the beobridge topic scheme
//
// Topic scheme (JIDs contain no slashes):
//
//	beobridge/event/mozart/{jid}/{control}   semantic input events (QoS 1)
//	beobridge/state/mozart/{jid}             device state (QoS 1, retained)
//	beobridge/availability/mozart/{jid}      online/offline (QoS 1, retained)
//	beobridge/command/mozart/{jid}           commands in (QoS 1)
//	beobridge/ack/mozart/{jid}               command acks (QoS 1)
//	beobridge/health                         bridge health (QoS 1, retained)
//	beobridge/system/status                  bridge LWT / lifecycle status
package mqtt
