// Package mozart bridges Bang & Olufsen Mozart-platform audio devices
// onto MQTT.
//
// Each managed device gets one persistent websocket notification
// stream. Frames are demultiplexed by type and flow through a small
// pipeline:
//
//	┌────────────┐ frames ┌────────────┐ button  ┌──────────────────┐
//	│ Stream     │───────►│ Dispatcher │────────►│ ButtonClassifier │──┐
//	│ (ws.go)    │        │            │ wheel   ├──────────────────┤  │ events
//	└────────────┘        │            │────────►│ WheelDebouncer   │──┤
//	      │ availability  │            │ state   ├──────────────────┤  ▼
//	      ▼               │            │────────►│ state projection │ MQTT
//	   MQTT retained      │            │ beolink ├──────────────────┤  ▲
//	                      │            │────────►│ Coordinator      │──┘
//	                      └────────────┘         └──────────────────┘
//
// The Stream owns reconnection with exponential backoff and broadcasts
// availability exactly once per transition. The ButtonClassifier turns
// raw press/release notifications into short/long/very-long press
// events with cancellable escalation timers. The WheelDebouncer
// settles bursts of rotary detents into single rotation events. The
// Coordinator tracks the device's Beolink session role (standalone,
// leading, listening) from authoritative device notifications and
// executes join/expand/unexpand/leave/allStandby plus leader-targeted
// commands via the device REST API.
//
// Commands arrive on beobridge/command/mozart/{jid} and are
// acknowledged on beobridge/ack/mozart/{jid}. Classified events
// publish to beobridge/event/mozart/{jid}/{control}; projected state
// and availability publish retained.
package mozart
