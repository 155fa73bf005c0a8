package state

import "time"

// Shared Redis naming. Every relay process (listener or worker) must agree on
// these, so they live here rather than in the packages that use them.
const (
	// StreamJobs is the forwarding job stream.
	StreamJobs = "forwarding:jobs"
	// GroupWorkers is the consumer group workers read jobs through.
	GroupWorkers = "workers"

	// ClaimTTL bounds how long a FCFS claim suppresses duplicates.
	ClaimTTL = 5 * time.Minute
	// MapTTL bounds source-to-target message and thread-parent mappings.
	MapTTL = 7 * 24 * time.Hour
	// StreamMaxLen caps the job stream length (approximate trim).
	StreamMaxLen = 10000
)

// ClaimMsgKey is the FCFS claim key for a new message.
func ClaimMsgKey(channelID, identifier string) string {
	return "fcfs:msg:" + channelID + ":" + identifier
}

// ClaimEditKey is the FCFS claim key for a message edit.
func ClaimEditKey(channelID, identifier string) string {
	return "fcfs:edit:" + channelID + ":" + identifier
}

// MsgMapKey maps a source message to the ts it was forwarded as.
func MsgMapKey(channelID, ts string) string {
	return "map:msg:" + channelID + ":" + ts
}

// ParentMapKey maps a source thread parent to its synthesized copy in the
// target channel.
func ParentMapKey(channelID, parentTS string) string {
	return "map:parent:" + channelID + ":" + parentTS
}
