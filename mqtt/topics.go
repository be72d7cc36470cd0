package mqtt

import "strings"

// StatusSuffix is the last segment of the device presence topics
const StatusSuffix = "status"

// IsStatusTopic reports whether topic is a presence channel, e.g.
// iot/env/room1/reading/status
func IsStatusTopic(topic string) bool {
	return strings.HasSuffix(strings.TrimSpace(topic), "/"+StatusSuffix)
}
