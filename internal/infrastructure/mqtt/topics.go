package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "nest"

// Topics builds thermostatd topic names under a common prefix.
//
//	topics := mqtt.NewTopics("nest")
//	topics.Object("02AA01AC", "shared.02AA01AC")
//	// Returns: "nest/02AA01AC/object/shared.02AA01AC"
type Topics struct {
	prefix string
}

// NewTopics returns a builder rooted at prefix. Leading and trailing
// slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root every topic is built under.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// Object returns the retained topic for a single device object.
//
// Example: nest/02AA01AC/object/device.02AA01AC
func (t Topics) Object(serial, key string) string {
	return fmt.Sprintf("%s/%s/object/%s", t.Prefix(), serial, key)
}

// Owner returns the retained topic carrying a device's current owner.
//
// Example: nest/02AA01AC/owner
func (t Topics) Owner(serial string) string {
	return fmt.Sprintf("%s/%s/owner", t.Prefix(), serial)
}

// Shares returns the retained topic carrying the list of users a device is
// shared with.
//
// Example: nest/02AA01AC/shares
func (t Topics) Shares(serial string) string {
	return fmt.Sprintf("%s/%s/shares", t.Prefix(), serial)
}

// Availability returns the retained topic carrying a device's online state.
//
// Example: nest/02AA01AC/availability
func (t Topics) Availability(serial string) string {
	return fmt.Sprintf("%s/%s/availability", t.Prefix(), serial)
}

// SystemStatus returns the thermostatd status topic used for the LWT.
//
// Example: nest/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.Prefix())
}

// AllObjects returns a pattern matching every object topic of every device.
//
// Pattern: nest/+/object/#
func (t Topics) AllObjects() string {
	return fmt.Sprintf("%s/+/object/#", t.Prefix())
}

// validTopic reports whether topic is publishable: non-empty and free of
// the subscription wildcards.
func validTopic(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, "+#")
}
