package mqtt

import "fmt"

// TopicPrefix is the root of every device topic.
const TopicPrefix = "devices"

// Topics builds the topics of one device.
//
//	topics := mqtt.Topics{DeviceID: "device_0070"}
//	topics.Heartbeat() // "devices/device_0070/heartbeat"
type Topics struct {
	DeviceID string
}

// Heartbeat is where the periodic heartbeat is published.
func (t Topics) Heartbeat() string {
	return fmt.Sprintf("%s/%s/heartbeat", TopicPrefix, t.DeviceID)
}

// Status carries the retained online/offline state and the Last Will.
func (t Topics) Status() string {
	return fmt.Sprintf("%s/%s/status", TopicPrefix, t.DeviceID)
}
