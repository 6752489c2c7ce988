package domain

import "encoding/json"

// Frame is the JSON envelope exchanged on the client duplex channel.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// InboundFrame is a client message whose payload is decoded per type.
type InboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client to server message types.
const (
	MsgConnect              = "connect"
	MsgCommand              = "command"
	MsgResize               = "resize"
	MsgClose                = "close"
	MsgSubscribeContainer   = "subscribe_container"
	MsgUnsubscribeContainer = "unsubscribe_container"
	MsgGetMetrics           = "get_metrics"
)

// Server to client message and event types.
const (
	MsgConnected    = "connected"
	MsgCommandSent  = "command_sent"
	MsgResized      = "resized"
	MsgError        = "error"
	MsgSubscribed   = "subscribed"
	MsgUnsubscribed = "unsubscribed"
	MsgMetrics      = "metrics"

	EventStatus                 = "status"
	EventSystemStatus           = "system_status"
	EventSystemMetricsUpdate    = "system_metrics_update"
	EventContainerMetricsUpdate = "container_metrics_update"
	EventNotification           = "notification"
)

// TopicSystem is the global topic every connection joins.
const TopicSystem = "system"

// ContainerTopic names the per-container topic.
func ContainerTopic(containerID string) string {
	return "container:" + containerID
}

func ErrorFrame(message string) Frame {
	return Frame{Type: MsgError, Data: map[string]string{"message": message}}
}
