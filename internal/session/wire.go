package session

// Wire method names exchanged with the voice gateway. Inbound methods
// carry device input and control commands; outbound methods carry the
// response stream.
const (
	// MethodASRResult delivers recognized speech for a device.
	MethodASRResult = "asr_result"

	// MethodDeviceMessage delivers a free-form message from a device.
	MethodDeviceMessage = "message_from_device"

	// MethodStartDevice and MethodStopDevice control session lifecycle.
	MethodStartDevice = "start_device"
	MethodStopDevice  = "stop_device"

	// MethodStreamStart opens a response stream for a task.
	MethodStreamStart = "tts_and_send_start"

	// MethodStreamChunk carries one response fragment.
	MethodStreamChunk = "tts_and_send"

	// MethodStreamFinish closes a response stream.
	MethodStreamFinish = "tts_and_send_finish"
)

// MessageKind classifies an inbound message for routing.
type MessageKind string

// Inbound message kinds.
const (
	KindASRResult     MessageKind = "asr_result"
	KindDeviceMessage MessageKind = "device_message"
	KindControl       MessageKind = "control"
)

// KindForMethod maps a conversational wire method to its message kind.
// Control methods are dispatched to the manager directly and do not
// route, so they report false here.
func KindForMethod(method string) (MessageKind, bool) {
	switch method {
	case MethodASRResult:
		return KindASRResult, true
	case MethodDeviceMessage:
		return KindDeviceMessage, true
	default:
		return "", false
	}
}

// InboundMessage is one routed unit of device input. Immutable; queued
// and consumed exactly once by the device's session.
type InboundMessage struct {
	DeviceID string
	Kind     MessageKind
	Text     string
}

// OutboundMessage is one response-stream message bound for the gateway.
// Text is set for chunks only.
type OutboundMessage struct {
	Method   string
	TaskID   string
	DeviceID string
	Text     string
}

// Sender delivers outbound stream messages to the gateway in call order.
// Implementations must be safe for concurrent use; sessions for
// different devices send through the same connection.
type Sender interface {
	Send(msg OutboundMessage) error
}
