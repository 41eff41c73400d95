package session

import "encoding/json"

// Loading statuses published to the device channel over the course of a
// turn: processing before the Responder is invoked, waiting once at the
// first content fragment, complete at end of stream.
const (
	statusProcessing = "processing"
	statusWaiting    = "waiting"
	statusComplete   = "complete"
)

type noticePayload struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type deviceNotice struct {
	Type    string        `json:"type"`
	Payload noticePayload `json:"payload"`
}

// loadingNotice encodes the out-of-band loading message for the device
// channel.
func loadingNotice(status string) []byte {
	data, _ := json.Marshal(deviceNotice{
		Type:    "message",
		Payload: noticePayload{Type: "loading", Status: status},
	})
	return data
}
