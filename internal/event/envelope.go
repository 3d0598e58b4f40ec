package event

import (
	"encoding/json"
	"fmt"
)

// Kind identifies what a message envelope describes.
type Kind string

const (
	KindMessage Kind = "message"
	KindJoin    Kind = "join"
)

// Message is the platform-neutral envelope the shipped gateway adapters
// produce and the command handlers consume. The core pipeline never looks
// inside it; anything that round-trips through Event.Payload works.
type Message struct {
	Kind       Kind              `json:"kind"`
	Sender     string            `json:"sender"`
	SenderName string            `json:"sender_name,omitempty"`
	Text       string            `json:"text,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Reply is the outbound payload format written to the outbox by the
// shipped handlers and understood by the shipped senders.
type Reply struct {
	Text string `json:"text"`
}

// DecodeMessage parses an event payload into the neutral envelope.
func DecodeMessage(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("decoding message envelope: %w", err)
	}
	return m, nil
}

// EncodeMessage serializes an envelope for use as an event payload.
func EncodeMessage(m Message) []byte {
	b, _ := json.Marshal(m)
	return b
}

// EncodeReply serializes a text reply for the outbox.
func EncodeReply(text string) []byte {
	b, _ := json.Marshal(Reply{Text: text})
	return b
}

// DecodeReply parses an outbox payload produced by EncodeReply.
func DecodeReply(payload []byte) (Reply, error) {
	var r Reply
	if err := json.Unmarshal(payload, &r); err != nil {
		return Reply{}, fmt.Errorf("decoding reply payload: %w", err)
	}
	return r, nil
}
