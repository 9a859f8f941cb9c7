package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotSubscribe reports a frame that is not a subscribe request.
	ErrNotSubscribe = errors.New("not a subscribe request")
	// ErrInvalidTopic reports a subscribe request with an unusable topic name.
	ErrInvalidTopic = errors.New("invalid topic")
)

// ParseSubscribe extracts the topic from a subscribe frame.
// Frames that are not JSON objects with a string "subscribe" field return ErrNotSubscribe.
func ParseSubscribe(data []byte) (string, error) {
	var req SubscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return "", ErrNotSubscribe
	}
	if req.Subscribe == nil {
		return "", ErrNotSubscribe
	}
	return ValidateTopic(*req.Subscribe)
}

// ValidateTopic trims and checks a topic name.
func ValidateTopic(topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if len(topic) > MaxTopicLen {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidTopic, MaxTopicLen)
	}
	return topic, nil
}

// EncodeSubscribe builds a subscribe frame.
func EncodeSubscribe(topic string) []byte {
	b, _ := json.Marshal(SubscribeRequest{Subscribe: &topic})
	return b
}

// EncodeAck builds the {"ok":true} frame.
func EncodeAck() []byte {
	return []byte(`{"ok":true}`)
}

// EncodeError builds an {"error":reason} frame.
func EncodeError(reason string) []byte {
	b, _ := json.Marshal(ErrorReply{Error: reason})
	return b
}
