// Package v1 defines the pulse realtime control protocol v1.
//
// This package is intentionally stable and dependency-light.
// It is shared between the server and clients (see tools/wssmoke) to keep the
// wire format authoritative.
//
// The protocol is deliberately small:
//
//	client -> server (first frame):  {"subscribe":"<topic>"}
//	server -> client:                {"ok":true} | {"error":"<reason>"}
//	client -> server (afterwards):   arbitrary text, relayed to the relay topic
//	server -> client (afterwards):   raw topic payloads, one per frame
package v1

// Error reasons (wire-stable).
const (
	// ReasonExpectedSubscribe is returned for any first frame that is not a subscribe.
	ReasonExpectedSubscribe = "expected subscribe"
	// ReasonAlreadySubscribed is returned for a second subscribe on one session.
	ReasonAlreadySubscribed = "already subscribed"
	// ReasonTooManyRequests is returned when the ingress window is exceeded.
	ReasonTooManyRequests = "too many requests"
	// ReasonRateLimited answers a frame dropped by the per-connection flood guard.
	ReasonRateLimited = "rate limited"
)

// MaxTopicLen bounds topic names accepted from clients.
const MaxTopicLen = 256

// SubscribeRequest is the only control frame a client may send.
type SubscribeRequest struct {
	Subscribe *string `json:"subscribe"`
}

// Ack acknowledges a successful subscribe.
type Ack struct {
	OK bool `json:"ok"`
}

// ErrorReply reports a recoverable protocol problem; the connection stays open.
type ErrorReply struct {
	Error string `json:"error"`
}

// PublishResult is returned by the HTTP publish endpoint.
type PublishResult struct {
	Topic     string `json:"topic"`
	Delivered int    `json:"delivered"`
}
