package realtime

import "time"

// Transport limits and defaults for websocket sessions.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// DefaultRelayTopic receives client text sent after subscribing.
	DefaultRelayTopic = "echo"
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Flood guard window when FloodEvents enables it.
	floodWindow = 10 * time.Second
)
