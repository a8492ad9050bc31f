package inbox

import "time"

const (
	// Max bytes per websocket frame read.
	maxFrameBytes = 16 << 10

	// Max ids in one notification_seen frame.
	maxSeenIDs = 200

	// Max concurrent sessions per recipient.
	maxSessionsPerRecipient = 8
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (client frames per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
