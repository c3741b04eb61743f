package consts

import "time"

// Buffer sizes for various operations
const (
	// BufferSize1KB is 1 kilobyte
	BufferSize1KB = 1024
	// BufferSize4KB is 4 kilobytes
	BufferSize4KB = 4 * 1024
	// BufferSize64KB is 64 kilobytes
	BufferSize64KB = 64 * 1024
)

// Protocol limits
const (
	// MaxFrameSize is the largest frame accepted from a peer, delimiter included
	MaxFrameSize = BufferSize64KB
	// MaxMessageContent is the largest chat message body accepted
	MaxMessageContent = BufferSize4KB
	// DefaultHistoryLimit is the number of messages replayed on join
	DefaultHistoryLimit = 20
	// SendBufferSize is the outbound frame queue per connection
	SendBufferSize = 256
)

// Connection and worker limits
const (
	// DefaultMaxConnections is the default cap on concurrent client connections
	DefaultMaxConnections = 100
	// DefaultAuthQueueSize bounds pending login requests waiting for the auth worker
	DefaultAuthQueueSize = 64
	// DefaultMessagesPerSecond is the default per-connection frame rate
	DefaultMessagesPerSecond = 10
	// DefaultRateBurst is the default per-connection burst
	DefaultRateBurst = 20
)

// Timeouts for various operations
const (
	// Timeout1Second is a 1 second timeout
	Timeout1Second = 1 * time.Second
	// Timeout2Seconds is a 2 second timeout
	Timeout2Seconds = 2 * time.Second
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout10Seconds is a 10 second timeout
	Timeout10Seconds = 10 * time.Second
	// Timeout30Seconds is a 30 second timeout
	Timeout30Seconds = 30 * time.Second
)

// Health monitoring
const (
	// HealthErrorWindow is how long a recorded error degrades an actor's health
	HealthErrorWindow = 5 * time.Minute
	// HealthMailboxThreshold is the mailbox usage percentage considered congested
	HealthMailboxThreshold = 90
)

// Connection keepalive
const (
	// WriteWait bounds a single frame write to a peer
	WriteWait = Timeout10Seconds
	// PongWait is how long a WebSocket peer may stay silent
	PongWait = 60 * time.Second
	// PingPeriod is how often WebSocket peers are pinged; must be below PongWait
	PingPeriod = 54 * time.Second
)
