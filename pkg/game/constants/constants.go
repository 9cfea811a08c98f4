package constants

import "time"

const (
	// OnlineWindow is how recently a player must have been updated to be
	// reported as online
	OnlineWindow time.Duration = 30 * time.Second
	// InactiveThreshold is how long a player can go without an update
	// before the presence sweep marks it offline
	InactiveThreshold time.Duration = 60 * time.Second
	// PresenceSweepInterval is how often the presence sweep runs
	PresenceSweepInterval time.Duration = 5 * time.Second
	// TelemetryInterval is how often the presence worker logs state counts
	TelemetryInterval time.Duration = 30 * time.Second

	// BattleGracePeriod is how long a completed battle stays queryable
	BattleGracePeriod time.Duration = 5 * time.Minute

	// PollInterval is how often poll clients fetch the full game state
	PollInterval time.Duration = 2 * time.Second
	// PollMaxBackoff caps the delay between failed polls
	PollMaxBackoff time.Duration = 30 * time.Second

	// ReconnectDelay is the initial delay before a push client reconnects
	ReconnectDelay time.Duration = 1 * time.Second
	// ReconnectMaxDelay caps the delay between push client reconnects
	ReconnectMaxDelay time.Duration = 30 * time.Second

	// PongWait is how long a push connection may stay silent before it is closed
	PongWait time.Duration = 60 * time.Second
	// PingPeriod is how often the server pings push connections. Must be less than PongWait
	PingPeriod time.Duration = (PongWait * 9) / 10
	// WriteWait is the deadline for a single write to a push connection
	WriteWait time.Duration = 10 * time.Second

	// MessageRateLimit is the number of messages per second a push connection may send
	MessageRateLimit float64 = 10
	// MessageRateBurst is the burst allowance on top of MessageRateLimit
	MessageRateBurst int = 10
	// SendBufferSize is the number of frames buffered per push connection
	SendBufferSize int = 256
	// MaxMessageSize is the largest frame accepted from a push client
	MaxMessageSize int64 = 64 * 1024
)
