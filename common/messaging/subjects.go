package messaging

// Channel names on the broadcast bus.
const (
	// ChannelResults carries job-change events from the processing pipeline.
	ChannelResults = "RAPD_RESULTS"
)

// CommandEcho marks a heartbeat payload on ChannelResults.
const CommandEcho = "ECHO"

// Broker backends.
const (
	BackendRedis = "redis"
	BackendNATS  = "nats"
)
