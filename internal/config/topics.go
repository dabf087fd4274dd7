package config

const (
	// TopicIndexStep carries one "run a step for this job" request per message.
	TopicIndexStep = "index.step"

	// ChannelIndexWorker is the channel every step worker shares, so each
	// message is delivered to exactly one of them.
	ChannelIndexWorker = "indexer"
)
