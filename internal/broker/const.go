package broker

const (
	// OrderEventsExchangeType is used when the broadcast topology is enabled.
	OrderEventsExchangeType = "direct"

	// Headers stamped on dead-lettered copies.
	HeaderError         = "x-error"
	HeaderOriginalQueue = "x-original-queue"
	HeaderAttempts      = "x-attempts"
	HeaderFailedAt      = "x-failed-at"
)
