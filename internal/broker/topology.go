package broker

// QueueDescriptor describes a queue to declare. Declaring a queue that
// already exists with the same properties is a no-op; any mismatch fails.
type QueueDescriptor struct {
	Name    string
	Durable bool

	// DeadLetterQueue, when set, is declared alongside Name and receives
	// messages the consumer gives up on.
	DeadLetterQueue string
}

// Topology decides how published messages reach queues.
//
// With no Exchange every message goes through the default exchange straight
// to the named queue, and consumers of that queue compete for messages. With
// an Exchange each queue is bound with RoutingKey, so every bound queue
// receives its own copy.
type Topology struct {
	Exchange     string
	ExchangeType string
	RoutingKey   string
}

// Route returns the exchange and routing key a message for queue is
// published with.
func (t Topology) Route(queue string) (exchange, key string) {
	if t.Exchange == "" {
		return "", queue
	}
	return t.Exchange, t.RoutingKey
}

func (t Topology) kind() string {
	if t.ExchangeType == "" {
		return OrderEventsExchangeType
	}
	return t.ExchangeType
}

// DurableQueue returns the descriptor every role declares for name.
func DurableQueue(name, deadLetterQueue string) QueueDescriptor {
	return QueueDescriptor{Name: name, Durable: true, DeadLetterQueue: deadLetterQueue}
}
