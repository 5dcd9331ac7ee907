package pipeline

// ProducerState is the lifecycle of the producer.
//
//	Running -> Draining -> Done
//	Running -> Failed
type ProducerState int

const (
	ProducerRunning ProducerState = iota
	ProducerDraining
	ProducerDone
	ProducerFailed
)

func (s ProducerState) String() string {
	switch s {
	case ProducerRunning:
		return "running"
	case ProducerDraining:
		return "draining"
	case ProducerDone:
		return "done"
	case ProducerFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConsumerState is the lifecycle of a consumer: Active -> Done.
type ConsumerState int

const (
	ConsumerActive ConsumerState = iota
	ConsumerDone
)

func (s ConsumerState) String() string {
	switch s {
	case ConsumerActive:
		return "active"
	case ConsumerDone:
		return "done"
	default:
		return "unknown"
	}
}
