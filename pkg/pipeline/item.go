package pipeline

import "github.com/Sternrassler/fetch-pipeline/pkg/fetch"

// Kind discriminates queue items.
type Kind int

const (
	// KindResult carries a fetch result to persist.
	KindResult Kind = iota
	// KindTermination tells exactly one consumer to flush and stop.
	KindTermination
)

func (k Kind) String() string {
	switch k {
	case KindResult:
		return "result"
	case KindTermination:
		return "termination"
	default:
		return "unknown"
	}
}

// Reason records why the producer terminated the consumers.
type Reason int

const (
	// ReasonDone means the work list was exhausted.
	ReasonDone Reason = iota
	// ReasonAborted means the producer failed and stopped early.
	ReasonAborted
)

func (r Reason) String() string {
	switch r {
	case ReasonDone:
		return "done"
	case ReasonAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Item is an element of the pipeline queue: either a result or a
// termination marker.
type Item struct {
	Kind   Kind
	Result fetch.Result
	Reason Reason
}

// ResultItem wraps r as a queue item.
func ResultItem(r fetch.Result) Item {
	return Item{Kind: KindResult, Result: r}
}

// TerminationItem returns a termination marker.
func TerminationItem(reason Reason) Item {
	return Item{Kind: KindTermination, Reason: reason}
}
