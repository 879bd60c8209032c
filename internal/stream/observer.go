package stream

// Source tells where an emitted item came from.
type Source string

const (
	SourceHistorical Source = "historical"
	SourceGapFill    Source = "gap_fill"
	SourceLive       Source = "live"
)

// Observer receives notifications about the progress of a merge and of a live source.
// Implementations must be cheap; they run on the merge goroutine.
type Observer interface {
	Emitted(height uint64, src Source)
	DuplicateDropped(height uint64)
	GapDetected(from, to uint64)
	LiveMessage(kind string)
	LiveState(state State)
}

type nopObserver struct{}

func (nopObserver) Emitted(uint64, Source)     {}
func (nopObserver) DuplicateDropped(uint64)    {}
func (nopObserver) GapDetected(uint64, uint64) {}
func (nopObserver) LiveMessage(string)         {}
func (nopObserver) LiveState(State)            {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
