package fetch

import "time"

// Observer receives session events for instrumentation.
// Methods are called from the session's executor and must not block.
type Observer interface {
	RequestSent(producer, stream Name, retransmit bool)
	SegmentDelivered(producer, stream Name, size int)
	DuplicateDropped(producer, stream Name)
	RequestTimedOut(producer, stream Name)
	WindowChanged(producer, stream Name, pipeline int, rto time.Duration)
	SessionFailed(producer, stream Name)
	SessionRestarted(producer, stream Name)
	StreamFinished(producer, stream Name)
	// SessionClosed reports a session stopped before its stream finished
	SessionClosed(producer, stream Name)
}

type nopObserver struct{}

func (nopObserver) RequestSent(Name, Name, bool) {}
func (nopObserver) SegmentDelivered(Name, Name, int) {}
func (nopObserver) DuplicateDropped(Name, Name) {}
func (nopObserver) RequestTimedOut(Name, Name) {}
func (nopObserver) WindowChanged(Name, Name, int, time.Duration) {}
func (nopObserver) SessionFailed(Name, Name) {}
func (nopObserver) SessionRestarted(Name, Name) {}
func (nopObserver) StreamFinished(Name, Name) {}
func (nopObserver) SessionClosed(Name, Name) {}
