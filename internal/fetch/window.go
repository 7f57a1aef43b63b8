package fetch

import (
	"slices"
	"time"
)

// pending is an issued request awaiting a response or timeout.
type pending struct {
	sentAt     time.Time
	retransmit bool
}

// window tracks which sequence numbers have been sent, are outstanding,
// arrived out of order, or timed out and wait to be sent again.
// A sequence number is in at most one of outstanding, lost, outOfOrder, or
// at or below highWater.
type window struct {
	min, max    int64
	next        int64
	highWater   int64
	outOfOrder  map[int64]struct{}
	outstanding map[int64]pending
	lost        []int64 // sorted ascending
}

func newWindow(minSeq, maxSeq int64) window {
	return window{
		min:         minSeq,
		max:         maxSeq,
		next:        minSeq,
		highWater:   minSeq - 1,
		outOfOrder:  make(map[int64]struct{}),
		outstanding: make(map[int64]pending),
	}
}

func (w *window) bounded() bool {
	return w.max != Unbounded
}

// last is the largest sequence number the window may issue
func (w *window) last() int64 {
	if w.bounded() {
		return w.max
	}
	return MaxSequence
}

func (w *window) inRange(seq int64) bool {
	return seq >= w.min && (!w.bounded() || seq <= w.max)
}

// candidate returns the smallest sequence number eligible to be sent that does
// not exceed limit. Timed-out sequence numbers come before the cursor.
func (w *window) candidate(limit int64) (seq int64, retransmit bool, ok bool) {
	if len(w.lost) > 0 {
		seq = w.lost[0]
		return seq, true, seq <= limit
	}
	if w.next > w.last() {
		return 0, false, false
	}
	return w.next, false, w.next <= limit
}

// markSent records seq as outstanding.
func (w *window) markSent(seq int64, now time.Time, retransmit bool) {
	if retransmit {
		if i, found := slices.BinarySearch(w.lost, seq); found {
			w.lost = slices.Delete(w.lost, i, i+1)
		}
	} else if seq == w.next {
		w.next++
	}
	w.outstanding[seq] = pending{sentAt: now, retransmit: retransmit}
}

// accept records the arrival of seq. It reports false when seq is out of
// range, was never requested, or was already delivered. fresh is true when
// the request was still outstanding.
func (w *window) accept(seq int64) (req pending, fresh bool, ok bool) {
	if !w.inRange(seq) || seq >= w.next || seq <= w.highWater {
		return pending{}, false, false
	}
	if _, dup := w.outOfOrder[seq]; dup {
		return pending{}, false, false
	}

	if req, fresh = w.outstanding[seq]; fresh {
		delete(w.outstanding, seq)
	} else if i, found := slices.BinarySearch(w.lost, seq); found {
		w.lost = slices.Delete(w.lost, i, i+1)
	}

	if seq == w.highWater+1 {
		w.highWater = seq
		for {
			if _, buffered := w.outOfOrder[w.highWater+1]; !buffered {
				break
			}
			delete(w.outOfOrder, w.highWater+1)
			w.highWater++
		}
	} else {
		w.outOfOrder[seq] = struct{}{}
	}
	return req, fresh, true
}

// expire moves an outstanding seq to the lost list.
func (w *window) expire(seq int64) bool {
	if _, ok := w.outstanding[seq]; !ok {
		return false
	}
	delete(w.outstanding, seq)
	i, _ := slices.BinarySearch(w.lost, seq)
	w.lost = slices.Insert(w.lost, i, seq)
	return true
}

func (w *window) complete() bool {
	return w.bounded() && w.highWater == w.max
}
