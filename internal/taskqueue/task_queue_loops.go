package taskqueue

// runLoop is the single consumer. It sleeps until woken by a producer and
// drains whatever is left once the queue is stopped.
func (q *Queue) runLoop() {
	defer q.wg.Done()

	for {
		q.drain()
		select {
		case <-q.wake:
		case <-q.ctx.Done():
			q.drain()
			return
		}
	}
}
