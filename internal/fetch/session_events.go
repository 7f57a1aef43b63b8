package fetch

// fillPipeline issues requests until the pipeline is full or nothing is
// eligible. A sequence number is eligible only within pipeline capacity of
// the high-water mark, so buffered out-of-order arrivals do not open room.
func (s *Session) fillPipeline() {
	if !s.active || s.timedWait || s.finished {
		return
	}

	for len(s.win.outstanding) < s.cc.pipeline {
		seq, retransmit, ok := s.win.candidate(s.win.highWater + int64(s.cc.pipeline))
		if !ok {
			break
		}
		s.win.markSent(seq, s.clock(), retransmit)
		s.send(seq, retransmit)
	}
}

func (s *Session) send(seq int64, retransmit bool) {
	req := Request{
		Producer:       s.producer,
		Stream:         s.stream,
		Seq:            seq,
		ForwardingHint: s.hint,
		Lifetime:       s.cc.rto,
	}
	s.observer.RequestSent(s.producer, s.stream, retransmit)
	if retransmit {
		s.logger.Debug("Resending request", "seq", seq, "lifetime", req.Lifetime)
	}

	s.transport.Send(req,
		func(payload []byte) {
			s.exec.Execute(func() { s.handleData(seq, payload) })
		},
		func() {
			s.exec.Execute(func() { s.handleTimeout(seq) })
		},
	)
}

// handleData processes a response for seq.
func (s *Session) handleData(seq int64, payload []byte) {
	if s.finished {
		s.observer.DuplicateDropped(s.producer, s.stream)
		return
	}
	req, fresh, ok := s.win.accept(seq)
	if !ok {
		s.logger.Debug("Dropping unexpected or duplicate response", "seq", seq)
		s.observer.DuplicateDropped(s.producer, s.stream)
		return
	}

	if s.callbacks.OnSegment != nil {
		s.callbacks.OnSegment(s.producer, s.stream, seq, payload)
	}
	s.observer.SegmentDelivered(s.producer, s.stream, len(payload))

	now := s.clock()
	s.lastActivity = now
	s.failures = 0
	s.cc.onSuccess(now.Sub(req.sentAt), fresh && !req.retransmit)
	if s.active {
		s.observer.WindowChanged(s.producer, s.stream, s.cc.pipeline, s.cc.rto)
	}

	if s.win.complete() {
		s.finish()
		return
	}
	s.fillPipeline()
}

// handleTimeout processes a timeout for seq.
func (s *Session) handleTimeout(seq int64) {
	if !s.win.expire(seq) {
		return
	}
	s.observer.RequestTimedOut(s.producer, s.stream)
	s.cc.onTimeout()
	if s.active {
		s.observer.WindowChanged(s.producer, s.stream, s.cc.pipeline, s.cc.rto)
	}
	s.logger.Debug("Request timed out",
		"seq", seq,
		"pipeline", s.cc.pipeline,
		"threshold", s.cc.threshold,
		"rto", s.cc.rto,
	)

	if !s.active {
		return
	}
	if idle := s.clock().Sub(s.lastActivity); idle > s.inactivity {
		s.logger.Info("No data received within inactivity timeout",
			"idle", idle,
			"inactivity_timeout", s.inactivity,
			"high_water", s.win.highWater,
		)
		s.fail()
		return
	}
	s.fillPipeline()
}

// fail deactivates the session and schedules a retry for the owner to honor.
func (s *Session) fail() {
	s.active = false
	s.timedWait = true
	s.failures++

	pause := s.policy.CalculateDelay(s.failures - 1)
	s.retry.Schedule(pause, s.clock())

	s.logger.Warn("Fetch failed, backing off",
		"consecutive_failures", s.failures,
		"retry_pause", pause,
		"outstanding", len(s.win.outstanding),
	)
	s.observer.SessionFailed(s.producer, s.stream)
	if s.callbacks.OnFailed != nil {
		s.callbacks.OnFailed(s.id)
	}
}

// restart re-activates the session. The sequence window is kept; the
// congestion controller starts over.
func (s *Session) restart() {
	if s.finished {
		return
	}
	if !s.active {
		s.active = true
		s.timedWait = false
		s.cc.reset()
		s.lastActivity = s.clock()
		s.logger.Info("Fetch pipeline started",
			"high_water", s.win.highWater,
			"next_seq", s.win.next,
			"outstanding", len(s.win.outstanding),
		)
		s.observer.SessionRestarted(s.producer, s.stream)
		s.observer.WindowChanged(s.producer, s.stream, s.cc.pipeline, s.cc.rto)
	}
	s.fillPipeline()
}

func (s *Session) finish() {
	s.finished = true
	s.active = false
	s.timedWait = false

	s.logger.Info("Fetch finished", "high_water", s.win.highWater)
	s.observer.StreamFinished(s.producer, s.stream)
	if s.callbacks.OnFinish != nil {
		s.callbacks.OnFinish(s.producer, s.stream)
	}
	if s.callbacks.OnComplete != nil {
		s.callbacks.OnComplete(s.id, s.producer, s.stream)
	}
}
