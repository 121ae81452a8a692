package feature

// Streamer extracts features incrementally from chunked audio. Samples
// that do not yet fill a complete frame stay buffered, so pushing a
// waveform in arbitrary chunk sizes yields exactly the frames a
// one-shot Extract of the whole waveform would yield. Not safe for
// concurrent use.
type Streamer struct {
	e   *Extractor
	buf []float32
}

// NewStreamer returns a Streamer over this extractor's configuration.
func (e *Extractor) NewStreamer() *Streamer {
	return &Streamer{e: e}
}

// Push appends samples and returns the feature matrix for every frame
// that is now complete, or nil when no frame completed.
func (s *Streamer) Push(samples []float32) (*Matrix, error) {
	s.buf = append(s.buf, samples...)
	frames := s.e.Frames(len(s.buf))
	if frames == 0 {
		return nil, nil
	}
	m, err := s.e.Extract(s.buf)
	if err != nil {
		return nil, err
	}
	consumed := frames * s.e.cfg.HopSize
	s.buf = append(s.buf[:0], s.buf[consumed:]...)
	return m, nil
}

// PushInt16 is Push for raw 16-bit samples.
func (s *Streamer) PushInt16(samples []int16) (*Matrix, error) {
	pcm := make([]float32, len(samples))
	for i, v := range samples {
		pcm[i] = float32(v)
	}
	return s.Push(pcm)
}

// Pending returns how many samples are buffered awaiting a complete
// frame. These samples are dropped by Reset, exactly as a one-shot
// extraction drops a trailing partial window.
func (s *Streamer) Pending() int { return len(s.buf) }

// Reset discards buffered samples so the next Push starts a fresh
// utterance.
func (s *Streamer) Reset() {
	s.buf = s.buf[:0]
}
