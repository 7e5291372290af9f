package tagdetect

import (
	"image"
	"sync"
)

// ScriptedResult is one queued Detect outcome for the Scripted detector.
type ScriptedResult struct {
	Detections []Detection
	Err        error

	// PoseErr, when set, is returned only for passes that request pose
	// estimation; a 2D-only pass on the same step succeeds with
	// Detections. This models a solver that fails while plain detection
	// still works.
	PoseErr error
}

// Scripted is a Detector fed from a queue of results, with call recording.
// The queue's last entry repeats once drained.
type Scripted struct {
	mu      sync.Mutex
	queue   []ScriptedResult
	calls   []Options
	closed  bool
	gotGray []*image.Gray
}

// NewScripted creates a Scripted detector with the given result queue.
func NewScripted(results ...ScriptedResult) *Scripted {
	return &Scripted{queue: results}
}

// Detect pops the next scripted result.
func (s *Scripted) Detect(gray *image.Gray, opts Options) ([]Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, opts)
	s.gotGray = append(s.gotGray, gray)

	if len(s.queue) == 0 {
		return nil, nil
	}
	res := s.queue[0]
	if len(s.queue) > 1 {
		s.queue = s.queue[1:]
	}

	if res.PoseErr != nil && opts.EstimatePose {
		return nil, res.PoseErr
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Detections, nil
}

// Push appends a result to the queue.
func (s *Scripted) Push(res ScriptedResult) {
	s.mu.Lock()
	s.queue = append(s.queue, res)
	s.mu.Unlock()
}

// Calls returns the Options of every Detect call so far.
func (s *Scripted) Calls() []Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Options, len(s.calls))
	copy(out, s.calls)
	return out
}

// Close marks the detector closed.
func (s *Scripted) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
