package harness

import "time"

func newTimer() *timer {
	t := &timer{}
	t.Start()
	return t
}

type timer struct {
	start time.Time
	end   *time.Time
}

func (t *timer) Start() {
	t.start = time.Now()
	t.end = nil
}

// Elapsed returns how long the timer has been running without stopping it.
func (t *timer) Elapsed() time.Duration {
	if t.end != nil {
		return t.end.Sub(t.start)
	}
	return time.Since(t.start)
}

func (t *timer) Stop() time.Time {
	if t.end == nil {
		now := time.Now()
		t.end = &now
	}
	return *t.end
}

func (t *timer) Duration() time.Duration {
	return t.Stop().Sub(t.start)
}
