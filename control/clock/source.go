package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Source is anything that can tell the render loop what time it is.
type Source interface {
	Now() (hour, minute int)
}

// System reads the kernel clock, which chronyd keeps in sync with the network.
type System struct {
	Location *time.Location
	clock    func() time.Time
}

func (s *System) now() time.Time {
	t := time.Now()
	if s.clock != nil {
		t = s.clock()
	}
	if s.Location != nil {
		t = t.In(s.Location)
	}
	return t
}

// Now implements Source.
func (s *System) Now() (int, int) {
	h, m, _ := s.now().Clock()
	return h, m
}

// Simulated is a clock that runs sixty times faster than real time, so that someone looking at a
// clock without a network connection can see that it's alive.
type Simulated struct {
	mu    sync.Mutex
	start time.Time // real time when the simulation was last seeded
	at    int       // simulated minutes since midnight at start
	clock func() time.Time
}

// NewSimulated returns a simulated clock showing hour:minute.
func NewSimulated(hour, minute int) *Simulated {
	s := &Simulated{}
	s.Set(hour, minute)
	return s
}

func (s *Simulated) realNow() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}

// Set restarts the simulation at hour:minute.
func (s *Simulated) Set(hour, minute int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = s.realNow()
	s.at = hour*60 + minute
}

// Now implements Source.  Every real second advances the simulated time by one minute.
func (s *Simulated) Now() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := int(s.realNow().Sub(s.start) / time.Second)
	m := (s.at + elapsed) % (24 * 60)
	return m / 60, m % 60
}

// Switch shows real time while the network clock is synchronized, and simulated time otherwise.
// The simulation is kept seeded from the last real time seen, so losing sync doesn't make the clock
// jump.
type Switch struct {
	Real      Source
	Simulated *Simulated

	synced atomic.Bool
}

// NewSwitch returns a switch that starts unsynchronized, showing simulated time from noon.
func NewSwitch(wall Source) *Switch {
	return &Switch{Real: wall, Simulated: NewSimulated(12, 0)}
}

// SetSynced records whether the real clock can be trusted.
func (s *Switch) SetSynced(synced bool) {
	if was := s.synced.Swap(synced); was != synced && synced {
		h, m := s.Real.Now()
		s.Simulated.Set(h, m)
	}
}

// Synced reports whether the switch is currently showing real time.
func (s *Switch) Synced() bool { return s.synced.Load() }

// Now implements Source.
func (s *Switch) Now() (int, int) {
	if !s.synced.Load() {
		return s.Simulated.Now()
	}
	h, m := s.Real.Now()
	s.Simulated.Set(h, m)
	return h, m
}
