package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("restart guard is open")
	ErrTooManyRequests = errors.New("trial run already in progress")
)

// State represents the guard state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the guard behavior
type Settings struct {
	// MaxTrials is the number of healthy runs required in half-open state
	// before the guard closes again
	MaxTrials uint32
	// Interval is the cyclic period of the closed state to clear counts
	Interval time.Duration
	// Cooldown is how long the guard stays open before allowing a trial run
	Cooldown time.Duration
	// ReadyToTrip is called with counts after an unhealthy run in closed state
	ReadyToTrip func(counts Counts) bool
	// OnStateChange is called whenever the state changes
	OnStateChange func(name string, from State, to State)
}

// Counts holds run statistics
type Counts struct {
	Runs               uint32
	TotalHealthy       uint32
	TotalFaulted       uint32
	ConsecutiveHealthy uint32
	ConsecutiveFaulted uint32
}

// Guard gates restarts of a component that keeps faulting. Each run is
// admitted with Acquire and reported with Attempt.Finish once it ends.
type Guard struct {
	name     string
	settings Settings

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// Attempt is one admitted run
type Attempt struct {
	guard      *Guard
	generation uint64
	once       sync.Once
}

// New creates a guard with the given settings
func New(name string, settings Settings) *Guard {
	if settings.MaxTrials == 0 {
		settings.MaxTrials = 1
	}
	if settings.Interval == 0 {
		settings.Interval = 60 * time.Second
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFaulted >= 3
		}
	}

	return &Guard{
		name:     name,
		settings: settings,
		state:    StateClosed,
		expiry:   time.Now().Add(settings.Interval),
	}
}

// Name returns the name of the guard
func (g *Guard) Name() string {
	return g.name
}

// State returns the current state of the guard
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, _ := g.currentState(time.Now())
	return state
}

// Counts returns a copy of the internal counts
func (g *Guard) Counts() Counts {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.counts
}

// RetryAfter returns how long until an open guard admits a trial run
func (g *Guard) RetryAfter() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if state, _ := g.currentState(now); state != StateOpen {
		return 0
	}
	return g.expiry.Sub(now)
}

// Acquire admits a run. It fails with ErrCircuitOpen during cooldown and
// with ErrTooManyRequests while half-open trials are still running.
func (g *Guard) Acquire() (*Attempt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, generation := g.currentState(time.Now())
	if state == StateOpen {
		return nil, ErrCircuitOpen
	}
	if state == StateHalfOpen && g.counts.Runs >= g.settings.MaxTrials {
		return nil, ErrTooManyRequests
	}

	g.counts.Runs++
	return &Attempt{guard: g, generation: generation}, nil
}

// Finish reports how the run ended. Only the first call counts.
func (a *Attempt) Finish(healthy bool) {
	a.once.Do(func() {
		a.guard.afterRun(a.generation, healthy)
	})
}

func (g *Guard) afterRun(before uint64, healthy bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	state, generation := g.currentState(now)
	if generation != before {
		return
	}

	if healthy {
		g.onHealthy(state, now)
	} else {
		g.onFaulted(state, now)
	}
}

func (g *Guard) onHealthy(state State, now time.Time) {
	switch state {
	case StateClosed:
		g.counts.TotalHealthy++
		g.counts.ConsecutiveHealthy++
		g.counts.ConsecutiveFaulted = 0
	case StateHalfOpen:
		g.counts.TotalHealthy++
		g.counts.ConsecutiveHealthy++
		g.counts.ConsecutiveFaulted = 0
		if g.counts.ConsecutiveHealthy >= g.settings.MaxTrials {
			g.setState(StateClosed, now)
		}
	}
}

func (g *Guard) onFaulted(state State, now time.Time) {
	switch state {
	case StateClosed:
		g.counts.TotalFaulted++
		g.counts.ConsecutiveFaulted++
		g.counts.ConsecutiveHealthy = 0
		if g.settings.ReadyToTrip(g.counts) {
			g.setState(StateOpen, now)
		}
	case StateHalfOpen:
		g.setState(StateOpen, now)
	}
}

// currentState returns the current state and generation
func (g *Guard) currentState(now time.Time) (State, uint64) {
	switch g.state {
	case StateClosed:
		if !g.expiry.IsZero() && g.expiry.Before(now) {
			g.resetCounts()
			g.expiry = now.Add(g.settings.Interval)
		}
	case StateOpen:
		if g.expiry.Before(now) {
			g.setState(StateHalfOpen, now)
		}
	}

	return g.state, uint64(g.expiry.UnixNano())
}

func (g *Guard) setState(state State, now time.Time) {
	if g.state == state {
		return
	}

	prev := g.state
	g.state = state

	g.resetCounts()

	switch state {
	case StateClosed:
		g.expiry = now.Add(g.settings.Interval)
	case StateOpen:
		g.expiry = now.Add(g.settings.Cooldown)
	case StateHalfOpen:
		g.expiry = time.Time{}
	}

	if g.settings.OnStateChange != nil {
		g.settings.OnStateChange(g.name, prev, state)
	}
}

func (g *Guard) resetCounts() {
	g.counts = Counts{}
}
