// Package presence tracks which services are currently emitting events.
//
// The Tracker keeps an in-memory roster keyed by service, updated by the
// server for every accepted event. A background reaper marks services
// that have gone quiet as stale and eventually forgets them.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/traceql/internal/model"
)

// Entry is a snapshot of one service's activity.
type Entry struct {
	Service     string      `json:"service"`
	FirstSeen   time.Time   `json:"firstSeen"`
	LastSeen    time.Time   `json:"lastSeen"`
	LastLevel   model.Level `json:"lastLevel"`
	LastTraceID string      `json:"lastTraceId,omitempty"`
	IdleSecs    float64     `json:"idleSecs"`
	EventCount  int64       `json:"eventCount"`
	WarnCount   int64       `json:"warnCount"`
	ErrorCount  int64       `json:"errorCount"`
	Stale       bool        `json:"stale,omitempty"`
	StaleAt     *time.Time  `json:"staleAt,omitempty"`
}

// ReaperConfig configures the background stale-service reaper.
type ReaperConfig struct {
	// StaleAfter is how long a service must be silent before it is marked
	// stale. Default: 5 minutes.
	StaleAfter time.Duration

	// EvictAfter is how long a stale service is kept before it is removed
	// from the roster. Default: 30 minutes.
	EvictAfter time.Duration

	// SweepInterval is how often the reaper scans the roster.
	// Default: 30 seconds.
	SweepInterval time.Duration

	// OnStale is called for each service newly marked stale, outside the lock.
	OnStale func(service string, lastSeen time.Time)
}

// Tracker maintains the in-memory service roster.
type Tracker struct {
	mu       sync.RWMutex
	services map[string]*serviceState
	now      func() time.Time
	logger   *slog.Logger

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type serviceState struct {
	firstSeen   time.Time
	lastSeen    time.Time
	lastLevel   model.Level
	lastTraceID string
	eventCount  int64
	warnCount   int64
	errorCount  int64
	stale       bool
	staleAt     time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger used by the reaper.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New creates an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		services: make(map[string]*serviceState),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record updates the roster for an accepted event.
func (t *Tracker) Record(e *model.Event) {
	if e == nil || e.Service == "" {
		return
	}

	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.services[e.Service]
	if !ok {
		state = &serviceState{firstSeen: now}
		t.services[e.Service] = state
	}

	// A stale service that emits again is active once more.
	if state.stale {
		t.logger.Info("presence: service active again", "service", e.Service)
		state.stale = false
		state.staleAt = time.Time{}
	}

	state.lastSeen = now
	state.lastLevel = e.Level
	state.eventCount++
	switch e.Level {
	case model.LevelWarn:
		state.warnCount++
	case model.LevelError:
		state.errorCount++
	}
	if e.TraceID != nil && *e.TraceID != "" {
		state.lastTraceID = *e.TraceID
	}
}

// Roster returns every tracked service, most recently active first.
// Services silent for longer than activeWithin are left out; pass 0 to
// include every service still tracked.
func (t *Tracker) Roster(activeWithin time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	entries := make([]Entry, 0, len(t.services))
	for name, state := range t.services {
		idle := now.Sub(state.lastSeen)
		if activeWithin > 0 && idle > activeWithin {
			continue
		}
		entry := Entry{
			Service:     name,
			FirstSeen:   state.firstSeen,
			LastSeen:    state.lastSeen,
			LastLevel:   state.lastLevel,
			LastTraceID: state.lastTraceID,
			IdleSecs:    idle.Seconds(),
			EventCount:  state.eventCount,
			WarnCount:   state.warnCount,
			ErrorCount:  state.errorCount,
			Stale:       state.stale,
		}
		if state.stale {
			at := state.staleAt
			entry.StaleAt = &at
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LastSeen.Equal(entries[j].LastSeen) {
			return entries[i].Service < entries[j].Service
		}
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries
}

// Len returns the number of tracked services.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.services)
}

// StartReaper launches the background sweep. Call Stop to shut it down.
func (t *Tracker) StartReaper(cfg ReaperConfig) {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.EvictAfter <= 0 {
		cfg.EvictAfter = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	t.logger.Info("presence: reaper started",
		"stale_after", cfg.StaleAfter,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine. It is a no-op if the reaper is not
// running.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg ReaperConfig) {
	defer close(t.reaperDone)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg ReaperConfig) {
	now := t.now()

	type staleService struct {
		name     string
		lastSeen time.Time
	}
	var newlyStale []staleService

	t.mu.Lock()
	for name, state := range t.services {
		if state.stale {
			if now.Sub(state.staleAt) > cfg.EvictAfter {
				delete(t.services, name)
			}
			continue
		}
		if now.Sub(state.lastSeen) > cfg.StaleAfter {
			state.stale = true
			state.staleAt = now
			newlyStale = append(newlyStale, staleService{name: name, lastSeen: state.lastSeen})
		}
	}
	t.mu.Unlock()

	for _, s := range newlyStale {
		t.logger.Info("presence: service went quiet",
			"service", s.name,
			"last_seen", s.lastSeen)
		if cfg.OnStale != nil {
			cfg.OnStale(s.name, s.lastSeen)
		}
	}
}
