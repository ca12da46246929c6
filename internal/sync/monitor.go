package sync

import (
	"context"
	"log"
	"sync"
	"time"
)

// Pinger probes the central server's health endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor watches central-server reachability and exposes the current
// ConnectivityState plus a stream of debounced transitions. It emits events
// only; it never starts synchronization itself.
type Monitor struct {
	mu sync.RWMutex

	pinger        Pinger
	probeInterval time.Duration
	probeTimeout  time.Duration
	debounce      time.Duration

	state          ConnectivityState
	lastOnlineKick time.Time

	subscribers []chan bool

	running  bool
	stopChan chan struct{}
	kickChan chan struct{}
}

// NewMonitor creates a connectivity monitor
func NewMonitor(pinger Pinger, probeInterval, debounce time.Duration) *Monitor {
	if probeInterval <= 0 {
		probeInterval = 15 * time.Second
	}
	return &Monitor{
		pinger:        pinger,
		probeInterval: probeInterval,
		probeTimeout:  5 * time.Second,
		debounce:      debounce,
		stopChan:      make(chan struct{}),
		kickChan:      make(chan struct{}, 1),
	}
}

// Start begins probing. The first probe runs immediately so the startup
// state reflects reality rather than a default.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.probe()
	go m.probeLoop()
}

// Stop stops probing
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stopChan)
}

// State returns the current connectivity state
func (m *Monitor) State() ConnectivityState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe returns a channel of online/offline transitions. Transitions to
// online are debounced: at most one signal per debounce window, so a flapping
// link cannot trigger a thundering herd of sync attempts.
func (m *Monitor) Subscribe() <-chan bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan bool, 4)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Recheck forces an immediate probe (e.g. after the app regains foreground)
func (m *Monitor) Recheck() {
	select {
	case m.kickChan <- struct{}{}:
	default:
	}
}

// probeLoop periodically checks reachability
func (m *Monitor) probeLoop() {
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probe()
		case <-m.kickChan:
			m.probe()
		case <-m.stopChan:
			return
		}
	}
}

// probe runs one reachability check and publishes any transition
func (m *Monitor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout)
	defer cancel()

	online := m.pinger.Ping(ctx) == nil

	m.mu.Lock()
	changed := online != m.state.Online
	if changed {
		m.state.Online = online
		m.state.LastTransitionAt = time.Now()
	}

	emit := false
	if changed {
		if online {
			// Debounce: one online kick per window on a flapping link
			if time.Since(m.lastOnlineKick) >= m.debounce {
				m.lastOnlineKick = time.Now()
				emit = true
			}
		} else {
			emit = true
		}
	}

	var subscribers []chan bool
	if emit {
		subscribers = append(subscribers, m.subscribers...)
	}
	m.mu.Unlock()

	if changed {
		if online {
			log.Printf("📶 Connectivity restored")
		} else {
			log.Printf("📴 Connectivity lost")
		}
	}

	for _, ch := range subscribers {
		select {
		case ch <- online:
		default:
			// Subscriber is slow; it will catch up on the next transition
		}
	}
}
