// Package netmon watches backend reachability. It stands in for the
// browser online/offline events the app relies on: the sync queue
// subscribes and flushes on every offline-to-online transition.
package netmon

import (
	"net/http"
	"sync"
	"time"

	"github.com/dukaanware/dukasync/internal/events"
)

// Monitor reports connectivity and notifies on transitions.
type Monitor interface {
	// Online returns the last observed connectivity state.
	Online() bool

	// Subscribe returns a channel receiving the new state on every
	// transition. Slow subscribers miss edges rather than block the probe.
	Subscribe() <-chan bool

	// Close stops the monitor and closes subscriber channels.
	Close() error
}

// ProbeMonitor polls a health endpoint on a fixed interval.
type ProbeMonitor struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   *events.Logger

	mu     sync.Mutex
	online bool
	subs   []chan bool
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// NewProbeMonitor creates and starts a probing monitor. The first probe
// runs synchronously so Online is meaningful immediately.
func NewProbeMonitor(url string, interval, timeout time.Duration, logger *events.Logger) *ProbeMonitor {
	m := &ProbeMonitor{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.WithComponent("netmon"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	m.online = m.probe()
	go m.loop()

	return m
}

// Online returns the last observed connectivity state.
func (m *ProbeMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a transition listener.
func (m *ProbeMonitor) Subscribe() <-chan bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan bool, 1)
	m.subs = append(m.subs, ch)
	return ch
}

// Close stops the probe loop.
func (m *ProbeMonitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stop)
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	return nil
}

func (m *ProbeMonitor) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.observe(m.probe())
		}
	}
}

func (m *ProbeMonitor) probe() bool {
	resp, err := m.client.Head(m.url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

func (m *ProbeMonitor) observe(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || online == m.online {
		return
	}
	m.online = online

	if online {
		m.logger.Info("Connectivity restored")
	} else {
		m.logger.Warn("Connectivity lost")
	}

	for _, ch := range m.subs {
		select {
		case ch <- online:
		default:
		}
	}
}

// ManualMonitor is a Monitor driven by test code or CLI flags.
type ManualMonitor struct {
	mu     sync.Mutex
	online bool
	subs   []chan bool
	closed bool
}

// NewManualMonitor creates a monitor in the given state.
func NewManualMonitor(online bool) *ManualMonitor {
	return &ManualMonitor{online: online}
}

// Online returns the current state.
func (m *ManualMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a transition listener.
func (m *ManualMonitor) Subscribe() <-chan bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan bool, 1)
	m.subs = append(m.subs, ch)
	return ch
}

// SetOnline flips the state, notifying subscribers on a transition.
func (m *ManualMonitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || online == m.online {
		return
	}
	m.online = online

	for _, ch := range m.subs {
		select {
		case ch <- online:
		default:
		}
	}
}

// Close closes subscriber channels.
func (m *ManualMonitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	return nil
}
