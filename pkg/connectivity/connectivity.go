package connectivity

import (
	"net"
	"sync"
	"time"
)

// Observer reports whether the network is reachable. The sync scheduler
// treats a transition to online as a trigger to attempt a sync.
type Observer interface {
	IsOnline() bool
}

var (
	_ Observer = &Prober{}
	_ Observer = &Manual{}
)

// Prober checks reachability by dialing a well-known address with a short
// timeout, caching the result briefly so per-tick checks stay cheap.
type Prober struct {
	Address string
	Timeout time.Duration

	mu       sync.Mutex
	lastAt   time.Time
	lastSeen bool
}

const probeCacheWindow = 5 * time.Second

// NewProber creates a Prober against the given host:port address.
func NewProber(address string) *Prober {
	return &Prober{
		Address: address,
		Timeout: 2 * time.Second,
	}
}

func (p *Prober) IsOnline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastAt) < probeCacheWindow {
		return p.lastSeen
	}

	conn, err := net.DialTimeout("tcp", p.Address, p.Timeout)
	if err == nil {
		conn.Close()
	}

	p.lastAt = time.Now()
	p.lastSeen = err == nil
	return p.lastSeen
}

// Manual is an Observer toggled by hand, used in tests and as an
// always-online default.
type Manual struct {
	mu     sync.Mutex
	online bool
}

// NewManual creates a Manual observer with the given initial state.
func NewManual(online bool) *Manual {
	return &Manual{online: online}
}

func (m *Manual) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline flips the observed state.
func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = online
}
