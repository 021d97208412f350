// Package rotation hands out browsing identities for headless sessions.
// Proxies rotate round-robin so load spreads evenly; user agents are drawn
// at random so consecutive sessions do not share a fingerprint.
package rotation

import (
	"math/rand"
	"sync"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Manager rotates proxies and user agents across browser sessions.
type Manager struct {
	proxies    []string
	userAgents []string
	mu         sync.Mutex
	next       int
}

// NewManager builds a rotator over the given proxy URLs. An empty list is
// valid and means direct connections.
func NewManager(proxies []string) *Manager {
	return &Manager{
		proxies:    proxies,
		userAgents: defaultUserAgents,
	}
}

// Proxy returns the next proxy URL round-robin, or "" when none are
// configured.
func (m *Manager) Proxy() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.proxies) == 0 {
		return ""
	}
	p := m.proxies[m.next]
	m.next = (m.next + 1) % len(m.proxies)
	return p
}

// UserAgent returns a random user agent string.
func (m *Manager) UserAgent() string {
	if len(m.userAgents) == 0 {
		return ""
	}
	return m.userAgents[rand.Intn(len(m.userAgents))]
}
