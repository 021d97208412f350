package rotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProxyRoundRobin(t *testing.T) {
	m := NewManager([]string{"http://p1:8000", "http://p2:8000"})

	assert.Equal(t, "http://p1:8000", m.Proxy())
	assert.Equal(t, "http://p2:8000", m.Proxy())
	assert.Equal(t, "http://p1:8000", m.Proxy(), "rotation wraps around")
}

func TestProxyEmptyMeansDirect(t *testing.T) {
	m := NewManager(nil)
	assert.Equal(t, "", m.Proxy())
}

func TestUserAgentFromPool(t *testing.T) {
	m := NewManager(nil)
	for i := 0; i < 10; i++ {
		assert.Contains(t, defaultUserAgents, m.UserAgent())
	}
}
