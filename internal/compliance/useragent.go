package compliance

import "sync/atomic"

// DefaultUserAgents is the rotation pool used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
}

// UserAgentRotator hands out user agents round-robin. Safe for concurrent use.
type UserAgentRotator struct {
	agents []string
	next   atomic.Uint64
}

// NewUserAgentRotator builds a rotator over agents, falling back to
// DefaultUserAgents when the list is empty.
func NewUserAgentRotator(agents []string) *UserAgentRotator {
	pool := make([]string, 0, len(agents))
	for _, a := range agents {
		if a != "" {
			pool = append(pool, a)
		}
	}
	if len(pool) == 0 {
		pool = append(pool, DefaultUserAgents...)
	}
	return &UserAgentRotator{agents: pool}
}

// Next returns the next user agent in the pool.
func (r *UserAgentRotator) Next() string {
	n := r.next.Add(1) - 1
	return r.agents[n%uint64(len(r.agents))]
}
