package chatcore

import "sync"

// Presence tracks the conversation partner's connection status. Latest value
// wins; the flag resets to unknown when the channel closes.
type Presence struct {
	mu     sync.Mutex
	online bool
	known  bool
}

func (p *Presence) Set(online bool) {
	p.mu.Lock()
	p.online = online
	p.known = true
	p.mu.Unlock()
}

func (p *Presence) Reset() {
	p.mu.Lock()
	p.online = false
	p.known = false
	p.mu.Unlock()
}

// Online reports the partner's status and whether any status has been seen
// since the channel opened.
func (p *Presence) Online() (online, known bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online, p.known
}
