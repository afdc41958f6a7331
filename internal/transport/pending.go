// File: internal/transport/pending.go
package transport

import (
	"sync"

	"github.com/dang-hai/agentpulse/api/schemas"
)

// outcome is what a waiter receives: either the matched response or the
// error that doomed the request.
type outcome struct {
	resp schemas.Response
	err  error
}

// pendingTable maps in-flight correlation ids to their waiters. Every entry
// is removed exactly once, by whichever of response arrival, disconnect, or
// reconnect cleanup happens first; late arrivals for an already-settled id
// are dropped.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[string]chan outcome
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[string]chan outcome)}
}

// add registers a waiter for a correlation id. The returned channel is
// buffered so settling never blocks on a departed waiter.
func (p *pendingTable) add(id string) <-chan outcome {
	ch := make(chan outcome, 1)
	p.mu.Lock()
	p.waiters[id] = ch
	p.mu.Unlock()
	return ch
}

// take removes a waiter, returning false if it was already settled.
func (p *pendingTable) take(id string) (chan outcome, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.waiters[id]
	if ok {
		delete(p.waiters, id)
	}
	return ch, ok
}

// resolve settles one waiter with the matched response. It reports whether a
// waiter existed; an unknown id means the response was late or unsolicited.
func (p *pendingTable) resolve(resp schemas.Response) bool {
	ch, ok := p.take(resp.ID)
	if !ok {
		return false
	}
	ch <- outcome{resp: resp}
	return true
}

// failAll settles every remaining waiter with err and empties the table.
func (p *pendingTable) failAll(err error) {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[string]chan outcome)
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- outcome{err: err}
	}
}

// size reports the number of in-flight requests.
func (p *pendingTable) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
