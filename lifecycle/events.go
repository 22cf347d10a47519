package lifecycle

import (
	"sync"

	"oidcflow"
)

// hub fans login-result transitions out to subscribers. Each subscriber
// channel holds at most one pending value: a publish replaces an unread
// older value instead of blocking, so a slow consumer only ever sees the
// newest state.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan oidcflow.LoginResult
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan oidcflow.LoginResult)}
}

func (h *hub) subscribe() (<-chan oidcflow.LoginResult, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan oidcflow.LoginResult, 1)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (h *hub) publish(result oidcflow.LoginResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case <-ch:
		default:
		}
		ch <- result
	}
}
