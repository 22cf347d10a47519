package browser

import (
	"sync"
)

// Sim is an in-memory Browser for headless embeddings and tests. Hidden
// contexts are recorded rather than loaded; the embedding decides how to
// answer them by emitting messages through Deliver.
type Sim struct {
	mu       sync.Mutex
	nextSub  int
	subs     map[int]simSub
	contexts []*SimContext
	navs     []string

	// OnCreateHidden, when set, is invoked synchronously for every
	// hidden context as it is opened.
	OnCreateHidden func(*SimContext)
}

type simSub struct {
	origin string
	ch     chan Message
}

// SimContext records one hidden sub-context and the messages posted into
// it.
type SimContext struct {
	sim       *Sim
	URL       string
	destroyed bool

	mu     sync.Mutex
	posted []Message
}

// NewSim constructs an empty simulator.
func NewSim() *Sim {
	return &Sim{subs: make(map[int]simSub)}
}

// Navigate records the navigation target.
func (s *Sim) Navigate(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navs = append(s.navs, url)
	return nil
}

// Navigations returns every URL passed to Navigate so far.
func (s *Sim) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.navs))
	copy(out, s.navs)
	return out
}

// CreateHidden opens a recorded sub-context.
func (s *Sim) CreateHidden(url string) (Context, error) {
	ctx := &SimContext{sim: s, URL: url}
	s.mu.Lock()
	s.contexts = append(s.contexts, ctx)
	hook := s.OnCreateHidden
	s.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return ctx, nil
}

// Contexts returns every hidden context opened so far, including
// destroyed ones.
func (s *Sim) Contexts() []*SimContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*SimContext, len(s.contexts))
	copy(out, s.contexts)
	return out
}

// Subscribe registers an origin-filtered message channel.
func (s *Sim) Subscribe(origin string) (<-chan Message, CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Message, 16)
	s.subs[id] = simSub{origin: origin, ch: ch}

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub.ch)
		}
	}
	return ch, cancel
}

// Deliver emits a message to every subscriber whose filter matches the
// origin, mirroring the same-origin check a real adapter performs.
func (s *Sim) Deliver(origin, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.origin != origin {
			continue
		}
		select {
		case sub.ch <- Message{Origin: origin, Data: data}:
		default:
		}
	}
}

// PostMessage records data posted into the sub-context.
func (c *SimContext) PostMessage(data, targetOrigin string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posted = append(c.posted, Message{Origin: targetOrigin, Data: data})
	return nil
}

// Posted returns the messages posted into this sub-context so far.
func (c *SimContext) Posted() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.posted))
	copy(out, c.posted)
	return out
}

// Destroy marks the sub-context destroyed.
func (c *SimContext) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	return nil
}

// Destroyed reports whether Destroy has been called.
func (c *SimContext) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}
