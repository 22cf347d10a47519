package session

import (
	"log/slog"
	"sync"
	"time"

	"oidcflow/browser"
	"oidcflow/config"
)

// Check-session replies per the OIDC Session Management wire convention.
const (
	replyUnchanged = "unchanged"
	replyChanged   = "changed"
	replyError     = "error"
)

// Monitor polls the provider's check-session context while a session is
// active and raises a signal when the provider-side session changed. An
// "error" reply is treated the same way: conservatively, as a possible
// session loss.
type Monitor struct {
	clientID        string
	checkSessionURL string
	interval        time.Duration
	browser         browser.Browser
	logger          *slog.Logger

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	done      chan struct{}
	hidden    browser.Context
	cancelSub browser.CancelFunc

	changed chan struct{}
}

// NewMonitor constructs a Monitor.
func NewMonitor(clientID string, meta *config.ProviderMetadata, interval time.Duration, b browser.Browser, logger *slog.Logger) *Monitor {
	return &Monitor{
		clientID:        clientID,
		checkSessionURL: meta.CheckSessionIframe,
		interval:        interval,
		browser:         b,
		logger:          logger,
		changed:         make(chan struct{}, 1),
	}
}

// Changed delivers at most one pending session-changed signal.
func (m *Monitor) Changed() <-chan struct{} { return m.changed }

// Start begins watching the provider session. Monitoring is skipped
// entirely when the provider advertises no check-session context or the
// login carries no session state.
func (m *Monitor) Start(sessionState string) error {
	if m.checkSessionURL == "" || sessionState == "" {
		m.logger.Debug("session monitoring skipped",
			"check_session_configured", m.checkSessionURL != "",
			"session_state_present", sessionState != "")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	origin := browser.Origin(m.checkSessionURL)
	messages, cancel := m.browser.Subscribe(origin)
	hidden, err := m.browser.CreateHidden(m.checkSessionURL)
	if err != nil {
		cancel()
		return err
	}

	m.hidden = hidden
	m.cancelSub = cancel
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true

	go m.loop(sessionState, origin, messages, m.stop, m.done, hidden)
	m.logger.Info("session monitoring started", "interval", m.interval)
	return nil
}

// Stop tears the watch down: the poll loop and message listener first,
// the sub-context last, so no reply can arrive for a dead listener.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done, cancel, hidden := m.done, m.cancelSub, m.hidden
	m.hidden, m.cancelSub = nil, nil
	m.mu.Unlock()

	<-done
	cancel()
	if err := hidden.Destroy(); err != nil {
		m.logger.Warn("destroy check-session context", "error", err)
	}
	m.logger.Info("session monitoring stopped")
}

func (m *Monitor) loop(sessionState, origin string, messages <-chan browser.Message, stop <-chan struct{}, done chan<- struct{}, hidden browser.Context) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return

		case <-ticker.C:
			if err := hidden.PostMessage(m.clientID+" "+sessionState, origin); err != nil {
				m.logger.Warn("post check-session message", "error", err)
			}

		case msg, ok := <-messages:
			if !ok {
				return
			}
			switch msg.Data {
			case replyUnchanged:
				// Session still valid.
			case replyChanged, replyError:
				m.signal(msg.Data)
			default:
				m.logger.Debug("unexpected check-session reply ignored", "data", msg.Data)
			}
		}
	}
}

func (m *Monitor) signal(reason string) {
	m.logger.Info("provider session changed", "reply", reason)
	select {
	case m.changed <- struct{}{}:
	default:
	}
}
