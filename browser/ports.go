// Package browser declares the ports through which the engine reaches its
// host browsing environment. Implementations adapt a real browser runtime
// (or a headless simulation) to these interfaces; the engine itself never
// touches globals.
package browser

import "time"

// Message is a cross-context message together with the origin it was
// delivered from. Origins are scheme://host[:port] strings as produced by
// Origin.
type Message struct {
	Origin string
	Data   string
}

// CancelFunc tears down a message subscription. Calling it more than once
// is harmless.
type CancelFunc func()

// Context is a handle to an isolated browsing sub-context (a hidden
// iframe in a real browser).
type Context interface {
	// PostMessage delivers data into the sub-context. targetOrigin
	// restricts delivery the way window.postMessage does.
	PostMessage(data, targetOrigin string) error

	// Destroy removes the sub-context. Pending messages from it are
	// dropped.
	Destroy() error
}

// Browser is the host browsing context the engine runs inside.
// Cross-context messaging is an untrusted boundary: subscriptions are
// origin-filtered at the port, and callers must still treat payloads as
// hostile input.
type Browser interface {
	// Navigate points the host context at url. In a real browser the
	// page unloads and the call never meaningfully returns to the
	// login flow; an error is only reported when navigation could not
	// be started.
	Navigate(url string) error

	// CreateHidden opens an isolated sub-context loaded from url.
	CreateHidden(url string) (Context, error)

	// Subscribe delivers messages whose origin exactly matches origin.
	// Messages from any other origin are dropped before delivery.
	Subscribe(origin string) (<-chan Message, CancelFunc)
}

// Storage is a string key-value store surviving page reloads
// (sessionStorage/localStorage in a real browser).
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
}

// Clock supplies the current time. All timestamp validation goes through
// it so tests control time instead of relying on leeway.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real time source.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
