// Package oidcflow implements a relying-party OpenID Connect engine for
// browser-hosted clients. It builds and classifies protocol messages,
// exchanges and validates tokens, performs non-interactive (silent) login
// through an isolated browsing context, watches the provider session for
// external changes, and keeps tokens fresh through a single-flight refresh
// state machine.
//
// The engine talks to its host exclusively through the ports declared in
// the browser package: navigation, hidden contexts, origin-filtered
// messaging, string storage, and a clock. Wiring those ports to a real
// browser runtime, to routing, or to UI is the embedding application's
// concern.
package oidcflow
