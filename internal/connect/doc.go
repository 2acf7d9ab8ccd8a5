// Package connect orchestrates the OAuth connection workflow: the Initiator
// requests an authorization link and opens it through a Launcher, and the
// Reconciler detects completion, either through a structured completion
// message or by observing that the authorization window closed without one.
//
// In the web deployment the "window" is a Registry entry keyed by the
// attempt's state token; a browser popup that never calls back is observed
// as closed once the entry's deadline passes. The completion message is fed
// by the callback handler and relayed to dashboards over websockets.
package connect
