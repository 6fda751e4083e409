// Package session implements the streaming session controller: the
// single state machine that owns the capture loop and serializes
// lifecycle events (start, stop, mute, transport epoch changes) against
// chunk processing.
package session
