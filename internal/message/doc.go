// Package message defines the typed envelope carried over the session
// transport and the publish/subscribe router that decouples the transport
// from business-logic consumers.
package message
