// Package transport implements the duplex session channel carrying typed
// messages over a websocket. It reconnects automatically after transport
// faults, numbering each connection attempt as an epoch; ordering and
// delivery guarantees never cross an epoch boundary.
package transport
