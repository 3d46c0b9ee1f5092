// Package server is the network surface of the chat relay: the WebSocket
// endpoint whose clients feed the relay core, a small JSON API over the store,
// health and metrics endpoints, and a built-in test page.
//
// Configuration, origin checks, per-connection rate limiting, the client pumps
// and the hub that supervises them each live in their own file.
package server
