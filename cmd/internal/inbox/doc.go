// Package inbox streams in-app notifications to connected browsers over websocket.
//
// The Hub fans records out to every open session of a recipient; the Gateway
// owns the connection lifecycle and lets clients mark notifications as seen.
package inbox
