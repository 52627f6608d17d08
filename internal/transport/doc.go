// Package transport implements the server API client the crypto core
// consumes and the inbound event stream.
//
// The HTTP client speaks JSON request/result types, one tagged pair per
// operation; encrypted message envelopes and event frames cross the wire
// as CBOR. Server capabilities are negotiated once per session from the
// server version string via an ordered {minimum version, feature} table,
// replacing scattered runtime version comparisons.
package transport
