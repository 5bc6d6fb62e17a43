// Package dispatch implements the HTTP request pipeline of a Discord API
// client: route identity, per-bucket rate limit coordination, a
// backpressured send pipeline with bounded concurrency, response parsing,
// and a retry loop.
//
// dispatch does not know how to build Discord resource payloads or parse
// the gateway websocket protocol; it consumes a Request built by a caller
// (typically generated code, see constructors such as GetChannel) and
// returns an Answer.
package dispatch
