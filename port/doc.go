// Package port exposes a Runtime to an external actor in another process.
//
// The protocol is line-delimited JSON over a pair of streams, normally the
// process's stdin and stdout. Each input line is a Request; each output line
// is a Message. Asynchronous operations (load, call) answer with events
// carrying the request token; synchronous operations answer with a single
// "result" or "error" message.
//
// Scalars travel as {"type": "i32", "value": 42}. For f32 and f64 the value
// is the IEEE 754 bit pattern as an unsigned integer, so every float,
// including negative zero and NaN payloads, crosses the boundary exactly.
package port
