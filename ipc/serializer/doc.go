// Package serializer provides pluggable Message codecs for the worker IPC
// channel. Three implementations are available:
//
//   - JSON: human readable, useful for debugging
//   - GOB: Go's native binary format
//   - Binary: a hand-rolled format with a presence-flags byte and
//     length-prefixed fields, the fastest of the three
//
// All serializers operate on the flat common.Message envelope; request and
// result payloads travel inside it as pre-encoded JSON bytes so the choice of
// envelope codec never affects payload semantics.
package serializer
