// Package fuzztests houses Go fuzz harnesses for the surfaces that consume
// untrusted bytes: the textual assembly parser and the msgpack module
// container. The goal is to guard against panics and hangs on arbitrary
// inputs, not to check translation semantics.
package fuzztests
