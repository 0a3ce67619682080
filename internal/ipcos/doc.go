// Package ipcos is the platform abstraction layer: the thin set of
// operations the rest of the registry needs from the operating system to
// coordinate unrelated processes over shared memory -- opening and mapping
// a backing file, taking a cross-process mutex on it, checking whether a
// process is still alive, and enumerating which processes still have a
// mapping open.
//
// Everything above this package works entirely in terms of byte slices and
// never calls into the kernel directly.
package ipcos
