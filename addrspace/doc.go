// Package addrspace provides composable address spaces for reading
// captured memory images.
//
// An address space is a translation and storage layer. Layers are
// stacked on top of each other: each layer holds a reference to the
// layer below it (its base), and the bottom-most layer owns the handle
// to the backing storage (a file, a memory mapping, or a buffer).
// Layers never form a cycle.
//
// Reading and writing
//
// Reads never fail because an address is undefined. Bytes that do not
// fall inside one of a layer's runs are synthesized as zeros. Writes
// only touch bytes that fall inside a writable run. The portion of a
// write that falls outside such a run is dropped, and the returned
// count reflects only the bytes that were actually written.
//
// Construction and autodetection
//
// Layer constructors reject a base whose contents do not match the
// format they expect by returning a *RejectedError. A rejection is not
// fatal: the stack package relies on it to try the next candidate
// layer when autodetecting the format of an unknown image.
package addrspace
