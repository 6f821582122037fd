// Package source provides a uniform, forward-only byte stream abstraction over
// heterogeneous inputs: local files, in-memory buffers, arbitrary readers and
// remote resources (see the network subpackage). Consumers read sequentially
// through the Source interface without knowing the underlying transport.
package source

import "io"

// SizeUnknown is returned by Size when the total length of a source cannot be
// determined up front.
const SizeUnknown int64 = -1

// Source is the minimal capability shared by every input source.
// Read follows io.Reader semantics and signals the natural end of the data
// with io.EOF. There is no Seek: sources are forward-only.
type Source interface {
	io.ReadCloser

	// Size returns the total number of bytes the source will deliver over its
	// lifetime, or SizeUnknown if the length is not known in advance.
	Size() int64
}
