// Package fence owns the pasture model and the fence geometry engine.
//
// Responsibilities: pasture and fence types, structural validation, the
// pasture checksum, and the signed point-to-boundary distance used by the
// zone classifier.
// Key types: Pasture, Fence, Coordinate, Result.
//
// Dependency rule: fence is a leaf package. It performs no I/O and never
// blocks; callers hold the pasture cache while a computation runs.
package fence
