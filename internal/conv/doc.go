// Package conv provides checked conversions between the int sizes and
// indices of the public API and the fixed-width values of the primitives
// underneath: uint32 bit positions, log2 bounds and scratch byte counts.
package conv
