// Package reducer provides combine operators for parcore reductions.
//
// A Reducer works on value slices of a fixed length, the value count of the
// reduction. Join folds src into dst, Final closes an aggregate once the last
// pass is done, and Copy materializes a value into a result location. Copy
// must be used instead of assignment because values may own memory (see
// BitUnion and RoaringUnion).
//
// Reducers must be associative. The reduction tree combines neighbors in a
// fixed order, so commutativity is not required.
package reducer
