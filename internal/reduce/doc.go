// Package reduce combines per-lane values of a workgroup into one aggregate.
//
// The reduction is a two level tree. Each subgroup folds its lanes with
// doubling strides (1, 2, 4, ...), then subgroup 0 folds the subgroup
// partials. Lane 0 finally either closes the aggregate (Final, then Copy to
// the device result or the first staging slot) or parks it in the staging
// slot of its workgroup for a later pass.
//
// Two strategies implement the same contract:
//
//   - Memory keeps ValueCount values per lane in workgroup scratch. It works
//     for any value type, including values that own memory.
//   - Shuffle keeps one value per lane in a register and exchanges it with
//     lane.ShiftLeft. The value must be bit-copyable and ValueCount must be 1.
//
// Every stride re-checks that its partner lies below MaxSize, the number of
// active lanes, so partial subgroups never read undefined contributions.
//
// Preconditions are only checked when Debug is set; violating them otherwise
// gives undefined results.
package reduce
