// Package lane runs kernels the way an accelerator does: workgroups of lanes
// that execute the same code, split into fixed-width subgroups.
//
// Every lane is a goroutine. Barriers are the only suspension points a kernel
// uses: SubgroupBarrier waits for the lane's subgroup, GroupBarrier for the
// whole workgroup. ShiftLeft exchanges values inside a subgroup through
// explicit Pack/Unpack of the value bytes, standing in for register shuffles.
//
// A lane that panics breaks its workgroup's barriers so the siblings return
// instead of waiting forever; Run reports the panic as a *LaneError.
package lane
