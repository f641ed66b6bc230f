// Package device describes the execution hardware a dispatch is shaped for.
//
// A Profile fixes the subgroup width, the largest workgroup and whether the
// register exchange is limited to the unrolled stride set 1, 2, 4, 8, 16.
// Detect derives it from the host CPU's vector ISA: one subgroup lane per
// 32-bit element of a vector register.
//
// # Environment
//
//   - PARCORE_ISA forces an ISA (generic, neon, sve2, avx2, avx512) when the
//     CPU supports it
//   - PARCORE_SUBGROUP_SIZE overrides the detected subgroup width
package device
