// Package layout assigns concrete byte offsets and address-space tags to
// every variable reference of a subkernel and records the resulting region
// sizes in a Metadata. Planning is a strict stage pipeline; each stage
// depends on the offsets fixed by the previous one.
package layout

import "github.com/kaby76/gpuocelot/internal/device"

// Metadata is the memory-layout record of one subkernel. It is built exactly
// once per subkernel, is immutable afterwards, and is shared read-only by
// every specialization derived from that subkernel.
type Metadata struct {
	// Kernel is the subkernel name the record was computed for.
	Kernel string

	// WarpSize is the warp width the record was computed for. Layout itself
	// is warp-independent; the field identifies the planning context.
	WarpSize int

	ArgumentSize  int
	ParameterSize int
	SharedSize    int
	ConstantSize  int
	LocalSize     int

	// ResumeStatusOffset and ResumePointOffset are the local-window offsets
	// of the cooperative-yield status and resume-point words.
	ResumeStatusOffset int
	ResumePointOffset  int

	// Textures are the resolved texture references, ordered by first use.
	Textures []*device.Texture
}

// padTo rounds size up to the next multiple of alignment.
func padTo(size, alignment int) int {
	if alignment <= 1 {
		return size
	}
	padding := alignment - size%alignment
	if padding == alignment {
		padding = 0
	}
	return size + padding
}
