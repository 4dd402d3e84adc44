package cache

import (
	"github.com/kaby76/gpuocelot/internal/backend"
	"github.com/kaby76/gpuocelot/internal/layout"
	"github.com/kaby76/gpuocelot/internal/translate"
)

// Translation is one compiled specialization of a subkernel. It is immutable
// once published and shared by every requester of the same subkernel and
// warp width.
type Translation struct {
	// Name is the specialized clone's function name.
	Name string

	// Function is the compiled entry point.
	Function backend.KernelFunc

	// Metadata is the subkernel's layout record, shared across warp widths.
	Metadata *layout.Metadata

	WarpSize int
	Level    translate.OptimizationLevel
}

// Execute runs the translation on an execution context.
func (t *Translation) Execute(ctx *backend.ExecutionContext) error {
	return t.Function(ctx)
}

// NewContext allocates an execution context sized from the translation's
// layout record. dynamicShared is the launch-time extern shared size in
// bytes; textures must be filled in by the caller when the subkernel
// fetches them.
func (t *Translation) NewContext(dynamicShared int) *backend.ExecutionContext {
	md := t.Metadata
	ctx := &backend.ExecutionContext{
		Argument:  make([]byte, md.ArgumentSize),
		Parameter: make([]byte, md.ParameterSize),
		Shared:    make([]byte, md.SharedSize+dynamicShared),
		Constant:  make([]byte, md.ConstantSize),
		Local:     make([]byte, md.LocalSize*t.WarpSize),
		LocalSize: md.LocalSize,
		Textures:  make([][]byte, len(md.Textures)),
		NThreads:  int64(t.WarpSize),
		NCTAID:    1,
	}
	for i, tex := range md.Textures {
		ctx.Textures[i] = tex.Memory
	}
	return ctx
}
