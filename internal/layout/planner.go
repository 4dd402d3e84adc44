package layout

import (
	"github.com/kaby76/gpuocelot/internal/device"
	"github.com/kaby76/gpuocelot/internal/ptx"
	"github.com/kaby76/gpuocelot/internal/trace"
)

// Planner computes the memory layout of subkernels. It holds no per-module
// state; the owning module's device arrives with each Plan call and is used
// for texture resolution only. It never touches the JIT backend.
type Planner struct {
	tracer trace.Tracer
}

// NewPlanner creates a planner. tracer may be nil.
func NewPlanner(tracer trace.Tracer) *Planner {
	if tracer == nil {
		tracer = trace.Nop()
	}
	return &Planner{tracer: tracer}
}

// Plan assigns an (addressSpace, offset) pair to every variable reference of
// the subkernel and returns a fresh Metadata. dev is the device the module
// was loaded against; it may be nil for programs without texture fetches.
// The input kernel's operands are rewritten in place; planning the same
// kernel twice without re-registering it is a caller error.
func (p *Planner) Plan(kernel *ptx.Kernel, module *ptx.Module, dev device.Device, warpSize int) (*Metadata, error) {
	md := &Metadata{Kernel: kernel.Name, WarpSize: warpSize}
	st := &planState{kernel: kernel, module: module, device: dev, md: md, planner: p}

	st.globalReferences()
	st.argumentReferences()
	if err := st.parameterReferences(); err != nil {
		return nil, err
	}
	if err := st.sharedReferences(); err != nil {
		return nil, err
	}
	st.constantReferences()
	if err := st.textureReferences(); err != nil {
		return nil, err
	}
	st.localReferences()

	p.tracer.Eventf(trace.LevelTranslation,
		"layout %s: argument=%d parameter=%d shared=%d constant=%d local=%d textures=%d",
		kernel.Name, md.ArgumentSize, md.ParameterSize, md.SharedSize,
		md.ConstantSize, md.LocalSize, len(md.Textures))
	return md, nil
}

type planState struct {
	kernel  *ptx.Kernel
	module  *ptx.Module
	device  device.Device
	md      *Metadata
	planner *Planner
}

func (st *planState) tracer() trace.Tracer { return st.planner.tracer }

// rewritesOffsets reports whether the opcode participates in address-operand
// offset rewriting.
func rewritesOffsets(op ptx.Opcode) bool {
	return op == ptx.OpMov || op == ptx.OpLd || op == ptx.OpSt
}

// eachInstruction visits every instruction of the kernel's CFG in block
// order.
func (st *planState) eachInstruction(visit func(*ptx.Instruction)) {
	for _, block := range st.kernel.Blocks {
		for i := range block.Instructions {
			visit(&block.Instructions[i])
		}
	}
}

// globalReferences tags moves whose operand resolves to a module-level
// .global declaration with the Global address space. Offsets are left alone;
// global addresses are resolved at link time.
func (st *planState) globalReferences() {
	st.eachInstruction(func(in *ptx.Instruction) {
		if in.Opcode != ptx.OpMov {
			return
		}
		if in.A.Mode != ptx.AddressModeAddress && in.A.Mode != ptx.AddressModeIndirect {
			return
		}
		global, ok := st.module.Global(in.A.Identifier)
		if !ok || global.Directive != ptx.DirectiveGlobal {
			return
		}
		in.AddressSpace = ptx.SpaceGlobal
		st.tracer().Eventf(trace.LevelDetail, "  %s: address space set to global", in)
	})
}

// argumentReferences lays out the declared kernel arguments in declaration
// order and folds each argument's base offset into referencing operands.
func (st *planState) argumentReferences() {
	offset := 0
	offsets := make(map[string]int, len(st.kernel.Arguments))

	for i := range st.kernel.Arguments {
		arg := &st.kernel.Arguments[i]
		offset = padTo(offset, arg.Alignment())
		offsets[arg.Name] = offset
		st.tracer().Eventf(trace.LevelDetail, "  argument %s at offset %d", arg.Name, offset)
		offset += arg.Size()
	}

	st.eachInstruction(func(in *ptx.Instruction) {
		if !rewritesOffsets(in.Opcode) {
			return
		}
		for _, op := range in.Operands() {
			if op.Mode != ptx.AddressModeAddress {
				continue
			}
			base, ok := offsets[op.Identifier]
			if !ok {
				continue
			}
			op.Offset += base
			op.IsArgument = true
		}
	})

	st.md.ArgumentSize = offset
}

// parameterReferences lays out outgoing call-argument lists. All call sites
// share one offset space; frames are temporally disjoint so only the maximum
// requested span persists. A final pass over every declared argument vector
// in the module reserves space for the largest one, which keeps stack-free
// tail-call frame reuse sound.
func (st *planState) parameterReferences() error {
	st.md.ParameterSize = 0
	offsets := make(map[string]int)

	var layoutErr *LayoutError
	st.eachInstruction(func(in *ptx.Instruction) {
		if layoutErr != nil || in.Opcode != ptx.OpCall {
			return
		}
		if in.A.Identifier == ptx.DivergenceIntrinsic {
			return
		}
		offset := 0
		for _, list := range [][]ptx.Operand{in.D.Array, in.B.Array} {
			for i := range list {
				arg := &list[i]
				offset = padTo(offset, arg.Type.Bytes())
				if _, dup := offsets[arg.Identifier]; dup {
					layoutErr = &LayoutError{
						Kind:   ErrDuplicateParameter,
						Kernel: st.kernel.Name,
						Name:   arg.Identifier,
					}
					return
				}
				offsets[arg.Identifier] = offset
				st.tracer().Eventf(trace.LevelDetail, "  parameter %s at offset %d", arg.Identifier, offset)
				offset += arg.Type.Bytes()
			}
		}
		if offset > st.md.ParameterSize {
			st.md.ParameterSize = offset
		}
	})
	if layoutErr != nil {
		return layoutErr
	}

	st.eachInstruction(func(in *ptx.Instruction) {
		if !rewritesOffsets(in.Opcode) {
			return
		}
		for _, op := range in.Operands() {
			if op.Mode != ptx.AddressModeAddress {
				continue
			}
			base, ok := offsets[op.Identifier]
			if !ok {
				continue
			}
			op.Offset += base
			op.IsArgument = false
		}
	})

	// Reserve space for the largest statically declared argument list in the
	// module; a tail callee may overwrite the caller's parameter region.
	for _, fn := range st.module.Kernels {
		if !fn.Function {
			continue
		}
		bytes := 0
		for i := range fn.Arguments {
			arg := &fn.Arguments[i]
			bytes = padTo(bytes, arg.Size())
			bytes += arg.Size()
		}
		if bytes > st.md.ParameterSize {
			st.md.ParameterSize = bytes
		}
	}
	return nil
}
