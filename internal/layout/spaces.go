package layout

import (
	"fortio.org/safecast"

	"github.com/kaby76/gpuocelot/internal/ptx"
	"github.com/kaby76/gpuocelot/internal/trace"
)

// sharedReferences partitions shared declarations into fixed-size and extern
// variables. Fixed variables are offset-assigned in declaration order; extern
// variables all alias the launch-time dynamic region placed after the padded
// fixed section.
func (st *planState) sharedReferences() error {
	offsets := make(map[string]int)
	external := make(map[string]struct{})
	var externalOperands []*ptx.Operand
	externalAlignment := 1
	st.md.SharedSize = 0

	place := func(v *ptx.Variable) error {
		if v.Extern {
			if _, dup := external[v.Name]; dup {
				return &LayoutError{Kind: ErrDuplicateExternShared, Kernel: st.kernel.Name, Name: v.Name}
			}
			external[v.Name] = struct{}{}
			if a := v.Align(); a > externalAlignment {
				externalAlignment = a
			}
			if b := v.Type.Bytes(); b > externalAlignment {
				externalAlignment = b
			}
			st.tracer().Eventf(trace.LevelDetail, "  external shared variable %s", v.Name)
			return nil
		}
		st.md.SharedSize = padTo(st.md.SharedSize, v.Align())
		offsets[v.Name] = st.md.SharedSize
		st.tracer().Eventf(trace.LevelDetail, "  shared variable %s at offset %d", v.Name, st.md.SharedSize)
		st.md.SharedSize += v.Size()
		return nil
	}

	for i := range st.module.Globals {
		g := &st.module.Globals[i]
		if g.Directive != ptx.DirectiveShared {
			continue
		}
		if err := place(g); err != nil {
			return err
		}
	}
	for i := range st.kernel.Locals {
		l := &st.kernel.Locals[i]
		if l.Directive != ptx.DirectiveShared {
			continue
		}
		if err := place(l); err != nil {
			return err
		}
	}

	st.eachInstruction(func(in *ptx.Instruction) {
		if !rewritesOffsets(in.Opcode) && in.Opcode != ptx.OpCvta {
			return
		}
		for _, op := range in.Operands() {
			if op.Mode != ptx.AddressModeAddress {
				continue
			}
			if _, ok := external[op.Identifier]; ok {
				in.AddressSpace = ptx.SpaceShared
				externalOperands = append(externalOperands, op)
				continue
			}
			if base, ok := offsets[op.Identifier]; ok {
				in.AddressSpace = ptx.SpaceShared
				op.Offset += base
			}
		}
	})

	st.md.SharedSize = padTo(st.md.SharedSize, externalAlignment)
	for _, op := range externalOperands {
		st.tracer().Eventf(trace.LevelDetail,
			"  external shared label %s mapped to %d", op.Identifier, st.md.SharedSize)
		op.Offset += st.md.SharedSize
	}
	return nil
}

// constantReferences lays out .const module globals, identical to fixed-size
// shared layout.
func (st *planState) constantReferences() {
	st.md.ConstantSize = 0
	offsets := make(map[string]int)

	for i := range st.module.Globals {
		g := &st.module.Globals[i]
		if g.Directive != ptx.DirectiveConst {
			continue
		}
		st.md.ConstantSize = padTo(st.md.ConstantSize, g.Align())
		offsets[g.Name] = st.md.ConstantSize
		st.tracer().Eventf(trace.LevelDetail, "  constant variable %s at offset %d", g.Name, st.md.ConstantSize)
		st.md.ConstantSize += g.Size()
	}

	st.eachInstruction(func(in *ptx.Instruction) {
		if !rewritesOffsets(in.Opcode) {
			return
		}
		for _, op := range in.Operands() {
			if op.Mode != ptx.AddressModeAddress {
				continue
			}
			if base, ok := offsets[op.Identifier]; ok {
				in.AddressSpace = ptx.SpaceConst
				op.Offset += base
			}
		}
	})
}

// textureReferences allocates sequential texture slots in order of first use
// and resolves each identifier through the device.
func (st *planState) textureReferences() error {
	slots := make(map[string]int)

	var layoutErr *LayoutError
	st.eachInstruction(func(in *ptx.Instruction) {
		if layoutErr != nil || in.Opcode != ptx.OpTex {
			return
		}
		name := in.A.Identifier
		if slot, ok := slots[name]; ok {
			in.A.Register = mustRegister(slot)
			return
		}
		slot := len(slots)
		if st.device == nil {
			layoutErr = &LayoutError{Kind: ErrUnresolvedTexture, Kernel: st.kernel.Name, Name: name}
			return
		}
		tex, err := st.device.GetTextureReference(st.module.Path, name)
		if err != nil {
			layoutErr = &LayoutError{Kind: ErrUnresolvedTexture, Kernel: st.kernel.Name, Name: name, Err: err}
			return
		}
		slots[name] = slot
		in.A.Register = mustRegister(slot)
		st.md.Textures = append(st.md.Textures, tex)
		st.tracer().Eventf(trace.LevelDetail, "  texture %s allocated slot %d", name, slot)
	})
	return errOrNil(layoutErr)
}

// localReferences lays out local memory. A fixed-offset header precedes
// general locals: the barrier-resume local (offset 0 if declared), then the
// resume-status and resume-point words. The spill area, if declared, is
// placed last regardless of declaration order.
func (st *planState) localReferences() {
	st.md.LocalSize = 0
	offsets := make(map[string]int)

	place := func(v *ptx.Variable) {
		st.md.LocalSize = padTo(st.md.LocalSize, v.Align())
		offsets[v.Name] = st.md.LocalSize
		st.tracer().Eventf(trace.LevelDetail, "  local variable %s at offset %d", v.Name, st.md.LocalSize)
		st.md.LocalSize += v.Size()
	}

	if resume, ok := st.kernel.Local(ptx.BarrierResumeLocal); ok && resume.Directive == ptx.DirectiveLocal {
		place(resume)
	}

	const wordSize = 4
	st.md.LocalSize = padTo(st.md.LocalSize, wordSize)
	offsets[ptx.ResumeStatusLocal] = st.md.LocalSize
	st.md.ResumeStatusOffset = st.md.LocalSize
	st.md.LocalSize += wordSize
	st.md.LocalSize = padTo(st.md.LocalSize, wordSize)
	offsets[ptx.ResumePointLocal] = st.md.LocalSize
	st.md.ResumePointOffset = st.md.LocalSize
	st.md.LocalSize += wordSize

	for i := range st.kernel.Locals {
		l := &st.kernel.Locals[i]
		switch l.Name {
		case ptx.BarrierResumeLocal, ptx.SpillAreaLocal, ptx.ResumeStatusLocal, ptx.ResumePointLocal:
			continue
		}
		if l.Directive != ptx.DirectiveLocal {
			continue
		}
		place(l)
	}

	if spill, ok := st.kernel.Local(ptx.SpillAreaLocal); ok && spill.Directive == ptx.DirectiveLocal {
		place(spill)
	}

	st.eachInstruction(func(in *ptx.Instruction) {
		if !rewritesOffsets(in.Opcode) {
			return
		}
		for _, op := range in.Operands() {
			if op.Mode != ptx.AddressModeAddress {
				continue
			}
			if base, ok := offsets[op.Identifier]; ok {
				in.AddressSpace = ptx.SpaceLocal
				op.Offset += base
			}
		}
	})
}

func mustRegister(slot int) ptx.RegisterID {
	id, err := safecast.Conv[int32](slot)
	if err != nil {
		return ptx.NoRegisterID
	}
	return ptx.RegisterID(id)
}

func errOrNil(e *LayoutError) error {
	if e == nil {
		return nil
	}
	return e
}
