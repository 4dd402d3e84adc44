package translate

import (
	"sort"

	"github.com/kaby76/gpuocelot/internal/ptx"
)

// SSAState records the register renaming applied by ToSSA so the kernel can
// be restored when lowering fails after the conversion.
type SSAState struct {
	kernel *ptx.Kernel
	base   map[ptx.RegisterID]ptx.RegisterID
}

// ToSSA renames registers so that each is assigned at most once per block.
// Cross-block flow keeps the original register as the canonical name: the
// current version of every renamed register is copied back before every
// control transfer out of the block, so a guarded branch taken mid-block
// leaves the canonical registers up to date for its successor. The result is
// the single-assignment form the lowering and the value-numbering tiers
// expect, without any join pseudo-instruction.
func ToSSA(kernel *ptx.Kernel) *SSAState {
	st := &SSAState{kernel: kernel, base: make(map[ptx.RegisterID]ptx.RegisterID)}
	next := maxRegister(kernel) + 1

	for _, block := range kernel.Blocks {
		current := make(map[ptx.RegisterID]ptx.RegisterID)
		types := make(map[ptx.RegisterID]ptx.ScalarType)

		out := make([]ptx.Instruction, 0, len(block.Instructions))
		for i := range block.Instructions {
			in := block.Instructions[i]
			renameUses(&in, current)
			if transfersControl(in.Opcode) {
				out = append(out, copyBacks(current, types)...)
			}
			if definesDestination(in.Opcode) && in.D.Mode == ptx.AddressModeRegister {
				orig := in.D.Register
				if base, renamed := st.base[orig]; renamed {
					orig = base
				}
				version := next
				next++
				st.base[version] = orig
				current[orig] = version
				types[orig] = in.D.Type
				in.D.Register = version
			}
			out = append(out, in)
		}
		// A block that falls through still publishes its final versions.
		if len(out) == 0 || !transfersControl(out[len(out)-1].Opcode) {
			out = append(out, copyBacks(current, types)...)
		}
		block.Instructions = out
	}
	return st
}

// Revert undoes the renaming in place; inserted copy-backs collapse to
// self-moves and are removed.
func (st *SSAState) Revert() {
	for _, block := range st.kernel.Blocks {
		kept := block.Instructions[:0]
		for i := range block.Instructions {
			in := &block.Instructions[i]
			for _, op := range in.Operands() {
				st.revertOperand(op)
			}
			st.revertOperand(&in.Guard)
			if in.Opcode == ptx.OpMov &&
				in.D.Mode == ptx.AddressModeRegister &&
				in.A.Mode == ptx.AddressModeRegister &&
				in.D.Register == in.A.Register {
				continue
			}
			kept = append(kept, *in)
		}
		block.Instructions = kept
	}
}

func (st *SSAState) revertOperand(op *ptx.Operand) {
	switch op.Mode {
	case ptx.AddressModeRegister, ptx.AddressModeIndirect:
		if base, ok := st.base[op.Register]; ok {
			op.Register = base
		}
	}
	for i := range op.Array {
		st.revertOperand(&op.Array[i])
	}
}

func renameUses(in *ptx.Instruction, current map[ptx.RegisterID]ptx.RegisterID) {
	rename := func(op *ptx.Operand) {
		switch op.Mode {
		case ptx.AddressModeRegister, ptx.AddressModeIndirect:
			if v, ok := current[op.Register]; ok {
				op.Register = v
			}
		}
		for i := range op.Array {
			if op.Array[i].Mode == ptx.AddressModeRegister {
				if v, ok := current[op.Array[i].Register]; ok {
					op.Array[i].Register = v
				}
			}
		}
	}
	rename(&in.A)
	rename(&in.B)
	rename(&in.C)
	rename(&in.Guard)
	// The destination slot is a use for stores and an address base for
	// indirect destinations.
	if !definesDestination(in.Opcode) || in.D.Mode == ptx.AddressModeIndirect {
		rename(&in.D)
	}
}

func copyBacks(current map[ptx.RegisterID]ptx.RegisterID, types map[ptx.RegisterID]ptx.ScalarType) []ptx.Instruction {
	origs := make([]ptx.RegisterID, 0, len(current))
	for orig := range current {
		origs = append(origs, orig)
	}
	sort.Slice(origs, func(i, j int) bool { return origs[i] < origs[j] })

	copies := make([]ptx.Instruction, 0, len(origs))
	for _, orig := range origs {
		t := types[orig]
		copies = append(copies, ptx.Instruction{
			Opcode: ptx.OpMov,
			Type:   t,
			D:      ptx.Reg(t, orig),
			A:      ptx.Reg(t, current[orig]),
		})
	}
	return copies
}

func transfersControl(op ptx.Opcode) bool {
	switch op {
	case ptx.OpBra, ptx.OpBar, ptx.OpCall, ptx.OpExit, ptx.OpRet:
		return true
	default:
		return false
	}
}

// definesDestination reports whether the opcode writes its d slot.
func definesDestination(op ptx.Opcode) bool {
	switch op {
	case ptx.OpBar, ptx.OpBra, ptx.OpCall, ptx.OpExit, ptx.OpRet, ptx.OpSt:
		return false
	default:
		return true
	}
}
