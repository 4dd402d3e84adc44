package translate

import (
	"fmt"

	"github.com/kaby76/gpuocelot/internal/ptx"
)

// ConvertPredicationToSelect rewrites guarded instructions into unguarded
// form. Pure computations run unconditionally into a fresh register and a
// select merges the result with the destination's prior value; memory
// operations are wrapped in a branch diamond instead, since they must not
// execute at all under a false guard. Guarded branches survive untouched and
// lower to conditional branches.
func ConvertPredicationToSelect(kernel *ptx.Kernel) {
	next := maxRegister(kernel) + 1
	diamonds := 0

	for bi := 0; bi < len(kernel.Blocks); bi++ {
		block := kernel.Blocks[bi]
		for i := 0; i < len(block.Instructions); i++ {
			in := &block.Instructions[i]
			if !in.Predicated() || in.Opcode == ptx.OpBra {
				continue
			}
			if selectable(in.Opcode) {
				tmp := next
				next++
				guard := in.Guard
				negated := in.GuardNegated
				dst := in.D

				in.Guard = ptx.Operand{}
				in.GuardNegated = false
				in.D = ptx.Reg(dst.Type, tmp)

				sel := ptx.Instruction{
					Opcode: ptx.OpSelp,
					Type:   dst.Type,
					D:      dst,
					A:      ptx.Reg(dst.Type, tmp),
					B:      dst,
					C:      guard,
				}
				if negated {
					sel.A, sel.B = sel.B, sel.A
				}
				block.Instructions = append(block.Instructions, ptx.Instruction{})
				copy(block.Instructions[i+2:], block.Instructions[i+1:])
				block.Instructions[i+1] = sel
				i++
				continue
			}

			// Memory side effects get a diamond: branch around the operation
			// when the guard is false.
			diamonds++
			skip := fmt.Sprintf("%s$s%d", block.Label, diamonds)
			body := fmt.Sprintf("%s$g%d", block.Label, diamonds)

			guarded := *in
			guarded.Guard = ptx.Operand{}
			guarded.GuardNegated = false

			branch := ptx.Instruction{
				Opcode:       ptx.OpBra,
				Guard:        in.Guard,
				GuardNegated: !in.GuardNegated,
				D:            ptx.Label(skip),
			}

			rest := make([]ptx.Instruction, len(block.Instructions[i+1:]))
			copy(rest, block.Instructions[i+1:])

			block.Instructions = append(block.Instructions[:i], branch)
			bodyBlock := &ptx.BasicBlock{Label: body, Instructions: []ptx.Instruction{guarded}}
			skipBlock := &ptx.BasicBlock{Label: skip, Instructions: rest}

			tail := make([]*ptx.BasicBlock, len(kernel.Blocks[bi+1:]))
			copy(tail, kernel.Blocks[bi+1:])
			kernel.Blocks = append(kernel.Blocks[:bi+1], bodyBlock, skipBlock)
			kernel.Blocks = append(kernel.Blocks, tail...)
			break
		}
	}
}

// selectable reports whether the predicated opcode can run unconditionally
// and merge through a select.
func selectable(op ptx.Opcode) bool {
	switch op {
	case ptx.OpAdd, ptx.OpAnd, ptx.OpCvt, ptx.OpCvta, ptx.OpMov, ptx.OpMul,
		ptx.OpNot, ptx.OpOr, ptx.OpSelp, ptx.OpSetp, ptx.OpShl, ptx.OpShr,
		ptx.OpSub, ptx.OpXor:
		return true
	case ptx.OpDiv, ptx.OpRem:
		// Unconditional execution could fault on a guarded-out zero divisor.
		return false
	default:
		return false
	}
}

// maxRegister returns the highest register id referenced by the kernel.
func maxRegister(kernel *ptx.Kernel) ptx.RegisterID {
	max := ptx.RegisterID(0)
	see := func(op *ptx.Operand) {
		switch op.Mode {
		case ptx.AddressModeRegister, ptx.AddressModeIndirect:
			if op.Register > max {
				max = op.Register
			}
		}
		for i := range op.Array {
			if op.Array[i].Mode == ptx.AddressModeRegister && op.Array[i].Register > max {
				max = op.Array[i].Register
			}
		}
	}
	for _, b := range kernel.Blocks {
		for i := range b.Instructions {
			in := &b.Instructions[i]
			for _, op := range in.Operands() {
				see(op)
			}
			see(&in.Guard)
		}
	}
	return max
}
