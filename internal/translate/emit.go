package translate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kaby76/gpuocelot/internal/backend"
	"github.com/kaby76/gpuocelot/internal/layout"
	"github.com/kaby76/gpuocelot/internal/ptx"
)

// Emit lowers a planned subkernel into textual backend assembly under the
// given function name. The kernel must already be planned (offsets folded
// into operands), predication-converted and call-resolved; md carries the
// planner's local-window offsets and targets carries the entry subkernels
// of resolved tail calls.
func Emit(name string, sk *ptx.Subkernel, md *layout.Metadata, targets map[string]ptx.SubkernelID) (string, error) {
	e := &emitter{sk: sk, targets: targets}
	_, e.resumable = sk.Kernel.Local(ptx.BarrierResumeLocal)
	e.statusOff = md.ResumeStatusOffset
	e.pointOff = md.ResumePointOffset

	fmt.Fprintf(&e.sb, "func @%s {\n", name)
	for bi, block := range sk.Kernel.Blocks {
		e.block(bi, block)
		if e.err != nil {
			return "", e.err
		}
	}
	e.sb.WriteString("}\n")
	return e.sb.String(), nil
}

type emitter struct {
	sb      strings.Builder
	sk      *ptx.Subkernel
	targets map[string]ptx.SubkernelID

	resumable           bool
	statusOff, pointOff int

	err error
}

func (e *emitter) failf(format string, args ...any) {
	if e.err == nil {
		e.err = fmt.Errorf(format, args...)
	}
}

func (e *emitter) line(format string, args ...any) {
	fmt.Fprintf(&e.sb, "  "+format+"\n", args...)
}

func (e *emitter) label(l string) {
	fmt.Fprintf(&e.sb, "%s:\n", l)
}

// block emits one source block, splitting it at mid-block control transfers
// into synthetic continuation blocks.
func (e *emitter) block(bi int, block *ptx.BasicBlock) {
	e.label(block.Label)
	terminated := false
	conts := 0

	for i := range block.Instructions {
		in := &block.Instructions[i]
		if e.err != nil {
			return
		}
		if terminated {
			// Instructions after a transfer are unreachable; park them in a
			// dead block so nothing is silently dropped.
			conts++
			e.label(fmt.Sprintf("%s$dead%d", block.Label, conts))
			terminated = false
		}
		switch e.transfer(bi, block, i, in, &conts) {
		case notTransfer:
			e.instr(block.Label, in)
		case transferDone:
			terminated = true
		case transferContinues:
			// A guarded branch fell through into a synthetic continuation
			// block; keep emitting there.
		}
	}

	if !terminated {
		e.fallthroughTo(bi)
	}
}

type transferKind uint8

const (
	notTransfer transferKind = iota
	transferDone
	transferContinues
)

// transfer emits control-transfer opcodes and reports how emission resumes.
func (e *emitter) transfer(bi int, block *ptx.BasicBlock, i int, in *ptx.Instruction, conts *int) transferKind {
	switch in.Opcode {
	case ptx.OpBra:
		if in.D.Mode != ptx.AddressModeLabel {
			e.failf("block %s: branch without label target", block.Label)
			return transferDone
		}
		if !in.Predicated() {
			e.line("br %s", in.D.Identifier)
			return transferDone
		}
		cond := e.value(block.Label, &in.Guard)
		last := i+1 == len(block.Instructions)
		if last && bi+1 < len(e.sk.Kernel.Blocks) {
			// The fallthrough successor already exists as a source block.
			next := e.sk.Kernel.Blocks[bi+1].Label
			target, other := in.D.Identifier, next
			if in.GuardNegated {
				target, other = other, target
			}
			e.line("br %s, %s, %s", cond, target, other)
			return transferDone
		}
		*conts++
		cont := fmt.Sprintf("%s$c%d", block.Label, *conts)
		target, other := in.D.Identifier, cont
		if in.GuardNegated {
			target, other = other, target
		}
		e.line("br %s, %s, %s", cond, target, other)
		e.label(cont)
		return transferContinues
	case ptx.OpBar:
		e.yield(backend.StatusBarrier, e.sk.ResumeTarget)
		return transferDone
	case ptx.OpCall:
		if in.Predicated() {
			e.failf("block %s: guarded call survived predication lowering", block.Label)
			return transferDone
		}
		if in.A.Identifier == ptx.DivergenceIntrinsic {
			e.yield(backend.StatusDivergent, e.sk.ID)
			return transferDone
		}
		entry, ok := e.targets[in.A.Identifier]
		if !ok {
			e.failf("block %s: unresolved call target %q", block.Label, in.A.Identifier)
			return transferDone
		}
		e.yield(backend.StatusBarrier, entry)
		return transferDone
	case ptx.OpRet:
		e.line("ret")
		return transferDone
	case ptx.OpExit:
		e.line("exit")
		return transferDone
	default:
		return notTransfer
	}
}

// fallthroughTo closes the current emitted block: a branch to the next source
// block, or the fragment epilogue after the last one.
func (e *emitter) fallthroughTo(bi int) {
	if bi+1 < len(e.sk.Kernel.Blocks) {
		e.line("br %s", e.sk.Kernel.Blocks[bi+1].Label)
		return
	}
	e.line("exit")
}

// yield emits the cooperative-yield epilogue: the status and resume words go
// to their fixed local slots, the barrier-next word (when the fragment is
// resumable) mirrors the resume subkernel, and the matching yield terminator
// follows. A barrier with no successor fragment retires the warp instead.
func (e *emitter) yield(status backend.YieldStatus, resume ptx.SubkernelID) {
	if status == backend.StatusBarrier && resume == ptx.NoSubkernelID {
		e.line("exit")
		return
	}
	e.line("st.local.u32 [%d], %d", e.statusOff, int(status))
	e.line("st.local.u32 [%d], %d", e.pointOff, int(resume))
	if e.resumable {
		e.line("st.local.u32 [0], %d", int(resume))
	}
	switch status {
	case backend.StatusBarrier:
		e.line("yield barrier %d", int(resume))
	default:
		e.line("yield divergent")
	}
}

func (e *emitter) instr(label string, in *ptx.Instruction) {
	if in.Predicated() {
		e.failf("block %s: guarded %s survived predication lowering", label, in.Opcode)
		return
	}
	t := typeName(in.Type)
	switch in.Opcode {
	case ptx.OpAdd, ptx.OpSub, ptx.OpMul, ptx.OpDiv, ptx.OpRem,
		ptx.OpAnd, ptx.OpOr, ptx.OpXor, ptx.OpShl, ptx.OpShr:
		e.line("%s = %s.%s %s, %s", e.dest(label, in), in.Opcode, t,
			e.value(label, &in.A), e.value(label, &in.B))
	case ptx.OpNot:
		e.line("%s = xor.%s %s, -1", e.dest(label, in), t, e.value(label, &in.A))
	case ptx.OpSetp:
		e.line("%s = cmp.%s.%s %s, %s", e.dest(label, in), in.Comparison, t,
			e.value(label, &in.A), e.value(label, &in.B))
	case ptx.OpSelp:
		e.line("%s = sel.%s %s, %s, %s", e.dest(label, in),
			t, e.value(label, &in.C), e.value(label, &in.A), e.value(label, &in.B))
	case ptx.OpCvt:
		src := in.A.Type
		if src == ptx.TypeInvalid {
			src = in.Type
		}
		e.line("%s = cvt.%s.%s %s", e.dest(label, in), t, typeName(src), e.value(label, &in.A))
	case ptx.OpMov, ptx.OpCvta:
		e.move(label, in)
	case ptx.OpLd:
		e.line("%s = ld.%s.%s %s", e.dest(label, in),
			memSpace(in, &in.A), t, e.address(label, in, &in.A))
	case ptx.OpSt:
		e.line("st.%s.%s %s, %s",
			memSpace(in, &in.D), t, e.address(label, in, &in.D), e.value(label, &in.A))
	case ptx.OpTex:
		e.line("%s = tex.%s %d, %s", e.dest(label, in), t,
			int(in.A.Register), e.value(label, &in.B))
	default:
		e.failf("block %s: cannot lower %s", label, in)
	}
}

// move lowers mov and cvta. Address operands materialize the space-relative
// offset; global addresses materialize the symbol handle resolved at compile
// time.
func (e *emitter) move(label string, in *ptx.Instruction) {
	dst := e.dest(label, in)
	switch in.A.Mode {
	case ptx.AddressModeRegister, ptx.AddressModeImmediate:
		e.line("%s = mov.%s %s", dst, typeName(in.Type), e.value(label, &in.A))
	case ptx.AddressModeSpecial:
		e.line("%s = special.%s %s", dst, typeName(in.Type),
			strings.TrimPrefix(in.A.Special.String(), "%"))
	case ptx.AddressModeAddress:
		if in.AddressSpace == ptx.SpaceGlobal {
			e.line("%s = mov.u64 @%s", dst, in.A.Identifier)
			if in.A.Offset != 0 {
				e.line("%s = add.u64 %s, %d", dst, dst, in.A.Offset)
			}
			return
		}
		e.line("%s = mov.u64 %d", dst, in.A.Offset)
	case ptx.AddressModeIndirect:
		if in.A.Offset != 0 {
			e.line("%s = add.u64 %%r%d, %d", dst, int(in.A.Register), in.A.Offset)
			return
		}
		e.line("%s = mov.u64 %%r%d", dst, int(in.A.Register))
	default:
		e.failf("block %s: cannot lower %s", label, in)
	}
}

func (e *emitter) dest(label string, in *ptx.Instruction) string {
	if in.D.Mode != ptx.AddressModeRegister {
		e.failf("block %s: %s destination is not a register", label, in.Opcode)
		return "%r0"
	}
	return "%r" + strconv.Itoa(int(in.D.Register))
}

func (e *emitter) value(label string, op *ptx.Operand) string {
	switch op.Mode {
	case ptx.AddressModeRegister:
		return "%r" + strconv.Itoa(int(op.Register))
	case ptx.AddressModeImmediate:
		return strconv.FormatInt(op.Immediate, 10)
	default:
		e.failf("block %s: operand %s is not a value", label, op)
		return "0"
	}
}

func (e *emitter) address(label string, in *ptx.Instruction, op *ptx.Operand) string {
	switch op.Mode {
	case ptx.AddressModeAddress:
		if in.AddressSpace == ptx.SpaceGlobal {
			if op.Offset != 0 {
				return fmt.Sprintf("[@%s+%d]", op.Identifier, op.Offset)
			}
			return fmt.Sprintf("[@%s]", op.Identifier)
		}
		return fmt.Sprintf("[%d]", op.Offset)
	case ptx.AddressModeIndirect:
		if op.Offset != 0 {
			return fmt.Sprintf("[%%r%d+%d]", int(op.Register), op.Offset)
		}
		return fmt.Sprintf("[%%r%d]", int(op.Register))
	default:
		e.failf("block %s: operand %s is not an address", label, op)
		return "[0]"
	}
}

// memSpace maps a planned memory reference to the backend space tag.
func memSpace(in *ptx.Instruction, op *ptx.Operand) string {
	if op.Mode == ptx.AddressModeAddress && op.IsArgument {
		return "arg"
	}
	switch in.AddressSpace {
	case ptx.SpaceShared:
		return "shared"
	case ptx.SpaceConst:
		return "const"
	case ptx.SpaceLocal:
		return "local"
	case ptx.SpaceParam:
		return "param"
	default:
		return "global"
	}
}

// typeName maps virtual-ISA scalar types to backend type spellings. The
// backend has no untyped bit types; they lower as unsigned of the same width.
func typeName(t ptx.ScalarType) string {
	switch t {
	case ptx.TypeB8:
		return "u8"
	case ptx.TypeB16:
		return "u16"
	case ptx.TypeB32:
		return "u32"
	case ptx.TypeB64:
		return "u64"
	default:
		return t.String()
	}
}
