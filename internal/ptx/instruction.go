package ptx

import "strings"

// Opcode enumerates the instruction opcodes of the virtual ISA.
type Opcode uint8

const (
	OpInvalid Opcode = iota
	OpAdd
	OpAnd
	OpBar
	OpBra
	OpCall
	OpCvt
	OpCvta
	OpDiv
	OpExit
	OpLd
	OpMov
	OpMul
	OpNot
	OpOr
	OpRem
	OpRet
	OpSelp
	OpSetp
	OpShl
	OpShr
	OpSt
	OpSub
	OpTex
	OpXor
)

var opcodeNames = [...]string{
	OpInvalid: "invalid",
	OpAdd:     "add",
	OpAnd:     "and",
	OpBar:     "bar",
	OpBra:     "bra",
	OpCall:    "call",
	OpCvt:     "cvt",
	OpCvta:    "cvta",
	OpDiv:     "div",
	OpExit:    "exit",
	OpLd:      "ld",
	OpMov:     "mov",
	OpMul:     "mul",
	OpNot:     "not",
	OpOr:      "or",
	OpRem:     "rem",
	OpRet:     "ret",
	OpSelp:    "selp",
	OpSetp:    "setp",
	OpShl:     "shl",
	OpShr:     "shr",
	OpSt:      "st",
	OpSub:     "sub",
	OpTex:     "tex",
	OpXor:     "xor",
}

// String returns the opcode mnemonic.
func (o Opcode) String() string {
	if int(o) < len(opcodeNames) {
		return opcodeNames[o]
	}
	return "invalid"
}

// CmpOp enumerates setp comparison operators.
type CmpOp uint8

const (
	CmpNone CmpOp = iota
	CmpEq
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

// String returns the comparison suffix.
func (c CmpOp) String() string {
	switch c {
	case CmpEq:
		return "eq"
	case CmpNe:
		return "ne"
	case CmpLt:
		return "lt"
	case CmpLe:
		return "le"
	case CmpGt:
		return "gt"
	case CmpGe:
		return "ge"
	default:
		return ""
	}
}

// Instruction is one virtual-ISA instruction. The four operand slots follow
// the d, a, b, c convention: d is the destination, a through c are sources.
type Instruction struct {
	Opcode     Opcode
	Type       ScalarType
	Comparison CmpOp

	// AddressSpace is assigned by the layout planner for memory references.
	AddressSpace AddressSpace

	// Guard is the optional predicate register guarding execution.
	Guard        Operand
	GuardNegated bool

	D, A, B, C Operand

	// TailCall marks call instructions that reuse the caller's frame.
	TailCall bool
}

// Operands returns the operand slots in canonical d, a, b, c order.
func (in *Instruction) Operands() [4]*Operand {
	return [4]*Operand{&in.D, &in.A, &in.B, &in.C}
}

// Predicated reports whether the instruction carries a guard predicate.
func (in *Instruction) Predicated() bool {
	return in.Guard.Mode == AddressModeRegister
}

// String renders the instruction for diagnostics.
func (in *Instruction) String() string {
	var sb strings.Builder
	if in.Predicated() {
		sb.WriteByte('@')
		if in.GuardNegated {
			sb.WriteByte('!')
		}
		sb.WriteString(in.Guard.String())
		sb.WriteByte(' ')
	}
	sb.WriteString(in.Opcode.String())
	if in.Comparison != CmpNone {
		sb.WriteByte('.')
		sb.WriteString(in.Comparison.String())
	}
	if in.Type != TypeInvalid {
		sb.WriteByte('.')
		sb.WriteString(in.Type.String())
	}
	first := true
	for _, op := range [4]Operand{in.D, in.A, in.B, in.C} {
		if op.Mode == AddressModeInvalid {
			continue
		}
		if first {
			sb.WriteByte(' ')
			first = false
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(op.String())
	}
	return sb.String()
}

// BasicBlock is a labeled sequence of instructions.
type BasicBlock struct {
	Label        string
	Instructions []Instruction
}
