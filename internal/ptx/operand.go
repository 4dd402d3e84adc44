package ptx

import (
	"fmt"
	"strconv"
)

// AddressMode enumerates operand addressing modes.
type AddressMode uint8

const (
	AddressModeInvalid AddressMode = iota
	// AddressModeRegister names a virtual register.
	AddressModeRegister
	// AddressModeImmediate is an inline constant.
	AddressModeImmediate
	// AddressModeAddress references a declared variable by identifier, with
	// an additive byte offset resolved by the layout planner.
	AddressModeAddress
	// AddressModeIndirect addresses memory through a register plus offset.
	AddressModeIndirect
	// AddressModeFunctionName names a call target.
	AddressModeFunctionName
	// AddressModeLabel names a basic block.
	AddressModeLabel
	// AddressModeSpecial reads a special hardware register.
	AddressModeSpecial
)

// String returns the mode name.
func (m AddressMode) String() string {
	switch m {
	case AddressModeRegister:
		return "register"
	case AddressModeImmediate:
		return "immediate"
	case AddressModeAddress:
		return "address"
	case AddressModeIndirect:
		return "indirect"
	case AddressModeFunctionName:
		return "function"
	case AddressModeLabel:
		return "label"
	case AddressModeSpecial:
		return "special"
	default:
		return "invalid"
	}
}

// SpecialRegister enumerates readable special hardware registers.
type SpecialRegister uint8

const (
	SpecialNone SpecialRegister = iota
	SpecialTid
	SpecialNtid
	SpecialCtaid
	SpecialNctaid
	SpecialLaneID
	SpecialWarpSize
)

// String returns the special register spelling.
func (s SpecialRegister) String() string {
	switch s {
	case SpecialTid:
		return "%tid"
	case SpecialNtid:
		return "%ntid"
	case SpecialCtaid:
		return "%ctaid"
	case SpecialNctaid:
		return "%nctaid"
	case SpecialLaneID:
		return "%laneid"
	case SpecialWarpSize:
		return "%warpsize"
	default:
		return "%none"
	}
}

// Operand is one of the up-to-four operand slots of an instruction.
type Operand struct {
	Mode AddressMode
	Type ScalarType

	// Identifier names a variable (Address mode), a call target
	// (FunctionName mode) or a branch target (Label mode).
	Identifier string

	// Register is the virtual register for Register and Indirect modes. For
	// the sampler operand of a texture fetch the planner rewrites it to the
	// allocated texture slot.
	Register RegisterID

	// Immediate is the inline constant for Immediate mode.
	Immediate int64

	// Offset is the additive byte offset of Address and Indirect operands.
	// The layout planner folds the variable's assigned base offset into it.
	Offset int

	// IsArgument marks an Address operand that resolved to a declared kernel
	// argument rather than a call-parameter slot.
	IsArgument bool

	// Special selects the hardware register for Special mode.
	Special SpecialRegister

	// Array carries the flattened operand list of call instructions
	// (return values in slot d, input arguments in slot b).
	Array []Operand
}

// Reg builds a register operand.
func Reg(t ScalarType, id RegisterID) Operand {
	return Operand{Mode: AddressModeRegister, Type: t, Register: id}
}

// Imm builds an immediate operand.
func Imm(t ScalarType, v int64) Operand {
	return Operand{Mode: AddressModeImmediate, Type: t, Immediate: v}
}

// Sym builds an address operand referencing a declared variable.
func Sym(t ScalarType, name string) Operand {
	return Operand{Mode: AddressModeAddress, Type: t, Identifier: name}
}

// Label builds a branch target operand.
func Label(name string) Operand {
	return Operand{Mode: AddressModeLabel, Identifier: name}
}

// String renders the operand for diagnostics.
func (o Operand) String() string {
	switch o.Mode {
	case AddressModeRegister:
		return "%r" + strconv.Itoa(int(o.Register))
	case AddressModeImmediate:
		return strconv.FormatInt(o.Immediate, 10)
	case AddressModeAddress:
		if o.Offset != 0 {
			return fmt.Sprintf("[%s+%d]", o.Identifier, o.Offset)
		}
		return "[" + o.Identifier + "]"
	case AddressModeIndirect:
		return fmt.Sprintf("[%%r%d+%d]", o.Register, o.Offset)
	case AddressModeFunctionName, AddressModeLabel:
		return o.Identifier
	case AddressModeSpecial:
		return o.Special.String()
	default:
		return "<invalid>"
	}
}

// Sreg builds a special-register operand.
func Sreg(t ScalarType, s SpecialRegister) Operand {
	return Operand{Mode: AddressModeSpecial, Type: t, Special: s}
}
