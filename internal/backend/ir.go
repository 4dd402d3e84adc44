// Package backend is the code-generation engine behind the translation
// layer: a register-machine intermediate representation with a textual
// assembly form, a pass pipeline, a structural verifier and a JIT that
// compiles verified functions into callable host closures.
//
// The engine is an explicit context object. Mutating operations (adding and
// removing modules or functions, binding globals) are serialized by the
// translation cache's build lock; compiled functions are immutable and safe
// for concurrent invocation.
package backend

// Type enumerates the scalar types of the backend IR.
type Type uint8

const (
	TypeInvalid Type = iota
	TypePred
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeS8
	TypeS16
	TypeS32
	TypeS64
	TypeF32
	TypeF64
)

// Bytes returns the storage size of the type.
func (t Type) Bytes() int {
	switch t {
	case TypePred, TypeU8, TypeS8:
		return 1
	case TypeU16, TypeS16:
		return 2
	case TypeU32, TypeS32, TypeF32:
		return 4
	case TypeU64, TypeS64, TypeF64:
		return 8
	default:
		return 0
	}
}

// Signed reports whether the type is a signed integer.
func (t Type) Signed() bool {
	switch t {
	case TypeS8, TypeS16, TypeS32, TypeS64:
		return true
	default:
		return false
	}
}

// Float reports whether the type is floating point.
func (t Type) Float() bool { return t == TypeF32 || t == TypeF64 }

// String returns the assembly spelling.
func (t Type) String() string {
	switch t {
	case TypePred:
		return "pred"
	case TypeU8:
		return "u8"
	case TypeU16:
		return "u16"
	case TypeU32:
		return "u32"
	case TypeU64:
		return "u64"
	case TypeS8:
		return "s8"
	case TypeS16:
		return "s16"
	case TypeS32:
		return "s32"
	case TypeS64:
		return "s64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	default:
		return "invalid"
	}
}

// Space enumerates the addressable memory regions.
type Space uint8

const (
	SpaceInvalid Space = iota
	SpaceArg
	SpaceParam
	SpaceShared
	SpaceLocal
	SpaceConst
	SpaceGlobal
)

// String returns the assembly spelling of the space.
func (s Space) String() string {
	switch s {
	case SpaceArg:
		return "arg"
	case SpaceParam:
		return "param"
	case SpaceShared:
		return "shared"
	case SpaceLocal:
		return "local"
	case SpaceConst:
		return "const"
	case SpaceGlobal:
		return "global"
	default:
		return "invalid"
	}
}

// OpKind enumerates instruction kinds.
type OpKind uint8

const (
	OpInvalid OpKind = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpCmp
	OpSel
	OpMov
	OpCvt
	OpLd
	OpSt
	OpTex
	OpSpecial
)

// Binary reports whether the op takes two source values.
func (o OpKind) Binary() bool {
	return o >= OpAdd && o <= OpCmp
}

// Pure reports whether the op has no side effects.
func (o OpKind) Pure() bool {
	return o != OpSt && o != OpInvalid
}

var opNames = [...]string{
	OpInvalid: "invalid",
	OpAdd:     "add",
	OpSub:     "sub",
	OpMul:     "mul",
	OpDiv:     "div",
	OpRem:     "rem",
	OpAnd:     "and",
	OpOr:      "or",
	OpXor:     "xor",
	OpShl:     "shl",
	OpShr:     "shr",
	OpCmp:     "cmp",
	OpSel:     "sel",
	OpMov:     "mov",
	OpCvt:     "cvt",
	OpLd:      "ld",
	OpSt:      "st",
	OpTex:     "tex",
	OpSpecial: "special",
}

// String returns the mnemonic.
func (o OpKind) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "invalid"
}

// CmpKind enumerates comparison conditions.
type CmpKind uint8

const (
	CmpNone CmpKind = iota
	CmpEq
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

// String returns the condition suffix.
func (c CmpKind) String() string {
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

// SpecialKind enumerates readable execution-context registers.
type SpecialKind uint8

const (
	SpecialNone SpecialKind = iota
	SpecialTid
	SpecialNtid
	SpecialCtaid
	SpecialNctaid
	SpecialLaneid
	SpecialWarpsize
)

// String returns the register name.
func (s SpecialKind) String() string {
	switch s {
	case SpecialTid:
		return "tid"
	case SpecialNtid:
		return "ntid"
	case SpecialCtaid:
		return "ctaid"
	case SpecialNctaid:
		return "nctaid"
	case SpecialLaneid:
		return "laneid"
	case SpecialWarpsize:
		return "warpsize"
	default:
		return "none"
	}
}

// ValueKind distinguishes value operand forms.
type ValueKind uint8

const (
	ValueNone ValueKind = iota
	ValueReg
	ValueImm
	// ValueSym is the address of a bound global symbol; at compile time it
	// resolves to an opaque handle encoding the symbol's region.
	ValueSym
)

// Value is a register, immediate or global-symbol operand. Immediates for
// float types carry the raw IEEE bit pattern.
type Value struct {
	Kind ValueKind
	Reg  string
	Imm  int64
	Sym  string
}

// RegValue builds a register value.
func RegValue(name string) Value { return Value{Kind: ValueReg, Reg: name} }

// ImmValue builds an immediate value.
func ImmValue(v int64) Value { return Value{Kind: ValueImm, Imm: v} }

// SymValue builds a global-symbol address value.
func SymValue(name string) Value { return Value{Kind: ValueSym, Sym: name} }

// IsImm reports whether the value is an immediate.
func (v Value) IsImm() bool { return v.Kind == ValueImm }

// IsReg reports whether the value is a register.
func (v Value) IsReg() bool { return v.Kind == ValueReg }

// Addr is a memory address expression: an optional register base, an
// optional global symbol base (global space only) and a byte offset.
type Addr struct {
	Reg string
	Sym string
	Off int64
}

// Instr is one backend instruction. Registers are mutable; the verifier only
// requires every used register to be defined somewhere in the function.
type Instr struct {
	Op      OpKind
	Type    Type
	SrcType Type // cvt source type
	Cmp     CmpKind
	Space   Space
	Special SpecialKind

	Dst     string
	X, Y, Z Value
	Addr    Addr
	TexSlot int
}

// Uses returns the value operands read by the instruction.
func (in *Instr) Uses() []Value {
	var uses []Value
	for _, v := range [3]Value{in.X, in.Y, in.Z} {
		if v.Kind != ValueNone {
			uses = append(uses, v)
		}
	}
	if in.Addr.Reg != "" {
		uses = append(uses, RegValue(in.Addr.Reg))
	}
	return uses
}

// TermKind enumerates block terminators.
type TermKind uint8

const (
	TermNone TermKind = iota
	TermBr
	TermCondBr
	TermRet
	TermExit
	TermYield
)

// YieldStatus describes why a lane stopped executing.
type YieldStatus uint8

const (
	// StatusRunning is the in-flight state; it never appears on a
	// terminator.
	StatusRunning YieldStatus = iota
	// StatusExited means the lane retired.
	StatusExited
	// StatusBarrier means the lane stopped at a barrier and names a resume
	// subkernel.
	StatusBarrier
	// StatusDivergent means the lane hit the divergence intrinsic and must
	// be rescheduled individually.
	StatusDivergent
)

// String returns the status spelling.
func (s YieldStatus) String() string {
	switch s {
	case StatusExited:
		return "exited"
	case StatusBarrier:
		return "barrier"
	case StatusDivergent:
		return "divergent"
	default:
		return "running"
	}
}

// Terminator ends a block.
type Terminator struct {
	Kind   TermKind
	Cond   Value
	Target string
	Else   string

	// Yield state for TermYield.
	Status YieldStatus
	Resume int64
}

// Block is a labeled instruction sequence ending in a terminator.
type Block struct {
	Label  string
	Instrs []Instr
	Term   Terminator
}

// Function is one backend function. The entry block is Blocks[0].
type Function struct {
	Name   string
	Blocks []*Block
}

// Block finds a block by label.
func (f *Function) Block(label string) (*Block, bool) {
	for _, b := range f.Blocks {
		if b.Label == label {
			return b, true
		}
	}
	return nil, false
}

// Module owns a set of backend functions and is registered with an Engine.
type Module struct {
	Name  string
	Funcs []*Function
}

// Func finds a function by name.
func (m *Module) Func(name string) (*Function, bool) {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}
