package ptx

// SubkernelID identifies a subkernel within the translation layer. IDs are
// assigned at registration time and stay stable for the kernel's lifetime.
type SubkernelID uint32

// NoSubkernelID is the absent-subkernel sentinel.
const NoSubkernelID SubkernelID = ^SubkernelID(0)

// RegisterID identifies a virtual register.
type RegisterID int32

// NoRegisterID is the absent-register sentinel.
const NoRegisterID RegisterID = -1

// ScalarType enumerates the scalar data types of the virtual ISA.
type ScalarType uint8

const (
	TypeInvalid ScalarType = iota
	TypePred
	TypeB8
	TypeB16
	TypeB32
	TypeB64
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

// Bytes returns the storage size of the type in bytes.
func (t ScalarType) Bytes() int {
	switch t {
	case TypePred, TypeB8, TypeU8, TypeS8:
		return 1
	case TypeB16, TypeU16, TypeS16:
		return 2
	case TypeB32, TypeU32, TypeS32, TypeF32:
		return 4
	case TypeB64, TypeU64, TypeS64, TypeF64:
		return 8
	default:
		return 0
	}
}

// Signed reports whether the type is a signed integer type.
func (t ScalarType) Signed() bool {
	switch t {
	case TypeS8, TypeS16, TypeS32, TypeS64:
		return true
	default:
		return false
	}
}

// Float reports whether the type is a floating-point type.
func (t ScalarType) Float() bool {
	return t == TypeF32 || t == TypeF64
}

// String returns the assembly spelling of the type.
func (t ScalarType) String() string {
	switch t {
	case TypePred:
		return "pred"
	case TypeB8:
		return "b8"
	case TypeB16:
		return "b16"
	case TypeB32:
		return "b32"
	case TypeB64:
		return "b64"
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

// AddressSpace enumerates the logical memory regions of the virtual ISA.
// Each space has independent offset numbering.
type AddressSpace uint8

const (
	SpaceGeneric AddressSpace = iota
	SpaceGlobal
	SpaceShared
	SpaceConst
	SpaceLocal
	SpaceParam
	SpaceTexture
)

// String returns the lowercase name of the address space.
func (s AddressSpace) String() string {
	switch s {
	case SpaceGlobal:
		return "global"
	case SpaceShared:
		return "shared"
	case SpaceConst:
		return "const"
	case SpaceLocal:
		return "local"
	case SpaceParam:
		return "param"
	case SpaceTexture:
		return "texture"
	default:
		return "generic"
	}
}

// Directive enumerates the declaration directives of module and kernel
// variables.
type Directive uint8

const (
	DirectiveNone Directive = iota
	DirectiveGlobal
	DirectiveShared
	DirectiveConst
	DirectiveLocal
	DirectiveParam
)

// String returns the directive spelling.
func (d Directive) String() string {
	switch d {
	case DirectiveGlobal:
		return ".global"
	case DirectiveShared:
		return ".shared"
	case DirectiveConst:
		return ".const"
	case DirectiveLocal:
		return ".local"
	case DirectiveParam:
		return ".param"
	default:
		return ".none"
	}
}

// Reserved identifiers recognized by the translation layer. The partitioner
// and the layout planner treat these names specially.
const (
	// BarrierResumeLocal holds the subkernel id to resume after a barrier.
	// When declared it always occupies local offset 0.
	BarrierResumeLocal = "_Zocelot_barrier_next_kernel"
	// ResumeStatusLocal is the cooperative-yield status word.
	ResumeStatusLocal = "_Zocelot_resume_status"
	// ResumePointLocal is the cooperative-yield resume point word.
	ResumePointLocal = "_Zocelot_resume_point"
	// SpillAreaLocal is the register spill area. It is always placed last in
	// local memory regardless of declaration order.
	SpillAreaLocal = "_Zocelot_spill_area"
	// DivergenceIntrinsic is the sole call target the translation layer
	// leaves unresolved; it is lowered specially instead of being linked.
	DivergenceIntrinsic = "ptx.warp.divergent"
)
