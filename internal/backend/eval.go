package backend

import (
	"encoding/binary"
	"fmt"
	"math"
)

// truncate masks a raw register value to the width of t.
func truncate(v uint64, t Type) uint64 {
	switch t.Bytes() {
	case 1:
		return v & 0xff
	case 2:
		return v & 0xffff
	case 4:
		return v & 0xffffffff
	default:
		return v
	}
}

// signExtend interprets a raw register value as a signed integer of type t.
func signExtend(v uint64, t Type) int64 {
	switch t.Bytes() {
	case 1:
		return int64(int8(v))
	case 2:
		return int64(int16(v))
	case 4:
		return int64(int32(v))
	default:
		return int64(v)
	}
}

// toFloat reinterprets a raw register value as the float of type t.
func toFloat(v uint64, t Type) float64 {
	if t == TypeF32 {
		return float64(math.Float32frombits(uint32(v)))
	}
	return math.Float64frombits(v)
}

// fromFloat stores a float into the raw-bit representation of type t.
func fromFloat(f float64, t Type) uint64 {
	if t == TypeF32 {
		return uint64(math.Float32bits(float32(f)))
	}
	return math.Float64bits(f)
}

// convert changes a raw value from one scalar type to another.
func convert(v uint64, from, to Type) uint64 {
	switch {
	case from.Float() && to.Float():
		return fromFloat(toFloat(v, from), to)
	case from.Float():
		return truncate(uint64(int64(toFloat(v, from))), to)
	case to.Float():
		if from.Signed() {
			return fromFloat(float64(signExtend(v, from)), to)
		}
		return fromFloat(float64(truncate(v, from)), to)
	case from.Signed():
		return truncate(uint64(signExtend(v, from)), to)
	default:
		return truncate(truncate(v, from), to)
	}
}

func compare(x, y uint64, cmp CmpKind, t Type) uint64 {
	var lt, eq bool
	switch {
	case t.Float():
		fx, fy := toFloat(x, t), toFloat(y, t)
		lt, eq = fx < fy, fx == fy
	case t.Signed():
		sx, sy := signExtend(x, t), signExtend(y, t)
		lt, eq = sx < sy, sx == sy
	default:
		ux, uy := truncate(x, t), truncate(y, t)
		lt, eq = ux < uy, ux == uy
	}
	var r bool
	switch cmp {
	case CmpEq:
		r = eq
	case CmpNe:
		r = !eq
	case CmpLt:
		r = lt
	case CmpLe:
		r = lt || eq
	case CmpGt:
		r = !lt && !eq
	case CmpGe:
		r = !lt
	}
	if r {
		return 1
	}
	return 0
}

func binop(in *Instr, x, y uint64) (uint64, error) {
	t := in.Type
	if t.Float() {
		fx, fy := toFloat(x, t), toFloat(y, t)
		var f float64
		switch in.Op {
		case OpAdd:
			f = fx + fy
		case OpSub:
			f = fx - fy
		case OpMul:
			f = fx * fy
		case OpDiv:
			f = fx / fy
		case OpRem:
			f = math.Mod(fx, fy)
		default:
			return 0, fmt.Errorf("op %s not defined for %s", in.Op, t)
		}
		return fromFloat(f, t), nil
	}

	shift := truncate(y, t) & 63
	switch in.Op {
	case OpAdd:
		return truncate(x+y, t), nil
	case OpSub:
		return truncate(x-y, t), nil
	case OpMul:
		return truncate(x*y, t), nil
	case OpDiv:
		if truncate(y, t) == 0 {
			return 0, fmt.Errorf("integer division by zero")
		}
		if t.Signed() {
			return truncate(uint64(signExtend(x, t)/signExtend(y, t)), t), nil
		}
		return truncate(truncate(x, t)/truncate(y, t), t), nil
	case OpRem:
		if truncate(y, t) == 0 {
			return 0, fmt.Errorf("integer remainder by zero")
		}
		if t.Signed() {
			return truncate(uint64(signExtend(x, t)%signExtend(y, t)), t), nil
		}
		return truncate(truncate(x, t)%truncate(y, t), t), nil
	case OpAnd:
		return truncate(x&y, t), nil
	case OpOr:
		return truncate(x|y, t), nil
	case OpXor:
		return truncate(x^y, t), nil
	case OpShl:
		return truncate(x<<shift, t), nil
	case OpShr:
		if t.Signed() {
			return truncate(uint64(signExtend(x, t)>>shift), t), nil
		}
		return truncate(truncate(x, t)>>shift, t), nil
	default:
		return 0, fmt.Errorf("unknown binary op %s", in.Op)
	}
}

func loadScalar(region []byte, off int64, t Type) (uint64, error) {
	n := int64(t.Bytes())
	if off < 0 || off+n > int64(len(region)) {
		return 0, fmt.Errorf("load of %d bytes at %d out of range (region %d bytes)", n, off, len(region))
	}
	switch n {
	case 1:
		return uint64(region[off]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(region[off:])), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(region[off:])), nil
	default:
		return binary.LittleEndian.Uint64(region[off:]), nil
	}
}

func storeScalar(region []byte, off int64, t Type, v uint64) error {
	n := int64(t.Bytes())
	if off < 0 || off+n > int64(len(region)) {
		return fmt.Errorf("store of %d bytes at %d out of range (region %d bytes)", n, off, len(region))
	}
	switch n {
	case 1:
		region[off] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(region[off:], uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(region[off:], uint32(v))
	default:
		binary.LittleEndian.PutUint64(region[off:], v)
	}
	return nil
}
