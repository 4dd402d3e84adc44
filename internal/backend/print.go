package backend

import (
	"fmt"
	"strings"
)

// Assemble renders the module in textual assembly form.
func Assemble(m *Module) string {
	var sb strings.Builder
	for i, f := range m.Funcs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		writeFunction(&sb, f)
	}
	return sb.String()
}

// String renders the function in textual assembly form.
func (f *Function) String() string {
	var sb strings.Builder
	writeFunction(&sb, f)
	return sb.String()
}

func writeFunction(sb *strings.Builder, f *Function) {
	fmt.Fprintf(sb, "func @%s {\n", f.Name)
	for _, b := range f.Blocks {
		fmt.Fprintf(sb, "%s:\n", b.Label)
		for i := range b.Instrs {
			sb.WriteByte('\t')
			sb.WriteString(b.Instrs[i].String())
			sb.WriteByte('\n')
		}
		sb.WriteByte('\t')
		sb.WriteString(b.Term.String())
		sb.WriteByte('\n')
	}
	sb.WriteString("}\n")
}

// String renders one instruction.
func (in *Instr) String() string {
	var sb strings.Builder
	if in.Dst != "" {
		sb.WriteByte('%')
		sb.WriteString(in.Dst)
		sb.WriteString(" = ")
	}
	switch in.Op {
	case OpCmp:
		fmt.Fprintf(&sb, "cmp.%s.%s %s, %s", in.Cmp, in.Type, in.X, in.Y)
	case OpSel:
		fmt.Fprintf(&sb, "sel.%s %s, %s, %s", in.Type, in.X, in.Y, in.Z)
	case OpMov:
		fmt.Fprintf(&sb, "mov.%s %s", in.Type, in.X)
	case OpCvt:
		fmt.Fprintf(&sb, "cvt.%s.%s %s", in.Type, in.SrcType, in.X)
	case OpLd:
		fmt.Fprintf(&sb, "ld.%s.%s %s", in.Space, in.Type, in.Addr)
	case OpSt:
		fmt.Fprintf(&sb, "st.%s.%s %s, %s", in.Space, in.Type, in.Addr, in.X)
	case OpTex:
		fmt.Fprintf(&sb, "tex.%s %d, %s", in.Type, in.TexSlot, in.X)
	case OpSpecial:
		fmt.Fprintf(&sb, "special.%s %s", in.Type, in.Special)
	default:
		fmt.Fprintf(&sb, "%s.%s %s, %s", in.Op, in.Type, in.X, in.Y)
	}
	return sb.String()
}

// String renders the terminator.
func (t Terminator) String() string {
	switch t.Kind {
	case TermBr:
		return "br " + t.Target
	case TermCondBr:
		return fmt.Sprintf("br %s, %s, %s", t.Cond, t.Target, t.Else)
	case TermRet:
		return "ret"
	case TermExit:
		return "exit"
	case TermYield:
		if t.Status == StatusBarrier {
			return fmt.Sprintf("yield barrier %d", t.Resume)
		}
		return "yield divergent"
	default:
		return "<unterminated>"
	}
}

// String renders a value operand.
func (v Value) String() string {
	switch v.Kind {
	case ValueReg:
		return "%" + v.Reg
	case ValueImm:
		return fmt.Sprintf("%d", v.Imm)
	case ValueSym:
		return "@" + v.Sym
	default:
		return "<none>"
	}
}

// String renders an address expression.
func (a Addr) String() string {
	switch {
	case a.Sym != "":
		return fmt.Sprintf("[@%s+%d]", a.Sym, a.Off)
	case a.Reg != "":
		return fmt.Sprintf("[%%%s+%d]", a.Reg, a.Off)
	default:
		return fmt.Sprintf("[%d]", a.Off)
	}
}
