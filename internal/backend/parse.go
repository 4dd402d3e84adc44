package backend

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError is a diagnostic produced while parsing textual assembly.
type ParseError struct {
	Line    int
	Message string
	Text    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("assembly parse error at line %d: %s: %q", e.Line, e.Message, e.Text)
}

// ParseAssembly parses a textual assembly fragment into functions. On any
// error nothing is returned; the fragment is accepted or rejected as a whole.
func ParseAssembly(text string) ([]*Function, error) {
	p := &asmParser{}
	lines := strings.Split(text, "\n")
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if err := p.line(i+1, line); err != nil {
			return nil, err
		}
	}
	if p.fn != nil {
		return nil, &ParseError{Line: len(lines), Message: "unterminated function", Text: p.fn.Name}
	}
	return p.funcs, nil
}

type asmParser struct {
	funcs []*Function
	fn    *Function
	block *Block
}

func (p *asmParser) errf(n int, text, format string, args ...any) error {
	return &ParseError{Line: n, Message: fmt.Sprintf(format, args...), Text: text}
}

func (p *asmParser) line(n int, line string) error {
	switch {
	case strings.HasPrefix(line, "func "):
		if p.fn != nil {
			return p.errf(n, line, "nested function")
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, "func "))
		rest = strings.TrimSuffix(rest, "{")
		rest = strings.TrimSpace(rest)
		if !strings.HasPrefix(rest, "@") || len(rest) < 2 {
			return p.errf(n, line, "malformed function header")
		}
		p.fn = &Function{Name: rest[1:]}
		return nil
	case line == "}":
		if p.fn == nil {
			return p.errf(n, line, "unexpected closing brace")
		}
		if len(p.fn.Blocks) == 0 {
			return p.errf(n, line, "function %s has no blocks", p.fn.Name)
		}
		p.funcs = append(p.funcs, p.fn)
		p.fn = nil
		p.block = nil
		return nil
	case strings.HasSuffix(line, ":"):
		if p.fn == nil {
			return p.errf(n, line, "label outside function")
		}
		label := strings.TrimSuffix(line, ":")
		if label == "" {
			return p.errf(n, line, "empty label")
		}
		p.block = &Block{Label: label}
		p.fn.Blocks = append(p.fn.Blocks, p.block)
		return nil
	default:
		if p.block == nil {
			return p.errf(n, line, "instruction outside block")
		}
		return p.statement(n, line)
	}
}

func (p *asmParser) statement(n int, line string) error {
	if term, ok, err := parseTerminator(n, line); err != nil {
		return err
	} else if ok {
		if p.block.Term.Kind != TermNone {
			return p.errf(n, line, "block %s already terminated", p.block.Label)
		}
		p.block.Term = term
		return nil
	}
	in, err := parseInstr(n, line)
	if err != nil {
		return err
	}
	if p.block.Term.Kind != TermNone {
		return p.errf(n, line, "instruction after terminator in block %s", p.block.Label)
	}
	p.block.Instrs = append(p.block.Instrs, in)
	return nil
}

func parseTerminator(n int, line string) (Terminator, bool, error) {
	fields := splitOperands(line)
	switch {
	case line == "ret":
		return Terminator{Kind: TermRet}, true, nil
	case line == "exit":
		return Terminator{Kind: TermExit}, true, nil
	case strings.HasPrefix(line, "yield"):
		rest := strings.Fields(strings.TrimPrefix(line, "yield"))
		switch {
		case len(rest) == 1 && rest[0] == "divergent":
			return Terminator{Kind: TermYield, Status: StatusDivergent}, true, nil
		case len(rest) == 2 && rest[0] == "barrier":
			resume, err := strconv.ParseInt(rest[1], 10, 64)
			if err != nil {
				return Terminator{}, true, &ParseError{Line: n, Message: "malformed yield resume point", Text: line}
			}
			return Terminator{Kind: TermYield, Status: StatusBarrier, Resume: resume}, true, nil
		default:
			return Terminator{}, true, &ParseError{Line: n, Message: "malformed yield", Text: line}
		}
	case strings.HasPrefix(line, "br "):
		switch len(fields) {
		case 2:
			return Terminator{Kind: TermBr, Target: fields[1]}, true, nil
		case 4:
			cond, err := parseValue(fields[1])
			if err != nil {
				return Terminator{}, true, &ParseError{Line: n, Message: err.Error(), Text: line}
			}
			return Terminator{Kind: TermCondBr, Cond: cond, Target: fields[2], Else: fields[3]}, true, nil
		default:
			return Terminator{}, true, &ParseError{Line: n, Message: "malformed branch", Text: line}
		}
	}
	return Terminator{}, false, nil
}

func parseInstr(n int, line string) (Instr, error) {
	var in Instr
	body := line
	if strings.HasPrefix(line, "%") {
		eq := strings.Index(line, "=")
		if eq < 0 {
			return in, &ParseError{Line: n, Message: "missing assignment", Text: line}
		}
		dst := strings.TrimSpace(line[:eq])
		in.Dst = strings.TrimPrefix(dst, "%")
		body = strings.TrimSpace(line[eq+1:])
	}

	fields := splitOperands(body)
	if len(fields) == 0 {
		return in, &ParseError{Line: n, Message: "empty instruction", Text: line}
	}
	spec := strings.Split(fields[0], ".")
	ops := fields[1:]

	fail := func(format string, args ...any) (Instr, error) {
		return in, &ParseError{Line: n, Message: fmt.Sprintf(format, args...), Text: line}
	}

	switch spec[0] {
	case "add", "sub", "mul", "div", "rem", "and", "or", "xor", "shl", "shr":
		if len(spec) != 2 || len(ops) != 2 {
			return fail("malformed binary op")
		}
		in.Op = binaryOpKind(spec[0])
		in.Type = typeFromString(spec[1])
		return finishValues(n, line, &in, ops, &in.X, &in.Y)
	case "cmp":
		if len(spec) != 3 || len(ops) != 2 {
			return fail("malformed comparison")
		}
		in.Op = OpCmp
		in.Cmp = cmpFromString(spec[1])
		in.Type = typeFromString(spec[2])
		if in.Cmp == CmpNone {
			return fail("unknown comparison %q", spec[1])
		}
		return finishValues(n, line, &in, ops, &in.X, &in.Y)
	case "sel":
		if len(spec) != 2 || len(ops) != 3 {
			return fail("malformed select")
		}
		in.Op = OpSel
		in.Type = typeFromString(spec[1])
		return finishValues(n, line, &in, ops, &in.X, &in.Y, &in.Z)
	case "mov":
		if len(spec) != 2 || len(ops) != 1 {
			return fail("malformed move")
		}
		in.Op = OpMov
		in.Type = typeFromString(spec[1])
		return finishValues(n, line, &in, ops, &in.X)
	case "cvt":
		if len(spec) != 3 || len(ops) != 1 {
			return fail("malformed convert")
		}
		in.Op = OpCvt
		in.Type = typeFromString(spec[1])
		in.SrcType = typeFromString(spec[2])
		if in.SrcType == TypeInvalid {
			return fail("unknown source type %q", spec[2])
		}
		return finishValues(n, line, &in, ops, &in.X)
	case "ld":
		if len(spec) != 3 || len(ops) != 1 {
			return fail("malformed load")
		}
		in.Op = OpLd
		in.Space = spaceFromString(spec[1])
		in.Type = typeFromString(spec[2])
		if in.Space == SpaceInvalid {
			return fail("unknown space %q", spec[1])
		}
		addr, err := parseAddr(ops[0])
		if err != nil {
			return fail("%v", err)
		}
		in.Addr = addr
		return checkType(n, line, in)
	case "st":
		if len(spec) != 3 || len(ops) != 2 {
			return fail("malformed store")
		}
		in.Op = OpSt
		in.Space = spaceFromString(spec[1])
		in.Type = typeFromString(spec[2])
		if in.Space == SpaceInvalid {
			return fail("unknown space %q", spec[1])
		}
		addr, err := parseAddr(ops[0])
		if err != nil {
			return fail("%v", err)
		}
		in.Addr = addr
		return finishValues(n, line, &in, ops[1:], &in.X)
	case "tex":
		if len(spec) != 2 || len(ops) != 2 {
			return fail("malformed texture fetch")
		}
		in.Op = OpTex
		in.Type = typeFromString(spec[1])
		slot, err := strconv.Atoi(ops[0])
		if err != nil {
			return fail("malformed texture slot %q", ops[0])
		}
		in.TexSlot = slot
		return finishValues(n, line, &in, ops[1:], &in.X)
	case "special":
		if len(spec) != 2 || len(ops) != 1 {
			return fail("malformed special read")
		}
		in.Op = OpSpecial
		in.Type = typeFromString(spec[1])
		in.Special = specialFromString(ops[0])
		if in.Special == SpecialNone {
			return fail("unknown special register %q", ops[0])
		}
		return checkType(n, line, in)
	default:
		return fail("unknown opcode %q", spec[0])
	}
}

func checkType(n int, line string, in Instr) (Instr, error) {
	if in.Type == TypeInvalid {
		return in, &ParseError{Line: n, Message: "unknown type", Text: line}
	}
	return in, nil
}

func finishValues(n int, line string, in *Instr, ops []string, dsts ...*Value) (Instr, error) {
	if in.Type == TypeInvalid {
		return *in, &ParseError{Line: n, Message: "unknown type", Text: line}
	}
	if len(ops) != len(dsts) {
		return *in, &ParseError{Line: n, Message: "wrong operand count", Text: line}
	}
	for i, op := range ops {
		v, err := parseValue(op)
		if err != nil {
			return *in, &ParseError{Line: n, Message: err.Error(), Text: line}
		}
		*dsts[i] = v
	}
	return *in, nil
}

func binaryOpKind(name string) OpKind {
	switch name {
	case "add":
		return OpAdd
	case "sub":
		return OpSub
	case "mul":
		return OpMul
	case "div":
		return OpDiv
	case "rem":
		return OpRem
	case "and":
		return OpAnd
	case "or":
		return OpOr
	case "xor":
		return OpXor
	case "shl":
		return OpShl
	case "shr":
		return OpShr
	default:
		return OpInvalid
	}
}

func typeFromString(s string) Type {
	switch s {
	case "pred":
		return TypePred
	case "u8":
		return TypeU8
	case "u16":
		return TypeU16
	case "u32":
		return TypeU32
	case "u64":
		return TypeU64
	case "s8":
		return TypeS8
	case "s16":
		return TypeS16
	case "s32":
		return TypeS32
	case "s64":
		return TypeS64
	case "f32":
		return TypeF32
	case "f64":
		return TypeF64
	default:
		return TypeInvalid
	}
}

func spaceFromString(s string) Space {
	switch s {
	case "arg":
		return SpaceArg
	case "param":
		return SpaceParam
	case "shared":
		return SpaceShared
	case "local":
		return SpaceLocal
	case "const":
		return SpaceConst
	case "global":
		return SpaceGlobal
	default:
		return SpaceInvalid
	}
}

func cmpFromString(s string) CmpKind {
	switch s {
	case "eq":
		return CmpEq
	case "ne":
		return CmpNe
	case "lt":
		return CmpLt
	case "le":
		return CmpLe
	case "gt":
		return CmpGt
	case "ge":
		return CmpGe
	default:
		return CmpNone
	}
}

func specialFromString(s string) SpecialKind {
	switch s {
	case "tid":
		return SpecialTid
	case "ntid":
		return SpecialNtid
	case "ctaid":
		return SpecialCtaid
	case "nctaid":
		return SpecialNctaid
	case "laneid":
		return SpecialLaneid
	case "warpsize":
		return SpecialWarpsize
	default:
		return SpecialNone
	}
}

func parseValue(s string) (Value, error) {
	if strings.HasPrefix(s, "%") {
		if len(s) < 2 {
			return Value{}, fmt.Errorf("empty register name")
		}
		return RegValue(s[1:]), nil
	}
	if strings.HasPrefix(s, "@") {
		if len(s) < 2 {
			return Value{}, fmt.Errorf("empty symbol name")
		}
		return SymValue(s[1:]), nil
	}
	imm, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("malformed value %q", s)
	}
	return ImmValue(imm), nil
}

func parseAddr(s string) (Addr, error) {
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return Addr{}, fmt.Errorf("malformed address %q", s)
	}
	body := s[1 : len(s)-1]
	var a Addr
	base := body
	if i := strings.LastIndex(body, "+"); i > 0 {
		base = body[:i]
		off, err := strconv.ParseInt(body[i+1:], 10, 64)
		if err != nil {
			return Addr{}, fmt.Errorf("malformed address offset %q", s)
		}
		a.Off = off
	}
	switch {
	case strings.HasPrefix(base, "@"):
		a.Sym = base[1:]
	case strings.HasPrefix(base, "%"):
		a.Reg = base[1:]
	default:
		off, err := strconv.ParseInt(base, 10, 64)
		if err != nil {
			return Addr{}, fmt.Errorf("malformed address %q", s)
		}
		a.Off += off
	}
	if a.Sym == "" && a.Reg == "" && a.Off < 0 {
		return Addr{}, fmt.Errorf("negative address %q", s)
	}
	return a, nil
}

// splitOperands splits "op a, b, c" into ["op", "a", "b", "c"].
func splitOperands(line string) []string {
	first := strings.IndexAny(line, " \t")
	if first < 0 {
		return []string{line}
	}
	head := line[:first]
	rest := strings.TrimSpace(line[first:])
	if rest == "" {
		return []string{head}
	}
	parts := strings.Split(rest, ",")
	out := make([]string, 0, len(parts)+1)
	out = append(out, head)
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
