package backend

import (
	"errors"
	"strings"
	"testing"
)

const canonicalSource = `func @axpy {
entry:
	%i = special.u32 tid
	%off = mul.u32 %i, 4
	%x = ld.arg.u32 [%off+0]
	%y = ld.shared.u32 [8]
	%p = cmp.lt.u32 %x, %y
	%r = sel.u32 %p, %x, %y
	%w = cvt.u64.u32 %r
	st.global.u32 [@out+0], %r
	br %p, done, spin
spin:
	%g = tex.f32 0, %i
	yield barrier 7
done:
	exit
}
`

func TestParseAssemblyRoundTrip(t *testing.T) {
	funcs, err := ParseAssembly(canonicalSource)
	if err != nil {
		t.Fatalf("ParseAssembly: %v", err)
	}
	if len(funcs) != 1 {
		t.Fatalf("parsed %d functions, want 1", len(funcs))
	}
	if got := funcs[0].String(); got != canonicalSource {
		t.Errorf("reprinted assembly differs:\ngot:\n%s\nwant:\n%s", got, canonicalSource)
	}
}

func TestParseAssemblyStructure(t *testing.T) {
	funcs, err := ParseAssembly(canonicalSource)
	if err != nil {
		t.Fatalf("ParseAssembly: %v", err)
	}
	fn := funcs[0]
	if fn.Name != "axpy" {
		t.Errorf("Name = %q, want %q", fn.Name, "axpy")
	}
	if len(fn.Blocks) != 3 {
		t.Fatalf("parsed %d blocks, want 3", len(fn.Blocks))
	}
	entry := fn.Blocks[0]
	if entry.Term.Kind != TermCondBr || entry.Term.Target != "done" || entry.Term.Else != "spin" {
		t.Errorf("entry terminator = %+v, want conditional branch done/spin", entry.Term)
	}
	ld := entry.Instrs[2]
	if ld.Op != OpLd || ld.Space != SpaceArg || ld.Addr.Reg != "off" {
		t.Errorf("argument load parsed as %+v", ld)
	}
	st := entry.Instrs[7]
	if st.Op != OpSt || st.Space != SpaceGlobal || st.Addr.Sym != "out" {
		t.Errorf("global store parsed as %+v", st)
	}
	spin := fn.Blocks[1]
	if spin.Term.Kind != TermYield || spin.Term.Status != StatusBarrier || spin.Term.Resume != 7 {
		t.Errorf("spin terminator = %+v, want yield barrier 7", spin.Term)
	}
	if tex := spin.Instrs[0]; tex.Op != OpTex || tex.TexSlot != 0 || tex.Type != TypeF32 {
		t.Errorf("texture fetch parsed as %+v", tex)
	}
}

func TestParseAssemblySkipsCommentsAndBlanks(t *testing.T) {
	src := `
; leading comment
func @f {
entry:
	; body comment
	%a = mov.u32 1

	ret
}
`
	funcs, err := ParseAssembly(src)
	if err != nil {
		t.Fatalf("ParseAssembly: %v", err)
	}
	if len(funcs) != 1 || len(funcs[0].Blocks[0].Instrs) != 1 {
		t.Fatalf("comments or blank lines leaked into the parse: %+v", funcs)
	}
}

func TestParseAssemblyErrors(t *testing.T) {
	wrap := func(body string) string {
		return "func @f {\nentry:\n" + body + "\nret\n}\n"
	}
	tests := []struct {
		name string
		src  string
	}{
		{"unterminated function", "func @f {\nentry:\nret\n"},
		{"nested function", "func @f {\nfunc @g {\n"},
		{"stray closing brace", "}\n"},
		{"label outside function", "entry:\n"},
		{"instruction outside block", "func @f {\n%a = mov.u32 1\n}\n"},
		{"function without blocks", "func @f {\n}\n"},
		{"missing assignment", wrap("%a mov.u32 1")},
		{"unknown opcode", wrap("%a = frob.u32 1")},
		{"unknown type", wrap("%a = mov.w32 1")},
		{"malformed binary op", wrap("%a = add.u32 1")},
		{"unknown comparison", wrap("%a = cmp.zz.u32 1, 2")},
		{"unknown space", wrap("%a = ld.stack.u32 [0]")},
		{"malformed address", wrap("%a = ld.arg.u32 8")},
		{"negative address", wrap("%a = ld.arg.u32 [-4]")},
		{"malformed value", wrap("%a = mov.u32 $x")},
		{"unknown special register", wrap("%a = special.u32 pc")},
		{"malformed yield", wrap("yield")},
		{"malformed yield resume", wrap("yield barrier x")},
		{"malformed branch", wrap("br a, b")},
		{"instruction after terminator", "func @f {\nentry:\nret\n%a = mov.u32 1\n}\n"},
		{"double terminator", "func @f {\nentry:\nret\nexit\n}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			funcs, err := ParseAssembly(tt.src)
			if err == nil {
				t.Fatalf("ParseAssembly accepted %q", tt.src)
			}
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("error %v is not a ParseError", err)
			}
			if funcs != nil {
				t.Errorf("partial result returned alongside error")
			}
		})
	}
}

func TestParseAssemblyMultipleFunctions(t *testing.T) {
	src := "func @a {\nentry:\nret\n}\nfunc @b {\nentry:\nexit\n}\n"
	funcs, err := ParseAssembly(src)
	if err != nil {
		t.Fatalf("ParseAssembly: %v", err)
	}
	if len(funcs) != 2 || funcs[0].Name != "a" || funcs[1].Name != "b" {
		t.Fatalf("parsed %+v, want functions a and b", funcs)
	}
}

func TestAssembleModule(t *testing.T) {
	funcs, err := ParseAssembly("func @a {\nentry:\nret\n}\nfunc @b {\nentry:\nexit\n}\n")
	if err != nil {
		t.Fatalf("ParseAssembly: %v", err)
	}
	m := &Module{Name: "m", Funcs: funcs}
	text := Assemble(m)
	if !strings.Contains(text, "func @a {") || !strings.Contains(text, "func @b {") {
		t.Errorf("Assemble output missing functions:\n%s", text)
	}
	again, err := ParseAssembly(text)
	if err != nil {
		t.Fatalf("reparse of Assemble output: %v", err)
	}
	if len(again) != 2 {
		t.Errorf("reparse produced %d functions, want 2", len(again))
	}
}
