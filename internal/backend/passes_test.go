package backend

import (
	"strings"
	"testing"
)

func parseFunc(t *testing.T, src string) *Function {
	t.Helper()
	funcs, err := ParseAssembly(src)
	if err != nil {
		t.Fatalf("ParseAssembly: %v", err)
	}
	if len(funcs) != 1 {
		t.Fatalf("parsed %d functions, want 1", len(funcs))
	}
	return funcs[0]
}

func runPass(t *testing.T, fn *Function, names ...string) {
	t.Helper()
	if err := NewEngine().RunPasses(fn, names); err != nil {
		t.Fatalf("RunPasses(%v): %v", names, err)
	}
}

func TestRunPassesUnknownPass(t *testing.T) {
	fn := parseFunc(t, "func @f {\nentry:\nret\n}\n")
	err := NewEngine().RunPasses(fn, []string{"instcombine", "vectorize"})
	if err == nil || !strings.Contains(err.Error(), `unknown pass "vectorize"`) {
		t.Errorf("RunPasses = %v, want unknown pass error", err)
	}
}

func TestInstCombineFoldsConstants(t *testing.T) {
	fn := parseFunc(t, `func @f {
entry:
	%a = add.u32 2, 3
	%b = cmp.lt.u32 1, 2
	%c = cvt.u64.u32 7
	%d = sel.u32 1, 10, 20
	st.shared.u32 [0], %a
	st.shared.u32 [4], %b
	st.shared.u32 [8], %c
	st.shared.u32 [12], %d
	ret
}
`)
	runPass(t, fn, "instcombine")

	instrs := fn.Blocks[0].Instrs
	want := []int64{5, 1, 7, 10}
	for i, w := range want {
		in := instrs[i]
		if in.Op != OpMov || !in.X.IsImm() || in.X.Imm != w {
			t.Errorf("instruction %d = %s, want mov of %d", i, in.String(), w)
		}
	}
}

func TestInstCombineAlgebraicIdentities(t *testing.T) {
	fn := parseFunc(t, `func @f {
entry:
	%x = special.u32 tid
	%a = add.u32 %x, 0
	%b = mul.u32 %x, 1
	%c = mul.u32 %x, 0
	%d = and.u32 %x, 0
	st.shared.u32 [0], %a
	st.shared.u32 [4], %b
	st.shared.u32 [8], %c
	st.shared.u32 [12], %d
	ret
}
`)
	runPass(t, fn, "instcombine")

	instrs := fn.Blocks[0].Instrs
	if in := instrs[1]; in.Op != OpMov || !in.X.IsReg() || in.X.Reg != "x" {
		t.Errorf("add identity: %s, want mov %%x", in.String())
	}
	if in := instrs[2]; in.Op != OpMov || !in.X.IsReg() || in.X.Reg != "x" {
		t.Errorf("mul identity: %s, want mov %%x", in.String())
	}
	if in := instrs[3]; in.Op != OpMov || !in.X.IsImm() || in.X.Imm != 0 {
		t.Errorf("mul by zero: %s, want mov 0", in.String())
	}
	if in := instrs[4]; in.Op != OpMov || !in.X.IsImm() || in.X.Imm != 0 {
		t.Errorf("and with zero: %s, want mov 0", in.String())
	}
}

func TestInstCombineFoldsConstantBranch(t *testing.T) {
	fn := parseFunc(t, `func @f {
entry:
	br 0, a, b
a:
	ret
b:
	exit
}
`)
	runPass(t, fn, "instcombine")
	if term := fn.Blocks[0].Term; term.Kind != TermBr || term.Target != "b" {
		t.Errorf("terminator = %s, want unconditional branch to b", term.String())
	}
}

func TestReassociateMovesImmediateSecond(t *testing.T) {
	fn := parseFunc(t, `func @f {
entry:
	%x = special.u32 tid
	%a = add.u32 5, %x
	st.shared.u32 [0], %a
	ret
}
`)
	runPass(t, fn, "reassociate")
	in := fn.Blocks[0].Instrs[1]
	if !in.X.IsReg() || in.X.Reg != "x" || !in.Y.IsImm() || in.Y.Imm != 5 {
		t.Errorf("reassociated instruction = %s, want %%x, 5", in.String())
	}
}

func TestValueNumberingRewritesRedundantComputation(t *testing.T) {
	fn := parseFunc(t, `func @f {
entry:
	%x = special.u32 tid
	%a = add.u32 %x, 4
	%b = add.u32 %x, 4
	st.shared.u32 [0], %a
	st.shared.u32 [4], %b
	ret
}
`)
	runPass(t, fn, "gvn")
	in := fn.Blocks[0].Instrs[2]
	if in.Op != OpMov || !in.X.IsReg() || in.X.Reg != "a" {
		t.Errorf("redundant add = %s, want mov %%a", in.String())
	}
}

func TestValueNumberingRespectsRedefinition(t *testing.T) {
	fn := parseFunc(t, `func @f {
entry:
	%x = special.u32 tid
	%a = add.u32 %x, 4
	%x = special.u32 laneid
	%b = add.u32 %x, 4
	st.shared.u32 [0], %a
	st.shared.u32 [4], %b
	ret
}
`)
	runPass(t, fn, "gvn")
	if in := fn.Blocks[0].Instrs[3]; in.Op != OpAdd {
		t.Errorf("instruction after redefinition = %s, want the original add", in.String())
	}
}

func TestSimplifyCFGMergesAndPrunes(t *testing.T) {
	fn := parseFunc(t, `func @f {
entry:
	%a = mov.u32 1
	br body
body:
	st.shared.u32 [0], %a
	ret
orphan:
	exit
}
`)
	runPass(t, fn, "simplifycfg")
	if len(fn.Blocks) != 1 {
		t.Fatalf("simplified function has %d blocks, want 1", len(fn.Blocks))
	}
	b := fn.Blocks[0]
	if b.Label != "entry" || len(b.Instrs) != 2 || b.Term.Kind != TermRet {
		t.Errorf("merged block = %s", fn.String())
	}
}

func TestSimplifyCFGFoldsConstantBranch(t *testing.T) {
	fn := parseFunc(t, `func @f {
entry:
	br 1, taken, skipped
taken:
	ret
skipped:
	exit
}
`)
	runPass(t, fn, "simplifycfg")
	if _, ok := fn.Block("skipped"); ok {
		t.Errorf("dead arm survived:\n%s", fn.String())
	}
	if fn.Blocks[0].Term.Kind != TermRet {
		t.Errorf("fold did not merge the taken arm:\n%s", fn.String())
	}
}

func TestSCCPPropagatesThroughSingleDefs(t *testing.T) {
	fn := parseFunc(t, `func @f {
entry:
	%c = mov.u32 10
	%d = add.u32 %c, 5
	%x = special.u32 tid
	%e = add.u32 %x, %d
	st.shared.u32 [0], %e
	ret
}
`)
	runPass(t, fn, "sccp")
	in := fn.Blocks[0].Instrs[3]
	if !in.Y.IsImm() || in.Y.Imm != 15 {
		t.Errorf("use of %%d = %s, want immediate 15", in.String())
	}
}

func TestSCCPLeavesMultipleAssignmentsAlone(t *testing.T) {
	fn := parseFunc(t, `func @f {
entry:
	%c = mov.u32 10
	%c = mov.u32 20
	%x = special.u32 tid
	%e = add.u32 %x, %c
	st.shared.u32 [0], %e
	ret
}
`)
	runPass(t, fn, "sccp")
	if in := fn.Blocks[0].Instrs[3]; !in.Y.IsReg() {
		t.Errorf("multiply-assigned register folded: %s", in.String())
	}
}

func TestSCCPRequiresDominatingDef(t *testing.T) {
	// %c has a single def, but the def block is skippable; the use in skip
	// may execute without it and must keep its register. The use inside the
	// def block is dominated and still folds.
	fn := parseFunc(t, `func @f {
entry:
	%t = special.u32 tid
	%p = cmp.eq.u32 %t, 0
	br %p, skip, def
def:
	%c = mov.u32 10
	%d = add.u32 %c, 5
	st.shared.u32 [0], %d
	br skip
skip:
	%x = add.u32 %t, %c
	st.shared.u32 [4], %x
	ret
}
`)
	runPass(t, fn, "sccp")

	def, ok := fn.Block("def")
	if !ok {
		t.Fatal("def block missing")
	}
	if in := def.Instrs[1]; !in.X.IsImm() || in.X.Imm != 10 {
		t.Errorf("dominated use of %%c = %s, want immediate 10", in.String())
	}
	skip, ok := fn.Block("skip")
	if !ok {
		t.Fatal("skip block missing")
	}
	if in := skip.Instrs[0]; !in.Y.IsReg() {
		t.Errorf("undominated use of %%c folded: %s", in.String())
	}
}

func TestDeadStoreElimination(t *testing.T) {
	fn := parseFunc(t, `func @f {
entry:
	st.shared.u32 [0], 1
	st.shared.u32 [0], 2
	st.shared.u32 [4], 3
	%v = ld.shared.u32 [4]
	st.shared.u32 [4], %v
	ret
}
`)
	runPass(t, fn, "dse")
	instrs := fn.Blocks[0].Instrs
	if len(instrs) != 4 {
		t.Fatalf("dse left %d instructions, want 4:\n%s", len(instrs), fn.String())
	}
	if instrs[0].X.Imm != 2 {
		t.Errorf("surviving store to [0] writes %s, want 2", instrs[0].X.String())
	}
	// The store before the load and the store after it both survive.
	if instrs[1].X.Imm != 3 || instrs[3].Op != OpSt {
		t.Errorf("stores around the load were touched:\n%s", fn.String())
	}
}

func TestAggressiveDCERemovesUnusedComputation(t *testing.T) {
	fn := parseFunc(t, `func @f {
entry:
	%x = special.u32 tid
	%dead = mul.u32 %x, 100
	%off = mul.u32 %x, 4
	%v = ld.arg.u32 [%off+0]
	st.shared.u32 [%off+0], %v
	ret
}
`)
	runPass(t, fn, "adce")
	instrs := fn.Blocks[0].Instrs
	if len(instrs) != 4 {
		t.Fatalf("adce left %d instructions, want 4:\n%s", len(instrs), fn.String())
	}
	for i := range instrs {
		if instrs[i].Dst == "dead" {
			t.Errorf("dead multiply survived:\n%s", fn.String())
		}
	}
}

func TestAggressiveDCEKeepsBranchCondition(t *testing.T) {
	fn := parseFunc(t, `func @f {
entry:
	%x = special.u32 tid
	%p = cmp.lt.u32 %x, 16
	br %p, a, b
a:
	ret
b:
	exit
}
`)
	runPass(t, fn, "adce")
	if len(fn.Blocks[0].Instrs) != 2 {
		t.Errorf("condition chain was removed:\n%s", fn.String())
	}
}

func TestLoopRotate(t *testing.T) {
	fn := parseFunc(t, `func @f {
header:
	%p = cmp.lt.u32 1, 2
	br %p, latch, exit
latch:
	st.shared.u32 [0], 1
	br header
exit:
	ret
}
`)
	runPass(t, fn, "looprotate")
	latch, ok := fn.Block("latch")
	if !ok {
		t.Fatalf("latch missing:\n%s", fn.String())
	}
	if latch.Term.Kind != TermCondBr || latch.Term.Target != "latch" || latch.Term.Else != "exit" {
		t.Errorf("latch terminator = %s, want self-test branch", latch.Term.String())
	}
	if len(latch.Instrs) != 2 {
		t.Errorf("latch did not absorb the header body:\n%s", fn.String())
	}
}

func TestLoopUnswitch(t *testing.T) {
	fn := parseFunc(t, `func @f {
entry:
	%flag = ld.arg.u32 [0]
	br header
header:
	%i = ld.shared.u32 [0]
	%p = cmp.lt.u32 %i, 10
	br %p, body, exit
body:
	br %flag, fast, slow
fast:
	st.shared.u32 [4], 1
	br header
slow:
	st.shared.u32 [4], 2
	br header
exit:
	ret
}
`)
	runPass(t, fn, "loopunswitch")
	for _, label := range []string{"body.t", "body.f", "header.t", "header.f"} {
		if _, ok := fn.Block(label); !ok {
			t.Errorf("cloned block %s missing:\n%s", label, fn.String())
		}
	}
	dispatch, ok := fn.Block("header")
	if !ok {
		t.Fatalf("dispatch header missing:\n%s", fn.String())
	}
	if dispatch.Term.Kind != TermCondBr || !dispatch.Term.Cond.IsReg() || dispatch.Term.Cond.Reg != "flag" {
		t.Errorf("dispatch terminator = %s, want branch on %%flag", dispatch.Term.String())
	}
	if bt, ok := fn.Block("body.t"); !ok || bt.Term.Kind != TermBr || bt.Term.Target != "fast.t" {
		t.Errorf("taken clone keeps the invariant branch:\n%s", fn.String())
	}
}

func TestLoopUnroll(t *testing.T) {
	fn := parseFunc(t, `func @f {
entry:
	br loop
loop:
	%i = ld.shared.u32 [0]
	%n = add.u32 %i, 1
	st.shared.u32 [0], %n
	%p = cmp.lt.u32 %n, 10
	br %p, loop, exit
exit:
	ret
}
`)
	before := len(fn.Blocks)
	runPass(t, fn, "loopunroll")
	if got := len(fn.Blocks); got != before+unrollFactor-1 {
		t.Fatalf("unroll produced %d blocks, want %d", got, before+unrollFactor-1)
	}
	loop, _ := fn.Block("loop")
	if loop.Term.Target != "loop.u1" || loop.Term.Else != "exit" {
		t.Errorf("original loop block now branches %s", loop.Term.String())
	}
	last, ok := fn.Block("loop.u3")
	if !ok {
		t.Fatalf("final unrolled copy missing:\n%s", fn.String())
	}
	if last.Term.Target != "loop" || last.Term.Else != "exit" {
		t.Errorf("final copy terminator = %s, want back edge to loop", last.Term.String())
	}
}
