package cache

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/kaby76/gpuocelot/internal/backend"
	"github.com/kaby76/gpuocelot/internal/device"
	"github.com/kaby76/gpuocelot/internal/ptx"
	"github.com/kaby76/gpuocelot/internal/translate"
)

// incModule declares one kernel that reads its argument, adds one and
// stores the result to a fixed shared variable.
func incModule() *ptx.Module {
	return &ptx.Module{
		Name: "m",
		Kernels: []*ptx.Kernel{{
			Name:      "inc",
			Arguments: []ptx.Parameter{{Name: "x", Type: ptx.TypeU32}},
			Locals: []ptx.Variable{{
				Name: "out", Directive: ptx.DirectiveShared, Type: ptx.TypeU32,
			}},
			Blocks: []*ptx.BasicBlock{{
				Label: "entry",
				Instructions: []ptx.Instruction{
					{Opcode: ptx.OpLd, Type: ptx.TypeU32, AddressSpace: ptx.SpaceParam,
						D: ptx.Reg(ptx.TypeU32, 1), A: ptx.Sym(ptx.TypeU32, "x")},
					{Opcode: ptx.OpAdd, Type: ptx.TypeU32,
						D: ptx.Reg(ptx.TypeU32, 2), A: ptx.Reg(ptx.TypeU32, 1), B: ptx.Imm(ptx.TypeU32, 1)},
					{Opcode: ptx.OpSt, Type: ptx.TypeU32,
						D: ptx.Sym(ptx.TypeU32, "out"), A: ptx.Reg(ptx.TypeU32, 2)},
					{Opcode: ptx.OpExit},
				},
			}},
		}},
	}
}

func registerInc(t *testing.T, c *TranslationCache) *ptx.KernelGraph {
	t.Helper()
	if err := c.LoadModule(incModule(), nil); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	graph, err := c.RegisterKernel("m", "inc")
	if err != nil {
		t.Fatalf("RegisterKernel: %v", err)
	}
	return graph
}

func TestTranslationIdentity(t *testing.T) {
	c := New(nil)
	graph := registerInc(t, c)

	first, err := c.GetOrInsertTranslation(graph.Entry, 1, translate.OptimizationBasic)
	if err != nil {
		t.Fatalf("GetOrInsertTranslation: %v", err)
	}
	again, err := c.GetOrInsertTranslation(graph.Entry, 1, translate.OptimizationBasic)
	if err != nil {
		t.Fatalf("GetOrInsertTranslation: %v", err)
	}
	if first != again {
		t.Error("repeated request returned a different Translation instance")
	}

	// The optimization level is not part of cache identity.
	other, err := c.GetOrInsertTranslation(graph.Entry, 1, translate.OptimizationFull)
	if err != nil {
		t.Fatalf("GetOrInsertTranslation: %v", err)
	}
	if other != first {
		t.Error("same warp width at another level built a second translation")
	}
}

func TestWarpWidthsShareMetadata(t *testing.T) {
	c := New(nil)
	graph := registerInc(t, c)

	narrow, err := c.GetOrInsertTranslation(graph.Entry, 1, translate.OptimizationBasic)
	if err != nil {
		t.Fatalf("GetOrInsertTranslation(warp 1): %v", err)
	}
	wide, err := c.GetOrInsertTranslation(graph.Entry, 64, translate.OptimizationBasic)
	if err != nil {
		t.Fatalf("GetOrInsertTranslation(warp 64): %v", err)
	}
	if narrow == wide {
		t.Fatal("different warp widths share one Translation")
	}
	if narrow.Metadata != wide.Metadata {
		t.Error("warp widths do not share the layout record")
	}
	if narrow.Name == wide.Name {
		t.Errorf("clone names collide: %q", narrow.Name)
	}
	if !strings.Contains(wide.Name, "_ws64") {
		t.Errorf("clone name %q does not encode the warp width", wide.Name)
	}
	if !strings.HasPrefix(narrow.Name, translate.TranslatedPrefix) {
		t.Errorf("clone name %q does not derive from the generic name", narrow.Name)
	}
}

func TestExecuteTranslation(t *testing.T) {
	c := New(nil)
	graph := registerInc(t, c)

	tr, err := c.GetOrInsertTranslation(graph.Entry, 2, translate.OptimizationAggressive)
	if err != nil {
		t.Fatalf("GetOrInsertTranslation: %v", err)
	}
	ctx := tr.NewContext(0)
	binary.LittleEndian.PutUint32(ctx.Argument, 41)
	if err := tr.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := binary.LittleEndian.Uint32(ctx.Shared); got != 42 {
		t.Errorf("shared result = %d, want 42", got)
	}
	for lane, r := range ctx.Lanes {
		if r.Status != backend.StatusExited {
			t.Errorf("lane %d status = %v, want exited", lane, r.Status)
		}
	}
}

func TestRegisterKernelIdempotent(t *testing.T) {
	c := New(nil)
	graph := registerInc(t, c)

	again, err := c.RegisterKernel("m", "inc")
	if err != nil {
		t.Fatalf("RegisterKernel: %v", err)
	}
	if again != graph {
		t.Error("re-registration built a new graph")
	}
}

func TestRegisterKernelFailureLeavesNoState(t *testing.T) {
	m := &ptx.Module{
		Name: "bad",
		Kernels: []*ptx.Kernel{{
			Name: "crossing",
			Blocks: []*ptx.BasicBlock{
				{Label: "entry", Instructions: []ptx.Instruction{
					{Opcode: ptx.OpBra, D: ptx.Label("after")},
				}},
				{Label: "mid", Instructions: []ptx.Instruction{
					{Opcode: ptx.OpBar},
				}},
				{Label: "after", Instructions: []ptx.Instruction{
					{Opcode: ptx.OpExit},
				}},
			},
		}},
	}
	c := New(nil)
	if err := c.LoadModule(m, nil); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if _, err := c.RegisterKernel("bad", "crossing"); err == nil {
		t.Fatal("branch across a barrier registered")
	}
	if _, ok := c.KernelGraph("crossing"); ok {
		t.Error("failed registration recorded a graph")
	}

	// No subkernel ids were consumed by the failure.
	if err := c.LoadModule(incModule(), nil); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	graph, err := c.RegisterKernel("m", "inc")
	if err != nil {
		t.Fatalf("RegisterKernel: %v", err)
	}
	if graph.Entry != 0 {
		t.Errorf("entry subkernel id = %d, want 0", graph.Entry)
	}
}

func TestLoadModuleRejectsDuplicateName(t *testing.T) {
	c := New(nil)
	if err := c.LoadModule(incModule(), nil); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	if err := c.LoadModule(incModule(), nil); err == nil {
		t.Error("duplicate module name accepted")
	}
}

func TestGetOrInsertTranslationArgumentErrors(t *testing.T) {
	c := New(nil)
	graph := registerInc(t, c)

	if _, err := c.GetOrInsertTranslation(graph.Entry, 0, translate.OptimizationBasic); err == nil {
		t.Error("warp size 0 accepted")
	}
	if _, err := c.GetOrInsertTranslation(99, 1, translate.OptimizationBasic); err == nil {
		t.Error("unregistered subkernel accepted")
	}
}

func TestBarrierKernelYieldsToNextSubkernel(t *testing.T) {
	m := &ptx.Module{
		Name: "m",
		Kernels: []*ptx.Kernel{{
			Name: "wave",
			Blocks: []*ptx.BasicBlock{
				{Label: "entry", Instructions: []ptx.Instruction{
					{Opcode: ptx.OpBar},
				}},
				{Label: "drain", Instructions: []ptx.Instruction{
					{Opcode: ptx.OpExit},
				}},
			},
		}},
	}
	c := New(nil)
	if err := c.LoadModule(m, nil); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	graph, err := c.RegisterKernel("m", "wave")
	if err != nil {
		t.Fatalf("RegisterKernel: %v", err)
	}
	if len(graph.Order) != 2 {
		t.Fatalf("partitioned into %d subkernels, want 2", len(graph.Order))
	}

	tr, err := c.GetOrInsertTranslation(graph.Entry, 2, translate.OptimizationBasic)
	if err != nil {
		t.Fatalf("GetOrInsertTranslation: %v", err)
	}
	resume := graph.Order[1]
	ctx := tr.NewContext(0)
	if err := tr.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for lane, r := range ctx.Lanes {
		if r.Status != backend.StatusBarrier || r.Resume != int64(resume) {
			t.Errorf("lane %d = %+v, want barrier resume %d", lane, r, resume)
		}
	}
	// The barrier-next word of each lane mirrors the resume subkernel.
	for lane := 0; lane < 2; lane++ {
		word := binary.LittleEndian.Uint32(ctx.Local[lane*ctx.LocalSize:])
		if word != uint32(resume) {
			t.Errorf("lane %d barrier-next word = %d, want %d", lane, word, resume)
		}
	}

	// The second fragment retires the warp.
	drain, err := c.GetOrInsertTranslation(resume, 2, translate.OptimizationBasic)
	if err != nil {
		t.Fatalf("GetOrInsertTranslation(drain): %v", err)
	}
	dctx := drain.NewContext(0)
	if err := drain.Execute(dctx); err != nil {
		t.Fatalf("Execute(drain): %v", err)
	}
	if dctx.Lanes[0].Status != backend.StatusExited {
		t.Errorf("drain lane status = %v, want exited", dctx.Lanes[0].Status)
	}
}

func TestTailCallYieldsToCalleeEntry(t *testing.T) {
	m := &ptx.Module{
		Name: "m",
		Kernels: []*ptx.Kernel{
			{
				Name: "stage1",
				Blocks: []*ptx.BasicBlock{{
					Label: "entry",
					Instructions: []ptx.Instruction{
						{Opcode: ptx.OpCall, TailCall: true,
							A: ptx.Operand{Mode: ptx.AddressModeFunctionName, Identifier: "stage2"}},
					},
				}},
			},
			{
				Name: "stage2",
				Blocks: []*ptx.BasicBlock{{
					Label:        "entry",
					Instructions: []ptx.Instruction{{Opcode: ptx.OpExit}},
				}},
			},
		},
	}
	c := New(nil)
	if err := c.LoadModule(m, nil); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	// The callee registers first so the caller's tail call resolves at its
	// own registration.
	g2, err := c.RegisterKernel("m", "stage2")
	if err != nil {
		t.Fatalf("RegisterKernel(stage2): %v", err)
	}
	g1, err := c.RegisterKernel("m", "stage1")
	if err != nil {
		t.Fatalf("RegisterKernel(stage1): %v", err)
	}

	tr, err := c.GetOrInsertTranslation(g1.Entry, 1, translate.OptimizationBasic)
	if err != nil {
		t.Fatalf("GetOrInsertTranslation: %v", err)
	}
	ctx := tr.NewContext(0)
	if err := tr.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r := ctx.Lanes[0]; r.Status != backend.StatusBarrier || r.Resume != int64(g2.Entry) {
		t.Errorf("lane result = %+v, want barrier resume at stage2 entry %d", r, g2.Entry)
	}
}

func TestUnresolvedCallTargetFailsRegistration(t *testing.T) {
	m := &ptx.Module{
		Name: "m",
		Kernels: []*ptx.Kernel{{
			Name: "orphan",
			Blocks: []*ptx.BasicBlock{{
				Label: "entry",
				Instructions: []ptx.Instruction{
					{Opcode: ptx.OpCall, TailCall: true,
						A: ptx.Operand{Mode: ptx.AddressModeFunctionName, Identifier: "nowhere"}},
				},
			}},
		}},
	}
	c := New(nil)
	if err := c.LoadModule(m, nil); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	_, err := c.RegisterKernel("m", "orphan")
	var uerr *translate.UnsupportedCallTargetError
	if !errors.As(err, &uerr) {
		t.Fatalf("RegisterKernel = %v, want UnsupportedCallTargetError", err)
	}
	if _, ok := c.KernelGraph("orphan"); ok {
		t.Error("failed registration recorded a graph")
	}
	if strings.Contains(c.Disassemble(), "orphan") {
		t.Error("failed registration left code in the backend module")
	}
}

func TestSelfTailCallResolvesAtRegistration(t *testing.T) {
	m := &ptx.Module{
		Name: "m",
		Kernels: []*ptx.Kernel{{
			Name: "loop",
			Blocks: []*ptx.BasicBlock{{
				Label: "entry",
				Instructions: []ptx.Instruction{
					{Opcode: ptx.OpCall, TailCall: true,
						A: ptx.Operand{Mode: ptx.AddressModeFunctionName, Identifier: "loop"}},
				},
			}},
		}},
	}
	c := New(nil)
	if err := c.LoadModule(m, nil); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	graph, err := c.RegisterKernel("m", "loop")
	if err != nil {
		t.Fatalf("RegisterKernel: %v", err)
	}

	tr, err := c.GetOrInsertTranslation(graph.Entry, 1, translate.OptimizationBasic)
	if err != nil {
		t.Fatalf("GetOrInsertTranslation: %v", err)
	}
	ctx := tr.NewContext(0)
	if err := tr.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r := ctx.Lanes[0]; r.Status != backend.StatusBarrier || r.Resume != int64(graph.Entry) {
		t.Errorf("lane result = %+v, want barrier resume at own entry %d", r, graph.Entry)
	}
}

func globalModule() *ptx.Module {
	return &ptx.Module{
		Name:    "m",
		Path:    "lib/m.mpk",
		Globals: []ptx.Variable{{Name: "counter", Directive: ptx.DirectiveGlobal, Type: ptx.TypeU64}},
		Kernels: []*ptx.Kernel{{
			Name: "bump",
			Blocks: []*ptx.BasicBlock{{
				Label: "entry",
				Instructions: []ptx.Instruction{
					{Opcode: ptx.OpMov, Type: ptx.TypeU64,
						D: ptx.Reg(ptx.TypeU64, 1), A: ptx.Sym(ptx.TypeU64, "counter")},
					{Opcode: ptx.OpLd, Type: ptx.TypeU32,
						D: ptx.Reg(ptx.TypeU32, 2),
						A: ptx.Operand{Mode: ptx.AddressModeIndirect, Type: ptx.TypeU32, Register: 1}},
					{Opcode: ptx.OpAdd, Type: ptx.TypeU32,
						D: ptx.Reg(ptx.TypeU32, 3), A: ptx.Reg(ptx.TypeU32, 2), B: ptx.Imm(ptx.TypeU32, 5)},
					{Opcode: ptx.OpSt, Type: ptx.TypeU32,
						D: ptx.Operand{Mode: ptx.AddressModeIndirect, Type: ptx.TypeU32, Register: 1},
						A: ptx.Reg(ptx.TypeU32, 3)},
					{Opcode: ptx.OpExit},
				},
			}},
		}},
	}
}

func TestGlobalLinkageThroughDevice(t *testing.T) {
	dev := device.NewHostDevice()
	m := globalModule()
	alloc := dev.AllocateGlobal(m.Path, "counter", 8)
	binary.LittleEndian.PutUint32(alloc.Memory, 10)

	c := New(nil)
	if err := c.LoadModule(m, dev); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	graph, err := c.RegisterKernel("m", "bump")
	if err != nil {
		t.Fatalf("RegisterKernel: %v", err)
	}
	tr, err := c.GetOrInsertTranslation(graph.Entry, 1, translate.OptimizationBasic)
	if err != nil {
		t.Fatalf("GetOrInsertTranslation: %v", err)
	}
	if err := tr.Execute(tr.NewContext(0)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := binary.LittleEndian.Uint32(alloc.Memory); got != 15 {
		t.Errorf("counter = %d, want 15", got)
	}
}

func TestSpecializationLinkFailureRollsBack(t *testing.T) {
	// No device: the global cannot be resolved and specialization must fail
	// without leaving the clone behind.
	c := New(nil)
	if err := c.LoadModule(globalModule(), nil); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	graph, err := c.RegisterKernel("m", "bump")
	if err != nil {
		t.Fatalf("RegisterKernel: %v", err)
	}

	_, err = c.GetOrInsertTranslation(graph.Entry, 1, translate.OptimizationBasic)
	var serr *SpecializationError
	if !errors.As(err, &serr) {
		t.Fatalf("GetOrInsertTranslation = %v, want SpecializationError", err)
	}
	if serr.Stage != "link" {
		t.Errorf("Stage = %q, want link", serr.Stage)
	}
	text := c.Disassemble()
	if strings.Contains(text, serr.Clone) {
		t.Error("failed clone left in the backend module")
	}
	// The generic translation survives for a later retry.
	if !strings.Contains(text, translate.TranslatedName("bump")) {
		t.Error("generic translation removed by the specialization failure")
	}
}

func TestTakenMidBlockBranchKeepsRegisterValues(t *testing.T) {
	// r1 is set to 7, a taken guarded branch leaves the block mid-way, and
	// the target stores r1. The store must see 7, not the 9 assigned on the
	// untaken fallthrough path.
	m := &ptx.Module{
		Name: "m",
		Kernels: []*ptx.Kernel{{
			Name: "pick",
			Locals: []ptx.Variable{{
				Name: "out", Directive: ptx.DirectiveShared, Type: ptx.TypeU32,
			}},
			Blocks: []*ptx.BasicBlock{
				{Label: "entry", Instructions: []ptx.Instruction{
					{Opcode: ptx.OpMov, Type: ptx.TypeU32,
						D: ptx.Reg(ptx.TypeU32, 1), A: ptx.Imm(ptx.TypeU32, 7)},
					{Opcode: ptx.OpSetp, Comparison: ptx.CmpEq, Type: ptx.TypeU32,
						D: ptx.Reg(ptx.TypePred, 2), A: ptx.Imm(ptx.TypeU32, 0), B: ptx.Imm(ptx.TypeU32, 0)},
					{Opcode: ptx.OpBra, Guard: ptx.Reg(ptx.TypePred, 2), D: ptx.Label("done")},
					{Opcode: ptx.OpMov, Type: ptx.TypeU32,
						D: ptx.Reg(ptx.TypeU32, 1), A: ptx.Imm(ptx.TypeU32, 9)},
					{Opcode: ptx.OpExit},
				}},
				{Label: "done", Instructions: []ptx.Instruction{
					{Opcode: ptx.OpSt, Type: ptx.TypeU32,
						D: ptx.Sym(ptx.TypeU32, "out"), A: ptx.Reg(ptx.TypeU32, 1)},
					{Opcode: ptx.OpExit},
				}},
			},
		}},
	}
	c := New(nil)
	if err := c.LoadModule(m, nil); err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	graph, err := c.RegisterKernel("m", "pick")
	if err != nil {
		t.Fatalf("RegisterKernel: %v", err)
	}

	tr, err := c.GetOrInsertTranslation(graph.Entry, 1, translate.OptimizationNone)
	if err != nil {
		t.Fatalf("GetOrInsertTranslation: %v", err)
	}
	ctx := tr.NewContext(0)
	if err := tr.Execute(ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := binary.LittleEndian.Uint32(ctx.Shared); got != 7 {
		t.Errorf("shared out = %d, want 7", got)
	}
}

func TestCloneNameEncodesLevelAndWarp(t *testing.T) {
	c := New(nil)
	graph := registerInc(t, c)

	full, err := c.GetOrInsertTranslation(graph.Entry, 4, translate.OptimizationFull)
	if err != nil {
		t.Fatalf("GetOrInsertTranslation(full): %v", err)
	}
	if want := translate.TranslatedName("inc") + "_opt3_ws4"; full.Name != want {
		t.Errorf("full clone name = %q, want %q", full.Name, want)
	}

	aggr, err := c.GetOrInsertTranslation(graph.Entry, 2, translate.OptimizationAggressive)
	if err != nil {
		t.Fatalf("GetOrInsertTranslation(aggressive): %v", err)
	}
	if want := translate.TranslatedName("inc") + "_opt2_ws2"; aggr.Name != want {
		t.Errorf("aggressive clone name = %q, want %q", aggr.Name, want)
	}
}

func TestEachModuleLinksThroughItsOwnDevice(t *testing.T) {
	build := func(name, sym, kernel string, value int64) *ptx.Module {
		return &ptx.Module{
			Name:    name,
			Path:    name + ".mpk",
			Globals: []ptx.Variable{{Name: sym, Directive: ptx.DirectiveGlobal, Type: ptx.TypeU64}},
			Kernels: []*ptx.Kernel{{
				Name: kernel,
				Blocks: []*ptx.BasicBlock{{
					Label: "entry",
					Instructions: []ptx.Instruction{
						{Opcode: ptx.OpMov, Type: ptx.TypeU64,
							D: ptx.Reg(ptx.TypeU64, 1), A: ptx.Sym(ptx.TypeU64, sym)},
						{Opcode: ptx.OpSt, Type: ptx.TypeU32,
							D: ptx.Operand{Mode: ptx.AddressModeIndirect, Type: ptx.TypeU32, Register: 1},
							A: ptx.Imm(ptx.TypeU32, value)},
						{Opcode: ptx.OpExit},
					},
				}},
			}},
		}
	}

	left := build("left", "lcount", "lk", 7)
	right := build("right", "rcount", "rk", 9)
	ldev := device.NewHostDevice()
	rdev := device.NewHostDevice()
	lalloc := ldev.AllocateGlobal(left.Path, "lcount", 8)
	ralloc := rdev.AllocateGlobal(right.Path, "rcount", 8)

	c := New(nil)
	if err := c.LoadModule(left, ldev); err != nil {
		t.Fatalf("LoadModule(left): %v", err)
	}
	if err := c.LoadModule(right, rdev); err != nil {
		t.Fatalf("LoadModule(right): %v", err)
	}

	for _, tc := range []struct {
		module, kernel string
		alloc          *device.Allocation
		want           uint32
	}{
		{"left", "lk", lalloc, 7},
		{"right", "rk", ralloc, 9},
	} {
		graph, err := c.RegisterKernel(tc.module, tc.kernel)
		if err != nil {
			t.Fatalf("RegisterKernel(%s): %v", tc.kernel, err)
		}
		tr, err := c.GetOrInsertTranslation(graph.Entry, 1, translate.OptimizationBasic)
		if err != nil {
			t.Fatalf("GetOrInsertTranslation(%s): %v", tc.kernel, err)
		}
		if err := tr.Execute(tr.NewContext(0)); err != nil {
			t.Fatalf("Execute(%s): %v", tc.kernel, err)
		}
		if got := binary.LittleEndian.Uint32(tc.alloc.Memory); got != tc.want {
			t.Errorf("%s global = %d, want %d", tc.module, got, tc.want)
		}
	}
}

func TestConcurrentRequestsShareOneBuild(t *testing.T) {
	c := New(nil)
	graph := registerInc(t, c)

	results := make([]*Translation, 8)
	var g errgroup.Group
	for i := range results {
		i := i
		g.Go(func() error {
			tr, err := c.GetOrInsertTranslation(graph.Entry, 4, translate.OptimizationBasic)
			if err != nil {
				return err
			}
			results[i] = tr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent GetOrInsertTranslation: %v", err)
	}
	for i, tr := range results {
		if tr != results[0] {
			t.Fatalf("request %d got a different Translation", i)
		}
	}
}
