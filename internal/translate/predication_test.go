package translate

import (
	"testing"

	"github.com/kaby76/gpuocelot/internal/ptx"
)

func TestPredicatedAddBecomesSelect(t *testing.T) {
	kernel := &ptx.Kernel{
		Name: "k",
		Blocks: []*ptx.BasicBlock{{
			Label: "entry",
			Instructions: []ptx.Instruction{
				{Opcode: ptx.OpAdd, Type: ptx.TypeU32,
					Guard: ptx.Reg(ptx.TypePred, 3),
					D:     ptx.Reg(ptx.TypeU32, 1),
					A:     ptx.Reg(ptx.TypeU32, 1),
					B:     ptx.Imm(ptx.TypeU32, 4)},
				{Opcode: ptx.OpExit},
			},
		}},
	}

	ConvertPredicationToSelect(kernel)

	instrs := kernel.Blocks[0].Instructions
	if len(instrs) != 3 {
		t.Fatalf("got %d instructions, want add, selp, exit", len(instrs))
	}
	add := instrs[0]
	if add.Predicated() {
		t.Error("rewritten add still guarded")
	}
	tmp := add.D.Register
	if tmp != 4 {
		t.Errorf("temporary register = %d, want 4 (one past the highest in use)", tmp)
	}
	sel := instrs[1]
	if sel.Opcode != ptx.OpSelp {
		t.Fatalf("instruction after add is %s, want selp", sel.Opcode)
	}
	if sel.D.Register != 1 || sel.A.Register != tmp || sel.B.Register != 1 {
		t.Errorf("selp merges %s, %s into %s", sel.A, sel.B, sel.D)
	}
	if sel.C.Register != 3 {
		t.Errorf("selp condition = %s, want the original guard", sel.C)
	}
}

func TestNegatedGuardSwapsSelectArms(t *testing.T) {
	kernel := &ptx.Kernel{
		Name: "k",
		Blocks: []*ptx.BasicBlock{{
			Label: "entry",
			Instructions: []ptx.Instruction{
				{Opcode: ptx.OpMov, Type: ptx.TypeU32,
					Guard: ptx.Reg(ptx.TypePred, 2), GuardNegated: true,
					D: ptx.Reg(ptx.TypeU32, 1),
					A: ptx.Imm(ptx.TypeU32, 7)},
				{Opcode: ptx.OpExit},
			},
		}},
	}

	ConvertPredicationToSelect(kernel)

	sel := kernel.Blocks[0].Instructions[1]
	if sel.Opcode != ptx.OpSelp {
		t.Fatalf("second instruction is %s, want selp", sel.Opcode)
	}
	// Guard false selects the new value, so the temporary lands in the b
	// slot.
	if sel.A.Register != 1 || sel.B.Register != 3 {
		t.Errorf("negated guard arms = %s, %s; want prior value first", sel.A, sel.B)
	}
}

func TestPredicatedStoreBecomesDiamond(t *testing.T) {
	kernel := &ptx.Kernel{
		Name: "k",
		Blocks: []*ptx.BasicBlock{{
			Label: "entry",
			Instructions: []ptx.Instruction{
				{Opcode: ptx.OpMov, Type: ptx.TypeU32,
					D: ptx.Reg(ptx.TypeU32, 1), A: ptx.Imm(ptx.TypeU32, 9)},
				{Opcode: ptx.OpSt, Type: ptx.TypeU32, AddressSpace: ptx.SpaceShared,
					Guard: ptx.Reg(ptx.TypePred, 2),
					D:     ptx.Operand{Mode: ptx.AddressModeAddress, Type: ptx.TypeU32, Identifier: "buf"},
					A:     ptx.Reg(ptx.TypeU32, 1)},
				{Opcode: ptx.OpExit},
			},
		}},
	}

	ConvertPredicationToSelect(kernel)

	if len(kernel.Blocks) != 3 {
		t.Fatalf("got %d blocks, want entry plus diamond arms", len(kernel.Blocks))
	}
	entry, body, skip := kernel.Blocks[0], kernel.Blocks[1], kernel.Blocks[2]
	if body.Label != "entry$g1" || skip.Label != "entry$s1" {
		t.Errorf("diamond labels = %s, %s", body.Label, skip.Label)
	}

	branch := entry.Instructions[len(entry.Instructions)-1]
	if branch.Opcode != ptx.OpBra || !branch.Predicated() || !branch.GuardNegated {
		t.Errorf("entry does not end in a negated guarded branch: %s", &branch)
	}
	if branch.D.Identifier != skip.Label {
		t.Errorf("branch skips to %s, want %s", branch.D.Identifier, skip.Label)
	}

	if len(body.Instructions) != 1 || body.Instructions[0].Opcode != ptx.OpSt {
		t.Fatalf("body block does not hold the store")
	}
	if body.Instructions[0].Predicated() {
		t.Error("store kept its guard inside the diamond")
	}
	if len(skip.Instructions) != 1 || skip.Instructions[0].Opcode != ptx.OpExit {
		t.Errorf("skip block does not resume the original tail")
	}
}

func TestPredicatedDivisionIsNotSelectable(t *testing.T) {
	kernel := &ptx.Kernel{
		Name: "k",
		Blocks: []*ptx.BasicBlock{{
			Label: "entry",
			Instructions: []ptx.Instruction{
				{Opcode: ptx.OpDiv, Type: ptx.TypeU32,
					Guard: ptx.Reg(ptx.TypePred, 3),
					D:     ptx.Reg(ptx.TypeU32, 1),
					A:     ptx.Reg(ptx.TypeU32, 1),
					B:     ptx.Reg(ptx.TypeU32, 2)},
				{Opcode: ptx.OpExit},
			},
		}},
	}

	ConvertPredicationToSelect(kernel)

	// A guarded division must not run speculatively; it gets a diamond.
	if len(kernel.Blocks) != 3 {
		t.Fatalf("got %d blocks, want a diamond around the division", len(kernel.Blocks))
	}
	if kernel.Blocks[1].Instructions[0].Opcode != ptx.OpDiv {
		t.Error("division left its diamond body")
	}
}

func TestGuardedBranchSurvives(t *testing.T) {
	kernel := &ptx.Kernel{
		Name: "k",
		Blocks: []*ptx.BasicBlock{
			{Label: "entry", Instructions: []ptx.Instruction{
				{Opcode: ptx.OpBra, Guard: ptx.Reg(ptx.TypePred, 1), D: ptx.Label("out")},
			}},
			{Label: "out", Instructions: []ptx.Instruction{{Opcode: ptx.OpExit}}},
		},
	}

	ConvertPredicationToSelect(kernel)

	in := kernel.Blocks[0].Instructions[0]
	if in.Opcode != ptx.OpBra || !in.Predicated() {
		t.Errorf("guarded branch rewritten to %s", &in)
	}
	if len(kernel.Blocks) != 2 {
		t.Errorf("branch conversion changed the block structure")
	}
}
