package fuzztests

import (
	"bytes"
	"testing"

	"github.com/kaby76/gpuocelot/internal/ptx"
)

const maxFuzzInput = 1 << 16 // 64 KiB

func clampInput(input []byte) []byte {
	if len(input) > maxFuzzInput {
		return append([]byte(nil), input[:maxFuzzInput]...)
	}
	return append([]byte(nil), input...)
}

var assemblySeeds = []string{
	"",
	"func @empty {\nentry:\n\texit\n}\n",
	`func @axpy {
entry:
	%1 = special.u32 tid
	%2 = ld.arg.u32 [0]
	%3 = mul.u32 %1, %2
	st.shared.u32 [%1+4], %3
	%4 = cmp.lt.u32 %1, %2
	br %4, spin, done
spin:
	; wait at the trailing barrier
	yield barrier 7
done:
	exit
}
`,
	`func @tex {
entry:
	%1 = special.u32 laneid
	%2 = tex.f32 0, %1
	%3 = cvt.u64.u32 %1
	%4 = mov.u64 @table
	st.global.u64 [%4+0], %3
	ret
}
`,
	`func @loop {
entry:
	%1 = mov.u32 0
	br head
head:
	%1 = add.u32 %1, 1
	%2 = cmp.lt.u32 %1, 10
	br %2, head, out
out:
	yield divergent
}
`,
}

func addAssemblySeeds(f *testing.F) {
	for _, seed := range assemblySeeds {
		f.Add([]byte(seed))
	}
	// malformed fragments that exercise the error paths
	f.Add([]byte("func @broken {\nentry:\n"))
	f.Add([]byte("entry:\n\texit\n"))
	f.Add([]byte("func @x {\nentry:\n\t%1 = frobnicate.u32 %2\n}\n"))
}

func addContainerSeeds(f *testing.F) {
	for _, m := range containerSeedModules() {
		var buf bytes.Buffer
		if err := ptx.EncodeModule(&buf, m); err != nil {
			continue
		}
		f.Add(clampInput(buf.Bytes()))
	}
	f.Add([]byte{})
	f.Add([]byte{0xc0})
}

func containerSeedModules() []*ptx.Module {
	simple := &ptx.Module{
		Name: "m",
		Kernels: []*ptx.Kernel{{
			Name:      "inc",
			Arguments: []ptx.Parameter{{Name: "x", Type: ptx.TypeU32}},
			Blocks: []*ptx.BasicBlock{{
				Label: "entry",
				Instructions: []ptx.Instruction{
					{Opcode: ptx.OpLd, Type: ptx.TypeU32, AddressSpace: ptx.SpaceParam,
						D: ptx.Reg(ptx.TypeU32, 1), A: ptx.Sym(ptx.TypeU32, "x")},
					{Opcode: ptx.OpAdd, Type: ptx.TypeU32,
						D: ptx.Reg(ptx.TypeU32, 2), A: ptx.Reg(ptx.TypeU32, 1), B: ptx.Imm(ptx.TypeU32, 1)},
					{Opcode: ptx.OpExit},
				},
			}},
		}},
	}
	withGlobal := &ptx.Module{
		Name: "lib",
		Path: "lib/m.mpk",
		Globals: []ptx.Variable{{
			Name: "counter", Directive: ptx.DirectiveGlobal, Type: ptx.TypeU64,
		}},
		Kernels: []*ptx.Kernel{{
			Name: "bump",
			Blocks: []*ptx.BasicBlock{{
				Label: "entry",
				Instructions: []ptx.Instruction{
					{Opcode: ptx.OpMov, Type: ptx.TypeU64,
						D: ptx.Reg(ptx.TypeU64, 1), A: ptx.Sym(ptx.TypeU64, "counter")},
					{Opcode: ptx.OpExit},
				},
			}},
		}},
	}
	return []*ptx.Module{simple, withGlobal}
}
