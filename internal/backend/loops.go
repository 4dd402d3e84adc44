package backend

import "fmt"

// Loop passes operate on natural loops discovered through dominators. The
// transformations are deliberately narrow: each recognizes one well-formed
// shape and leaves everything else alone, so a pass never has to reason
// about irreducible control flow.

// passLoopRotate turns while-shaped loops into do-while form. A header that
// computes a pure condition and branches between a single-predecessor latch
// and an exit becomes a plain guard once the latch re-tests the condition
// itself.
func passLoopRotate(fn *Function) bool {
	changed := false
	preds := predecessorCount(fn)
	for _, header := range fn.Blocks {
		if header.Term.Kind != TermCondBr {
			continue
		}
		latch, ok := fn.Block(header.Term.Target)
		if !ok || latch == header {
			continue
		}
		if latch.Term.Kind != TermBr || latch.Term.Target != header.Label {
			continue
		}
		if preds[latch.Label] != 1 {
			continue
		}
		if !pureInstrs(header.Instrs) {
			continue
		}
		// Re-test at the bottom: the latch recomputes the header body and
		// branches directly, so the back edge disappears.
		latch.Instrs = append(latch.Instrs, cloneInstrs(header.Instrs)...)
		latch.Term = Terminator{
			Kind:   TermCondBr,
			Cond:   header.Term.Cond,
			Target: latch.Label,
			Else:   header.Term.Else,
		}
		changed = true
	}
	return changed
}

func pureInstrs(instrs []Instr) bool {
	for i := range instrs {
		if !instrs[i].Op.Pure() || instrs[i].Op == OpLd || instrs[i].Op == OpTex {
			return false
		}
	}
	return true
}

func cloneInstrs(instrs []Instr) []Instr {
	out := make([]Instr, len(instrs))
	copy(out, instrs)
	return out
}

// passLoopUnswitch hoists a loop-invariant conditional branch out of a loop
// by cloning the loop body once per branch arm and dispatching on the
// condition before entry.
func passLoopUnswitch(fn *Function) bool {
	loops := naturalLoops(fn)
	for _, loop := range loops {
		branch := invariantBranch(fn, loop)
		if branch == nil {
			continue
		}
		unswitchLoop(fn, loop, branch)
		return true
	}
	return false
}

type loopInfo struct {
	header string
	blocks map[string]struct{}
}

// naturalLoops finds back edges (t -> h where h dominates t) and collects
// each loop body through reverse reachability from the latch.
func naturalLoops(fn *Function) []loopInfo {
	dom := dominators(fn)
	var loops []loopInfo
	for _, b := range fn.Blocks {
		for _, target := range successors(b) {
			if !dominates(dom, target, b.Label) {
				continue
			}
			body := map[string]struct{}{target: {}}
			var grow func(label string)
			grow = func(label string) {
				if _, ok := body[label]; ok {
					return
				}
				body[label] = struct{}{}
				for _, p := range fn.Blocks {
					for _, s := range successors(p) {
						if s == label {
							grow(p.Label)
						}
					}
				}
			}
			grow(b.Label)
			loops = append(loops, loopInfo{header: target, blocks: body})
		}
	}
	return loops
}

func successors(b *Block) []string {
	switch b.Term.Kind {
	case TermBr:
		return []string{b.Term.Target}
	case TermCondBr:
		return []string{b.Term.Target, b.Term.Else}
	default:
		return nil
	}
}

// dominators computes the immediate-dominator-free dominance sets with the
// standard iterative data-flow formulation.
func dominators(fn *Function) map[string]map[string]struct{} {
	all := make(map[string]struct{}, len(fn.Blocks))
	for _, b := range fn.Blocks {
		all[b.Label] = struct{}{}
	}
	dom := make(map[string]map[string]struct{}, len(fn.Blocks))
	entry := fn.Blocks[0].Label
	for label := range all {
		if label == entry {
			dom[label] = map[string]struct{}{entry: {}}
			continue
		}
		full := make(map[string]struct{}, len(all))
		for l := range all {
			full[l] = struct{}{}
		}
		dom[label] = full
	}

	preds := make(map[string][]string)
	for _, b := range fn.Blocks {
		for _, s := range successors(b) {
			preds[s] = append(preds[s], b.Label)
		}
	}

	for {
		changed := false
		for _, b := range fn.Blocks {
			if b.Label == entry {
				continue
			}
			next := intersectDoms(dom, preds[b.Label], all)
			next[b.Label] = struct{}{}
			if len(next) != len(dom[b.Label]) {
				dom[b.Label] = next
				changed = true
			}
		}
		if !changed {
			return dom
		}
	}
}

func intersectDoms(dom map[string]map[string]struct{}, preds []string, all map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(all))
	for l := range all {
		out[l] = struct{}{}
	}
	for _, p := range preds {
		for l := range out {
			if _, ok := dom[p][l]; !ok {
				delete(out, l)
			}
		}
	}
	return out
}

func dominates(dom map[string]map[string]struct{}, a, b string) bool {
	_, ok := dom[b][a]
	return ok
}

// invariantBranch returns a conditional branch inside the loop whose
// condition register is never written by any loop block, or nil.
func invariantBranch(fn *Function, loop loopInfo) *Block {
	defined := make(map[string]struct{})
	for label := range loop.blocks {
		b, ok := fn.Block(label)
		if !ok {
			continue
		}
		for i := range b.Instrs {
			if b.Instrs[i].Dst != "" {
				defined[b.Instrs[i].Dst] = struct{}{}
			}
		}
	}
	for label := range loop.blocks {
		b, ok := fn.Block(label)
		if !ok || b.Term.Kind != TermCondBr || !b.Term.Cond.IsReg() {
			continue
		}
		// The header's own exit test usually varies; skip it.
		if label == loop.header {
			continue
		}
		if _, varies := defined[b.Term.Cond.Reg]; varies {
			continue
		}
		return b
	}
	return nil
}

// unswitchLoop clones the loop body into a taken and a not-taken variant,
// fixes the invariant branch inside each, and replaces the header with a
// dispatch on the hoisted condition.
func unswitchLoop(fn *Function, loop loopInfo, branch *Block) {
	clone := func(suffix string, take bool) string {
		rename := make(map[string]string, len(loop.blocks))
		for label := range loop.blocks {
			rename[label] = label + suffix
		}
		for label := range loop.blocks {
			src, _ := fn.Block(label)
			nb := &Block{
				Label:  rename[label],
				Instrs: cloneInstrs(src.Instrs),
				Term:   src.Term,
			}
			if label == branch.Label {
				target := nb.Term.Else
				if take {
					target = nb.Term.Target
				}
				nb.Term = Terminator{Kind: TermBr, Target: target}
			}
			retargetInLoop(&nb.Term, rename)
			fn.Blocks = append(fn.Blocks, nb)
		}
		return rename[loop.header]
	}
	taken := clone(".t", true)
	notTaken := clone(".f", false)

	header, _ := fn.Block(loop.header)
	header.Instrs = nil
	header.Term = Terminator{
		Kind:   TermCondBr,
		Cond:   branch.Term.Cond,
		Target: taken,
		Else:   notTaken,
	}
	// The original body blocks lose their entry edge and fall to dead-block
	// removal in simplifycfg.
}

func retargetInLoop(t *Terminator, rename map[string]string) {
	if nt, ok := rename[t.Target]; ok {
		t.Target = nt
	}
	if ne, ok := rename[t.Else]; ok {
		t.Else = ne
	}
}

const unrollFactor = 4

// passLoopUnroll replicates single-block self-loops so that consecutive
// iterations run straight-line. Every copy keeps the exit test, which
// preserves the trip count without requiring any bound analysis.
func passLoopUnroll(fn *Function) bool {
	changed := false
	for _, b := range fn.Blocks {
		if b.Term.Kind != TermCondBr || b.Term.Target != b.Label {
			continue
		}
		exit := b.Term.Else
		prev := b
		for i := 1; i < unrollFactor; i++ {
			nb := &Block{
				Label:  fmt.Sprintf("%s.u%d", b.Label, i),
				Instrs: cloneInstrs(b.Instrs),
			}
			prev.Term = Terminator{
				Kind:   TermCondBr,
				Cond:   prev.Term.Cond,
				Target: nb.Label,
				Else:   exit,
			}
			nb.Term = Terminator{
				Kind:   TermCondBr,
				Cond:   b.Term.Cond,
				Target: b.Label,
				Else:   exit,
			}
			fn.Blocks = append(fn.Blocks, nb)
			prev = nb
		}
		changed = true
	}
	return changed
}
