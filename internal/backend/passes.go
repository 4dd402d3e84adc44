package backend

import (
	"fmt"
	"strings"
)

// Pass transforms one function in place and reports whether it changed
// anything. Passes never touch other functions of the owning module.
type Pass func(*Function) bool

var passRegistry = map[string]Pass{
	"instcombine":  passInstCombine,
	"reassociate":  passReassociate,
	"gvn":          passValueNumbering,
	"simplifycfg":  passSimplifyCFG,
	"sccp":         passSCCP,
	"dse":          passDeadStoreElimination,
	"adce":         passAggressiveDCE,
	"looprotate":   passLoopRotate,
	"loopunswitch": passLoopUnswitch,
	"loopunroll":   passLoopUnroll,
}

// RunPasses applies a named pass sequence to a single function.
func (e *Engine) RunPasses(fn *Function, names []string) error {
	for _, name := range names {
		pass, ok := passRegistry[name]
		if !ok {
			return fmt.Errorf("unknown pass %q", name)
		}
		pass(fn)
	}
	return nil
}

// passInstCombine folds constant operands and algebraic identities.
func passInstCombine(fn *Function) bool {
	changed := false
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			if combineInstr(&b.Instrs[i]) {
				changed = true
			}
		}
		if b.Term.Kind == TermCondBr && b.Term.Cond.IsImm() {
			target := b.Term.Else
			if b.Term.Cond.Imm != 0 {
				target = b.Term.Target
			}
			b.Term = Terminator{Kind: TermBr, Target: target}
			changed = true
		}
	}
	return changed
}

func combineInstr(in *Instr) bool {
	toMov := func(v Value) bool {
		in.Op = OpMov
		in.X = v
		in.Y = Value{}
		in.Z = Value{}
		in.Cmp = CmpNone
		return true
	}

	switch {
	case in.Op.Binary() && in.Op != OpCmp && in.X.IsImm() && in.Y.IsImm():
		if v, err := binop(in, uint64(in.X.Imm), uint64(in.Y.Imm)); err == nil {
			return toMov(ImmValue(int64(v)))
		}
	case in.Op == OpCmp && in.X.IsImm() && in.Y.IsImm():
		v := compare(uint64(in.X.Imm), uint64(in.Y.Imm), in.Cmp, in.Type)
		return toMov(ImmValue(int64(v)))
	case in.Op == OpCvt && in.X.IsImm():
		return toMov(ImmValue(int64(convert(uint64(in.X.Imm), in.SrcType, in.Type))))
	case in.Op == OpSel && in.X.IsImm():
		if in.X.Imm != 0 {
			return toMov(in.Y)
		}
		return toMov(in.Z)
	}

	if !in.Op.Binary() || !in.Y.IsImm() || in.Type.Float() {
		return false
	}
	c := truncate(uint64(in.Y.Imm), in.Type)
	switch in.Op {
	case OpAdd, OpSub, OpOr, OpXor, OpShl, OpShr:
		if c == 0 {
			return toMov(in.X)
		}
	case OpMul:
		if c == 1 {
			return toMov(in.X)
		}
		if c == 0 {
			return toMov(ImmValue(0))
		}
	case OpAnd:
		if c == 0 {
			return toMov(ImmValue(0))
		}
	case OpDiv:
		if c == 1 {
			return toMov(in.X)
		}
	}
	return false
}

// passReassociate canonicalizes commutative operations so that immediates
// land in the second operand, exposing folds and value-numbering matches.
func passReassociate(fn *Function) bool {
	changed := false
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			switch in.Op {
			case OpAdd, OpMul, OpAnd, OpOr, OpXor:
				if in.X.IsImm() && in.Y.IsReg() {
					in.X, in.Y = in.Y, in.X
					changed = true
				}
			}
		}
	}
	return changed
}

// passValueNumbering performs block-local value numbering over pure,
// memory-free instructions, rewriting redundant computations into moves.
func passValueNumbering(fn *Function) bool {
	changed := false
	for _, b := range fn.Blocks {
		type numbered struct {
			reg     string
			version int
		}
		version := make(map[string]int)
		table := make(map[string]numbered)
		for i := range b.Instrs {
			in := &b.Instrs[i]
			if numberable(in) {
				key := valueKey(in, version)
				if hit, ok := table[key]; ok && version[hit.reg] == hit.version {
					prev := hit.reg
					in.Op = OpMov
					in.X = RegValue(prev)
					in.Y = Value{}
					in.Z = Value{}
					in.Cmp = CmpNone
					changed = true
				} else {
					version[in.Dst]++
					table[key] = numbered{reg: in.Dst, version: version[in.Dst]}
					continue
				}
			}
			if in.Dst != "" {
				version[in.Dst]++
			}
		}
	}
	return changed
}

func numberable(in *Instr) bool {
	switch in.Op {
	case OpLd, OpSt, OpTex, OpMov, OpInvalid:
		return false
	default:
		return in.Dst != ""
	}
}

func valueKey(in *Instr, version map[string]int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d.%d.%d.%d.%d", in.Op, in.Type, in.SrcType, in.Cmp, in.Special)
	for _, v := range [3]Value{in.X, in.Y, in.Z} {
		switch v.Kind {
		case ValueReg:
			fmt.Fprintf(&sb, "|r%s#%d", v.Reg, version[v.Reg])
		case ValueImm:
			fmt.Fprintf(&sb, "|i%d", v.Imm)
		case ValueSym:
			fmt.Fprintf(&sb, "|s%s", v.Sym)
		default:
			sb.WriteString("|_")
		}
	}
	return sb.String()
}

// passSimplifyCFG removes unreachable blocks, folds constant branches and
// merges straight-line block chains.
func passSimplifyCFG(fn *Function) bool {
	changed := false
	for {
		iter := false

		// Fold constant conditional branches.
		for _, b := range fn.Blocks {
			if b.Term.Kind == TermCondBr {
				if b.Term.Target == b.Term.Else {
					b.Term = Terminator{Kind: TermBr, Target: b.Term.Target}
					iter = true
				} else if b.Term.Cond.IsImm() {
					target := b.Term.Else
					if b.Term.Cond.Imm != 0 {
						target = b.Term.Target
					}
					b.Term = Terminator{Kind: TermBr, Target: target}
					iter = true
				}
			}
		}

		// Drop unreachable blocks.
		reachable := reachableBlocks(fn)
		if len(reachable) < len(fn.Blocks) {
			kept := fn.Blocks[:0]
			for _, b := range fn.Blocks {
				if _, ok := reachable[b.Label]; ok {
					kept = append(kept, b)
				}
			}
			fn.Blocks = kept
			iter = true
		}

		// Merge a block into its unique successor when that successor has a
		// unique predecessor.
		preds := predecessorCount(fn)
		for _, b := range fn.Blocks {
			if b.Term.Kind != TermBr {
				continue
			}
			succ, ok := fn.Block(b.Term.Target)
			if !ok || succ == b || preds[succ.Label] != 1 {
				continue
			}
			if succ == fn.Blocks[0] {
				continue
			}
			b.Instrs = append(b.Instrs, succ.Instrs...)
			b.Term = succ.Term
			for i, cand := range fn.Blocks {
				if cand == succ {
					fn.Blocks = append(fn.Blocks[:i], fn.Blocks[i+1:]...)
					break
				}
			}
			iter = true
			break
		}

		if !iter {
			return changed
		}
		changed = true
	}
}

func reachableBlocks(fn *Function) map[string]struct{} {
	reachable := make(map[string]struct{}, len(fn.Blocks))
	if len(fn.Blocks) == 0 {
		return reachable
	}
	var walk func(label string)
	walk = func(label string) {
		if _, seen := reachable[label]; seen {
			return
		}
		b, ok := fn.Block(label)
		if !ok {
			return
		}
		reachable[label] = struct{}{}
		switch b.Term.Kind {
		case TermBr:
			walk(b.Term.Target)
		case TermCondBr:
			walk(b.Term.Target)
			walk(b.Term.Else)
		}
	}
	walk(fn.Blocks[0].Label)
	return reachable
}

func predecessorCount(fn *Function) map[string]int {
	preds := make(map[string]int, len(fn.Blocks))
	for _, b := range fn.Blocks {
		switch b.Term.Kind {
		case TermBr:
			preds[b.Term.Target]++
		case TermCondBr:
			preds[b.Term.Target]++
			preds[b.Term.Else]++
		}
	}
	return preds
}

// passSCCP propagates constants through registers with a single static
// assignment, the sparse subset the representation can prove. A constant
// reaches a use only when the defining instruction dominates it; a single
// static assignment alone does not guarantee the def executed.
func passSCCP(fn *Function) bool {
	type defSite struct {
		block string
		index int
	}
	defCount := make(map[string]int)
	defInstr := make(map[string]*Instr)
	defAt := make(map[string]defSite)
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			if in.Dst != "" {
				defCount[in.Dst]++
				defInstr[in.Dst] = in
				defAt[in.Dst] = defSite{block: b.Label, index: i}
			}
		}
	}

	dom := sccpDominators(fn)
	dominates := func(reg, useBlock string, useIndex int) bool {
		def, ok := defAt[reg]
		if !ok {
			return false
		}
		if def.block == useBlock {
			return def.index < useIndex
		}
		_, ok = dom[useBlock][def.block]
		return ok
	}

	known := make(map[string]int64)
	lookupAt := func(block string, index int) func(string) (int64, bool) {
		return func(reg string) (int64, bool) {
			if !dominates(reg, block, index) {
				return 0, false
			}
			c, ok := known[reg]
			return c, ok
		}
	}
	resolve := func(v Value, block string, index int) (Value, bool) {
		if v.IsReg() {
			if c, ok := lookupAt(block, index)(v.Reg); ok {
				return ImmValue(c), true
			}
		}
		return v, false
	}

	for pass := 0; pass < len(defCount)+1; pass++ {
		grew := false
		for reg, in := range defInstr {
			if defCount[reg] != 1 {
				continue
			}
			if _, done := known[reg]; done {
				continue
			}
			at := defAt[reg]
			c, ok := evalConstant(in, lookupAt(at.block, at.index))
			if ok {
				known[reg] = c
				grew = true
			}
		}
		if !grew {
			break
		}
	}
	if len(known) == 0 {
		return false
	}

	changed := false
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			// The defining instruction keeps its register; uses elsewhere
			// become immediates.
			for _, v := range [3]*Value{&in.X, &in.Y, &in.Z} {
				if nv, ok := resolve(*v, b.Label, i); ok && defInstr[v.Reg] != in {
					*v = nv
					changed = true
				}
			}
		}
		if nv, ok := resolve(b.Term.Cond, b.Label, len(b.Instrs)); ok {
			b.Term.Cond = nv
			changed = true
		}
	}
	return changed
}

// dominators computes the dominator sets of the reachable blocks by
// iterative intersection. Unreachable blocks get no entry.
func sccpDominators(fn *Function) map[string]map[string]struct{} {
	reach := reachableBlocks(fn)
	if len(reach) == 0 {
		return nil
	}

	preds := make(map[string][]string)
	var order []string
	for _, b := range fn.Blocks {
		if _, ok := reach[b.Label]; !ok {
			continue
		}
		order = append(order, b.Label)
		switch b.Term.Kind {
		case TermBr:
			preds[b.Term.Target] = append(preds[b.Term.Target], b.Label)
		case TermCondBr:
			preds[b.Term.Target] = append(preds[b.Term.Target], b.Label)
			if b.Term.Else != b.Term.Target {
				preds[b.Term.Else] = append(preds[b.Term.Else], b.Label)
			}
		}
	}

	entry := fn.Blocks[0].Label
	all := make(map[string]struct{}, len(order))
	for _, l := range order {
		all[l] = struct{}{}
	}
	dom := make(map[string]map[string]struct{}, len(order))
	dom[entry] = map[string]struct{}{entry: {}}
	for _, l := range order {
		if l != entry {
			dom[l] = all
		}
	}

	for changed := true; changed; {
		changed = false
		for _, l := range order {
			if l == entry {
				continue
			}
			var next map[string]struct{}
			for _, p := range preds[l] {
				if next == nil {
					next = make(map[string]struct{}, len(dom[p]))
					for d := range dom[p] {
						next[d] = struct{}{}
					}
					continue
				}
				for d := range next {
					if _, ok := dom[p][d]; !ok {
						delete(next, d)
					}
				}
			}
			if next == nil {
				next = make(map[string]struct{}, 1)
			}
			next[l] = struct{}{}
			if len(next) != len(dom[l]) {
				dom[l] = next
				changed = true
			}
		}
	}
	return dom
}

func evalConstant(in *Instr, lookup func(string) (int64, bool)) (int64, bool) {
	get := func(v Value) (uint64, bool) {
		switch v.Kind {
		case ValueImm:
			return uint64(v.Imm), true
		case ValueReg:
			c, ok := lookup(v.Reg)
			return uint64(c), ok
		default:
			return 0, false
		}
	}
	switch {
	case in.Op == OpMov:
		x, ok := get(in.X)
		if !ok {
			return 0, false
		}
		return int64(truncate(x, in.Type)), true
	case in.Op == OpCvt:
		x, ok := get(in.X)
		if !ok {
			return 0, false
		}
		return int64(convert(x, in.SrcType, in.Type)), true
	case in.Op == OpCmp:
		x, okX := get(in.X)
		y, okY := get(in.Y)
		if !okX || !okY {
			return 0, false
		}
		return int64(compare(x, y, in.Cmp, in.Type)), true
	case in.Op.Binary():
		x, okX := get(in.X)
		y, okY := get(in.Y)
		if !okX || !okY {
			return 0, false
		}
		v, err := binop(in, x, y)
		if err != nil {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

// passDeadStoreElimination removes block-local stores overwritten before any
// possible read.
func passDeadStoreElimination(fn *Function) bool {
	changed := false
	for _, b := range fn.Blocks {
		type storeKey struct {
			space Space
			sym   string
			off   int64
		}
		last := make(map[storeKey]int)
		dead := make(map[int]struct{})
		for i := range b.Instrs {
			in := &b.Instrs[i]
			switch in.Op {
			case OpSt:
				if in.Addr.Reg != "" {
					// Unknown address: conservatively starts a new window.
					last = make(map[storeKey]int)
					continue
				}
				key := storeKey{space: in.Space, sym: in.Addr.Sym, off: in.Addr.Off}
				if prev, ok := last[key]; ok {
					dead[prev] = struct{}{}
					changed = true
				}
				last[key] = i
			case OpLd, OpTex:
				// Any read may observe earlier stores.
				last = make(map[storeKey]int)
			}
		}
		if len(dead) == 0 {
			continue
		}
		kept := b.Instrs[:0]
		for i := range b.Instrs {
			if _, drop := dead[i]; drop {
				continue
			}
			kept = append(kept, b.Instrs[i])
		}
		b.Instrs = kept
	}
	return changed
}

// passAggressiveDCE removes pure instructions whose results are never
// consumed. Liveness is tracked per register name, which is conservative for
// the mutable-register representation.
func passAggressiveDCE(fn *Function) bool {
	live := make(map[string]struct{})
	mark := func(v Value) {
		if v.IsReg() {
			live[v.Reg] = struct{}{}
		}
	}
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			if in.Op == OpSt {
				for _, v := range in.Uses() {
					mark(v)
				}
			}
			if in.Addr.Reg != "" {
				live[in.Addr.Reg] = struct{}{}
			}
		}
		mark(b.Term.Cond)
	}

	for {
		grew := false
		for _, b := range fn.Blocks {
			for i := range b.Instrs {
				in := &b.Instrs[i]
				if in.Dst == "" {
					continue
				}
				if _, ok := live[in.Dst]; !ok {
					continue
				}
				for _, v := range in.Uses() {
					if v.IsReg() {
						if _, ok := live[v.Reg]; !ok {
							live[v.Reg] = struct{}{}
							grew = true
						}
					}
				}
			}
		}
		if !grew {
			break
		}
	}

	changed := false
	for _, b := range fn.Blocks {
		kept := b.Instrs[:0]
		for i := range b.Instrs {
			in := &b.Instrs[i]
			_, isLive := live[in.Dst]
			if in.Op != OpSt && in.Dst != "" && !isLive {
				changed = true
				continue
			}
			kept = append(kept, b.Instrs[i])
		}
		b.Instrs = kept
	}
	return changed
}
