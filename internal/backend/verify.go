package backend

import (
	"errors"
	"fmt"
)

// Verify checks the structural integrity of a module. The returned error
// joins every violation found; its text is the verifier diagnostic.
func Verify(m *Module) error {
	if m == nil {
		return nil
	}
	var errs []error
	seen := make(map[string]struct{}, len(m.Funcs))
	for _, f := range m.Funcs {
		if _, dup := seen[f.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate function %s", f.Name))
			continue
		}
		seen[f.Name] = struct{}{}
		if err := verifyFunction(f); err != nil {
			errs = append(errs, fmt.Errorf("function %s: %w", f.Name, err))
		}
	}
	return errors.Join(errs...)
}

func verifyFunction(f *Function) error {
	var errs []error
	if len(f.Blocks) == 0 {
		return fmt.Errorf("no blocks")
	}

	labels := make(map[string]struct{}, len(f.Blocks))
	for _, b := range f.Blocks {
		if _, dup := labels[b.Label]; dup {
			errs = append(errs, fmt.Errorf("duplicate label %s", b.Label))
		}
		labels[b.Label] = struct{}{}
	}

	defs := make(map[string]struct{})
	for _, b := range f.Blocks {
		for i := range b.Instrs {
			if d := b.Instrs[i].Dst; d != "" {
				defs[d] = struct{}{}
			}
		}
	}

	for _, b := range f.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			if err := verifyInstr(in, defs); err != nil {
				errs = append(errs, fmt.Errorf("block %s: %s: %w", b.Label, in, err))
			}
		}
		if err := verifyTerm(&b.Term, labels, defs); err != nil {
			errs = append(errs, fmt.Errorf("block %s: %w", b.Label, err))
		}
	}
	return errors.Join(errs...)
}

func verifyInstr(in *Instr, defs map[string]struct{}) error {
	if in.Op == OpInvalid {
		return fmt.Errorf("invalid opcode")
	}
	if in.Type == TypeInvalid || in.Type.Bytes() == 0 {
		return fmt.Errorf("invalid type")
	}
	switch in.Op {
	case OpLd, OpSt:
		if in.Space == SpaceInvalid {
			return fmt.Errorf("invalid address space")
		}
		if in.Space == SpaceGlobal && in.Addr.Sym == "" && in.Addr.Reg == "" {
			return fmt.Errorf("global access without symbol or register base")
		}
	case OpCmp:
		if in.Cmp == CmpNone {
			return fmt.Errorf("comparison without condition")
		}
	case OpCvt:
		if in.SrcType == TypeInvalid {
			return fmt.Errorf("convert without source type")
		}
	case OpSpecial:
		if in.Special == SpecialNone {
			return fmt.Errorf("unknown special register")
		}
	}
	if in.Op.Pure() && in.Dst == "" {
		return fmt.Errorf("result discarded")
	}
	for _, v := range in.Uses() {
		if v.IsReg() {
			if _, ok := defs[v.Reg]; !ok {
				return fmt.Errorf("use of undefined register %%%s", v.Reg)
			}
		}
	}
	return nil
}

func verifyTerm(t *Terminator, labels, defs map[string]struct{}) error {
	switch t.Kind {
	case TermNone:
		return fmt.Errorf("block not terminated")
	case TermBr:
		if _, ok := labels[t.Target]; !ok {
			return fmt.Errorf("branch to unknown label %s", t.Target)
		}
	case TermCondBr:
		if t.Cond.IsReg() {
			if _, ok := defs[t.Cond.Reg]; !ok {
				return fmt.Errorf("branch on undefined register %%%s", t.Cond.Reg)
			}
		}
		for _, l := range []string{t.Target, t.Else} {
			if _, ok := labels[l]; !ok {
				return fmt.Errorf("branch to unknown label %s", l)
			}
		}
	case TermYield:
		if t.Status != StatusBarrier && t.Status != StatusDivergent {
			return fmt.Errorf("yield with invalid status")
		}
	}
	return nil
}
