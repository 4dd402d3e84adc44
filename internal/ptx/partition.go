package ptx

import "fmt"

// Subkernel is one independently translatable fragment of a kernel, split at
// cooperative barrier points.
type Subkernel struct {
	ID     SubkernelID
	Kernel *Kernel

	// ResumeTarget is the subkernel scheduled after this fragment's trailing
	// barrier, or NoSubkernelID for the final fragment.
	ResumeTarget SubkernelID
}

// KernelGraph is the subkernel decomposition of one source kernel, built once
// at registration time.
type KernelGraph struct {
	KernelName string
	Entry      SubkernelID
	Order      []SubkernelID
	Subkernels map[SubkernelID]*Subkernel
}

// Partition decomposes a kernel into subkernels split at barrier
// instructions. Subkernel ids are assigned sequentially starting at base.
// Control flow may not cross a barrier except by falling through it: a branch
// whose target lies in another fragment is rejected.
func Partition(k *Kernel, base SubkernelID) (*KernelGraph, error) {
	fragments := splitAtBarriers(k)

	graph := &KernelGraph{
		KernelName: k.Name,
		Entry:      base,
		Subkernels: make(map[SubkernelID]*Subkernel, len(fragments)),
	}

	resumable := len(fragments) > 1
	for i, blocks := range fragments {
		id := base + SubkernelID(i)
		name := k.Name
		if i > 0 {
			name = fmt.Sprintf("%s$%d", k.Name, i)
		}
		fragment := &Kernel{
			Name:      name,
			Function:  k.Function,
			Arguments: k.Arguments,
			Locals:    fragmentLocals(k, resumable),
			Blocks:    blocks,
		}
		if err := checkBranchTargets(fragment); err != nil {
			return nil, fmt.Errorf("kernel %s: %w", k.Name, err)
		}
		sk := &Subkernel{ID: id, Kernel: fragment, ResumeTarget: NoSubkernelID}
		if i+1 < len(fragments) {
			sk.ResumeTarget = id + 1
		}
		graph.Subkernels[id] = sk
		graph.Order = append(graph.Order, id)
	}
	return graph, nil
}

// splitAtBarriers cuts the block list after every barrier instruction. The
// barrier stays as the trailing instruction of its fragment; the remainder of
// a split block becomes the entry block of the next fragment.
func splitAtBarriers(k *Kernel) [][]*BasicBlock {
	var fragments [][]*BasicBlock
	var current []*BasicBlock
	resumes := 0

	for _, b := range k.Blocks {
		rest := b
		for {
			cut := -1
			for i := range rest.Instructions {
				if rest.Instructions[i].Opcode == OpBar {
					cut = i
					break
				}
			}
			if cut < 0 {
				current = append(current, rest)
				break
			}
			head := &BasicBlock{Label: rest.Label, Instructions: rest.Instructions[:cut+1]}
			current = append(current, head)
			fragments = append(fragments, current)
			current = nil
			resumes++
			tail := rest.Instructions[cut+1:]
			if len(tail) == 0 {
				break
			}
			rest = &BasicBlock{
				Label:        fmt.Sprintf("%s$resume%d", b.Label, resumes),
				Instructions: tail,
			}
		}
	}
	if len(current) > 0 {
		fragments = append(fragments, current)
	}
	if len(fragments) == 0 {
		fragments = append(fragments, []*BasicBlock{{Label: "entry"}})
	}
	return fragments
}

// fragmentLocals returns the local declarations for one fragment. Kernels
// split at barriers additionally declare the barrier-resume local used by the
// cooperative-yield protocol.
func fragmentLocals(k *Kernel, resumable bool) []Variable {
	locals := make([]Variable, len(k.Locals), len(k.Locals)+1)
	copy(locals, k.Locals)
	if !resumable {
		return locals
	}
	for i := range locals {
		if locals[i].Name == BarrierResumeLocal {
			return locals
		}
	}
	locals = append(locals, Variable{
		Name:      BarrierResumeLocal,
		Directive: DirectiveLocal,
		Type:      TypeU32,
	})
	return locals
}

func checkBranchTargets(k *Kernel) error {
	labels := make(map[string]struct{}, len(k.Blocks))
	for _, b := range k.Blocks {
		labels[b.Label] = struct{}{}
	}
	for _, b := range k.Blocks {
		for i := range b.Instructions {
			in := &b.Instructions[i]
			if in.Opcode != OpBra {
				continue
			}
			if in.D.Mode != AddressModeLabel {
				return fmt.Errorf("branch in block %s has no label target", b.Label)
			}
			if _, ok := labels[in.D.Identifier]; !ok {
				return fmt.Errorf("branch target %s crosses a barrier boundary", in.D.Identifier)
			}
		}
	}
	return nil
}
