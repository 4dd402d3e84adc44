package translate

import (
	"fmt"

	"github.com/kaby76/gpuocelot/internal/ptx"
)

// Resolver maps a call-target name to the entry subkernel of a registered
// kernel. The translation cache implements it over its kernel graphs.
type Resolver interface {
	EntrySubkernel(name string) (ptx.SubkernelID, bool)
}

// UnsupportedCallTargetError rejects a call instruction the translation layer
// cannot lower. Translation of the whole subkernel fails; no partial
// translation is published.
type UnsupportedCallTargetError struct {
	Kernel string
	Target string
	Reason string
}

func (e *UnsupportedCallTargetError) Error() string {
	return fmt.Sprintf("kernel %s: unsupported call target %q: %s", e.Kernel, e.Target, e.Reason)
}

// ResolveCallTargets validates every call instruction of the kernel and
// resolves named targets to entry subkernels. The divergence intrinsic is the
// one target left unresolved; it lowers to a divergent yield instead of a
// transfer. All other calls must be tail calls into a registered kernel:
// frame reuse makes them expressible as a barrier-style yield with the
// callee's entry subkernel as the resume point.
func ResolveCallTargets(kernel *ptx.Kernel, resolver Resolver) (map[string]ptx.SubkernelID, error) {
	targets := make(map[string]ptx.SubkernelID)
	for _, block := range kernel.Blocks {
		for i := range block.Instructions {
			in := &block.Instructions[i]
			if in.Opcode != ptx.OpCall {
				continue
			}
			if in.A.Mode != ptx.AddressModeFunctionName {
				return nil, &UnsupportedCallTargetError{
					Kernel: kernel.Name,
					Target: in.A.String(),
					Reason: "indirect call targets cannot be resolved at translation time",
				}
			}
			name := in.A.Identifier
			if name == ptx.DivergenceIntrinsic {
				continue
			}
			if !in.TailCall {
				return nil, &UnsupportedCallTargetError{
					Kernel: kernel.Name,
					Target: name,
					Reason: "only tail calls are supported",
				}
			}
			if resolver == nil {
				return nil, &UnsupportedCallTargetError{
					Kernel: kernel.Name,
					Target: name,
					Reason: "no resolver available",
				}
			}
			entry, ok := resolver.EntrySubkernel(name)
			if !ok {
				return nil, &UnsupportedCallTargetError{
					Kernel: kernel.Name,
					Target: name,
					Reason: "target is not a registered kernel",
				}
			}
			targets[name] = entry
		}
	}
	return targets, nil
}
