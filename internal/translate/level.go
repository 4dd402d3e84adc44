// Package translate lowers planned subkernels into the backend representation
// and owns the optimization tiers applied during specialization.
package translate

import "fmt"

// OptimizationLevel selects the transformation tier applied to a translated
// subkernel before compilation.
type OptimizationLevel uint8

const (
	// OptimizationNone performs no transformation at all.
	OptimizationNone OptimizationLevel = iota
	// OptimizationReport runs the basic tier and dumps the function before
	// and after at the detail trace level.
	OptimizationReport
	// OptimizationDebug preserves the lowered form untouched for inspection.
	OptimizationDebug
	// OptimizationBasic runs the cheap scalar cleanups.
	OptimizationBasic
	// OptimizationAggressive adds constant propagation, dead-code removal,
	// and the loop restructuring passes on top of the basic tier.
	OptimizationAggressive
	// OptimizationSpace is the aggressive tier; unrolling is already held
	// back to OptimizationFull, so nothing here grows code.
	OptimizationSpace
	// OptimizationFull adds loop unrolling.
	OptimizationFull
)

// ParseOptimizationLevel parses the textual level spelling.
func ParseOptimizationLevel(s string) (OptimizationLevel, error) {
	switch s {
	case "none":
		return OptimizationNone, nil
	case "report":
		return OptimizationReport, nil
	case "debug":
		return OptimizationDebug, nil
	case "basic":
		return OptimizationBasic, nil
	case "aggressive":
		return OptimizationAggressive, nil
	case "space":
		return OptimizationSpace, nil
	case "full":
		return OptimizationFull, nil
	default:
		return OptimizationNone, fmt.Errorf("unknown optimization level %q", s)
	}
}

// String returns the textual level spelling.
func (l OptimizationLevel) String() string {
	switch l {
	case OptimizationNone:
		return "none"
	case OptimizationReport:
		return "report"
	case OptimizationDebug:
		return "debug"
	case OptimizationBasic:
		return "basic"
	case OptimizationAggressive:
		return "aggressive"
	case OptimizationSpace:
		return "space"
	case OptimizationFull:
		return "full"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

var (
	basicTier  = []string{"instcombine", "reassociate", "gvn", "simplifycfg"}
	deepTier   = []string{"sccp", "dse", "adce", "simplifycfg"}
	loopTier   = []string{"looprotate", "loopunswitch", "simplifycfg", "adce"}
	unrollTier = []string{"loopunroll", "simplifycfg", "adce"}
)

// Passes returns the named pass sequence of the tier.
func (l OptimizationLevel) Passes() []string {
	switch l {
	case OptimizationBasic, OptimizationReport:
		return basicTier
	case OptimizationAggressive, OptimizationSpace:
		return join(basicTier, deepTier, loopTier)
	case OptimizationFull:
		return join(basicTier, deepTier, loopTier, unrollTier)
	default:
		return nil
	}
}

func join(tiers ...[]string) []string {
	var out []string
	for _, t := range tiers {
		out = append(out, t...)
	}
	return out
}
