package backend

import "fmt"

// KernelFunc is a compiled, warp-width-specialized function. It is immutable
// after Compile returns and safe for concurrent invocation.
type KernelFunc func(*ExecutionContext) error

// LaneResult records how one lane stopped.
type LaneResult struct {
	Status YieldStatus
	Resume int64
}

// ExecutionContext carries the memory regions and thread coordinates for one
// invocation of a compiled function. Local memory holds one region per lane:
// lane i owns Local[i*LocalSize : (i+1)*LocalSize].
type ExecutionContext struct {
	Argument  []byte
	Parameter []byte
	Shared    []byte
	Constant  []byte
	Local     []byte
	LocalSize int

	// Textures holds the per-slot texture images, ordered by the metadata's
	// texture list.
	Textures [][]byte

	// ThreadID is the id of lane 0; lane i executes as thread ThreadID+i.
	ThreadID int64
	NThreads int64
	CTAID    int64
	NCTAID   int64

	// Lanes is populated by the compiled function with one result per lane.
	Lanes []LaneResult
}

func (ctx *ExecutionContext) laneLocal(lane int) []byte {
	if ctx.LocalSize <= 0 {
		return nil
	}
	lo := lane * ctx.LocalSize
	hi := lo + ctx.LocalSize
	if hi > len(ctx.Local) {
		return nil
	}
	return ctx.Local[lo:hi]
}

// Compile JIT-compiles a function for the given warp width. Every global
// symbol referenced by the function must already be bound; a missing binding
// is a LinkError. The returned KernelFunc executes warpSize lanes per call.
func (e *Engine) Compile(fn *Function, warpSize int) (KernelFunc, error) {
	if warpSize < 1 {
		return nil, fmt.Errorf("function %s: invalid warp size %d", fn.Name, warpSize)
	}

	blockIdx := make(map[string]int, len(fn.Blocks))
	for i, b := range fn.Blocks {
		blockIdx[b.Label] = i
	}

	// Resolve global symbols to handles now so a published translation never
	// consults the engine again.
	symbols := &symbolTable{index: make(map[string]int)}
	var resolve func(v Value) error
	resolve = func(v Value) error {
		if v.Kind != ValueSym {
			return nil
		}
		return symbols.resolve(e, fn.Name, v.Sym)
	}
	for _, b := range fn.Blocks {
		for i := range b.Instrs {
			in := &b.Instrs[i]
			for _, v := range [3]Value{in.X, in.Y, in.Z} {
				if err := resolve(v); err != nil {
					return nil, err
				}
			}
			if in.Addr.Sym != "" {
				if err := symbols.resolve(e, fn.Name, in.Addr.Sym); err != nil {
					return nil, err
				}
			}
		}
	}

	prog := &program{fn: fn, blockIdx: blockIdx, symbols: symbols, warpSize: warpSize}
	return prog.run, nil
}

type symbolTable struct {
	index   map[string]int
	regions [][]byte
}

func (t *symbolTable) resolve(e *Engine, fnName, sym string) error {
	if _, ok := t.index[sym]; ok {
		return nil
	}
	mem, ok := e.Binding(sym)
	if !ok {
		return &LinkError{Function: fnName, Symbol: sym}
	}
	t.index[sym] = len(t.regions)
	t.regions = append(t.regions, mem)
	return nil
}

// handle encodes a symbol region and offset into a register-sized value.
func (t *symbolTable) handle(sym string) uint64 {
	return uint64(t.index[sym]+1) << 32
}

func (t *symbolTable) region(handle uint64) ([]byte, int64, bool) {
	idx := int(handle>>32) - 1
	if idx < 0 || idx >= len(t.regions) {
		return nil, 0, false
	}
	return t.regions[idx], int64(handle & 0xffffffff), true
}

type program struct {
	fn       *Function
	blockIdx map[string]int
	symbols  *symbolTable
	warpSize int
}

func (p *program) run(ctx *ExecutionContext) error {
	if len(ctx.Lanes) < p.warpSize {
		ctx.Lanes = make([]LaneResult, p.warpSize)
	}
	regs := make(map[string]uint64, 32)
	for lane := 0; lane < p.warpSize; lane++ {
		clear(regs)
		result, err := p.runLane(ctx, regs, lane)
		if err != nil {
			return fmt.Errorf("function %s lane %d: %w", p.fn.Name, lane, err)
		}
		ctx.Lanes[lane] = result
	}
	return nil
}

func (p *program) runLane(ctx *ExecutionContext, regs map[string]uint64, lane int) (LaneResult, error) {
	block := p.fn.Blocks[0]
	for {
		for i := range block.Instrs {
			if err := p.step(ctx, regs, lane, &block.Instrs[i]); err != nil {
				return LaneResult{}, err
			}
		}
		switch block.Term.Kind {
		case TermBr:
			block = p.fn.Blocks[p.blockIdx[block.Term.Target]]
		case TermCondBr:
			if p.eval(regs, block.Term.Cond) != 0 {
				block = p.fn.Blocks[p.blockIdx[block.Term.Target]]
			} else {
				block = p.fn.Blocks[p.blockIdx[block.Term.Else]]
			}
		case TermRet, TermExit:
			return LaneResult{Status: StatusExited}, nil
		case TermYield:
			return LaneResult{Status: block.Term.Status, Resume: block.Term.Resume}, nil
		default:
			return LaneResult{}, fmt.Errorf("block %s not terminated", block.Label)
		}
	}
}

func (p *program) eval(regs map[string]uint64, v Value) uint64 {
	switch v.Kind {
	case ValueReg:
		return regs[v.Reg]
	case ValueImm:
		return uint64(v.Imm)
	case ValueSym:
		return p.symbols.handle(v.Sym)
	default:
		return 0
	}
}

func (p *program) step(ctx *ExecutionContext, regs map[string]uint64, lane int, in *Instr) error {
	switch in.Op {
	case OpMov:
		regs[in.Dst] = truncate(p.eval(regs, in.X), in.Type)
	case OpCvt:
		regs[in.Dst] = convert(p.eval(regs, in.X), in.SrcType, in.Type)
	case OpSel:
		if p.eval(regs, in.X) != 0 {
			regs[in.Dst] = truncate(p.eval(regs, in.Y), in.Type)
		} else {
			regs[in.Dst] = truncate(p.eval(regs, in.Z), in.Type)
		}
	case OpSpecial:
		regs[in.Dst] = truncate(p.special(ctx, lane, in.Special), in.Type)
	case OpCmp:
		regs[in.Dst] = compare(p.eval(regs, in.X), p.eval(regs, in.Y), in.Cmp, in.Type)
	case OpLd:
		region, base, err := p.region(ctx, regs, lane, in)
		if err != nil {
			return err
		}
		v, err := loadScalar(region, base, in.Type)
		if err != nil {
			return fmt.Errorf("%s: %w", in, err)
		}
		regs[in.Dst] = v
	case OpSt:
		region, base, err := p.region(ctx, regs, lane, in)
		if err != nil {
			return err
		}
		if err := storeScalar(region, base, in.Type, p.eval(regs, in.X)); err != nil {
			return fmt.Errorf("%s: %w", in, err)
		}
	case OpTex:
		if in.TexSlot < 0 || in.TexSlot >= len(ctx.Textures) {
			return fmt.Errorf("%s: texture slot %d not bound", in, in.TexSlot)
		}
		idx := int64(p.eval(regs, in.X))
		v, err := loadScalar(ctx.Textures[in.TexSlot], idx*int64(in.Type.Bytes()), in.Type)
		if err != nil {
			return fmt.Errorf("%s: %w", in, err)
		}
		regs[in.Dst] = v
	default:
		v, err := binop(in, p.eval(regs, in.X), p.eval(regs, in.Y))
		if err != nil {
			return fmt.Errorf("%s: %w", in, err)
		}
		regs[in.Dst] = v
	}
	return nil
}

func (p *program) special(ctx *ExecutionContext, lane int, s SpecialKind) uint64 {
	switch s {
	case SpecialTid:
		return uint64(ctx.ThreadID + int64(lane))
	case SpecialNtid:
		return uint64(ctx.NThreads)
	case SpecialCtaid:
		return uint64(ctx.CTAID)
	case SpecialNctaid:
		return uint64(ctx.NCTAID)
	case SpecialLaneid:
		return uint64(lane)
	case SpecialWarpsize:
		return uint64(p.warpSize)
	default:
		return 0
	}
}

// region resolves a memory instruction to its backing byte region and base
// offset.
func (p *program) region(ctx *ExecutionContext, regs map[string]uint64, lane int, in *Instr) ([]byte, int64, error) {
	off := in.Addr.Off
	var regval uint64
	if in.Addr.Reg != "" {
		regval = regs[in.Addr.Reg]
	}
	switch in.Space {
	case SpaceArg:
		return ctx.Argument, off + int64(regval), nil
	case SpaceParam:
		return ctx.Parameter, off + int64(regval), nil
	case SpaceShared:
		return ctx.Shared, off + int64(regval), nil
	case SpaceConst:
		return ctx.Constant, off + int64(regval), nil
	case SpaceLocal:
		local := ctx.laneLocal(lane)
		if local == nil {
			return nil, 0, fmt.Errorf("%s: lane %d has no local region", in, lane)
		}
		return local, off + int64(regval), nil
	case SpaceGlobal:
		if in.Addr.Sym != "" {
			region, symOff, ok := p.symbols.region(p.symbols.handle(in.Addr.Sym))
			if !ok {
				return nil, 0, &LinkError{Function: p.fn.Name, Symbol: in.Addr.Sym}
			}
			return region, symOff + off, nil
		}
		region, symOff, ok := p.symbols.region(regval)
		if !ok {
			return nil, 0, fmt.Errorf("%s: register does not hold a global handle", in)
		}
		return region, symOff + off, nil
	default:
		return nil, 0, fmt.Errorf("%s: invalid address space", in)
	}
}
