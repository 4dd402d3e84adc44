// Package cache is the dynamic translation cache: it owns the backend
// engine, the registered kernel graphs and every compiled specialization,
// and hands out reference-stable translations keyed by subkernel and warp
// width.
package cache

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kaby76/gpuocelot/internal/backend"
	"github.com/kaby76/gpuocelot/internal/device"
	"github.com/kaby76/gpuocelot/internal/layout"
	"github.com/kaby76/gpuocelot/internal/ptx"
	"github.com/kaby76/gpuocelot/internal/trace"
	"github.com/kaby76/gpuocelot/internal/translate"
)

// TranslationCache coordinates module loading, kernel registration and
// on-demand translation. Lookups are lock-cheap; builds are serialized by a
// dedicated build lock and deduplicated so each (subkernel, warp, level)
// builds at most once even under concurrent requests.
type TranslationCache struct {
	engine   *backend.Engine
	pipeline *translate.Pipeline
	tracer   trace.Tracer

	// buildMu serializes translation and the clone-optimize-verify-link-
	// compile sequence.
	buildMu sync.Mutex
	group   singleflight.Group

	mu         sync.RWMutex
	modules    map[string]*moduleEntry
	kernels    map[string]*ptx.KernelGraph
	subkernels map[ptx.SubkernelID]*subkernelEntry
	nextID     ptx.SubkernelID

	// code is the backend module all generic translations and clones live
	// in.
	code *backend.Module
}

// moduleEntry pairs a loaded module with the device it was loaded against.
type moduleEntry struct {
	module *ptx.Module
	device device.Device
}

// subkernelEntry holds the per-subkernel translation state. The generic
// function and metadata are built at registration; specializations nest by
// warp width.
type subkernelEntry struct {
	subkernel *ptx.Subkernel
	module    *ptx.Module
	device    device.Device

	generic  *backend.Function
	metadata *layout.Metadata

	byWarp map[int]*Translation
}

// New creates a translation cache. tracer may be nil.
func New(tracer trace.Tracer) *TranslationCache {
	if tracer == nil {
		tracer = trace.Nop()
	}
	engine := backend.NewEngine()
	code := &backend.Module{Name: "ocelot"}
	engine.AddModule(code)
	return &TranslationCache{
		engine:     engine,
		pipeline:   translate.NewPipeline(engine, layout.NewPlanner(tracer), tracer),
		tracer:     tracer,
		modules:    make(map[string]*moduleEntry),
		kernels:    make(map[string]*ptx.KernelGraph),
		subkernels: make(map[ptx.SubkernelID]*subkernelEntry),
		code:       code,
	}
}

// Engine exposes the backend engine for global binding management.
func (c *TranslationCache) Engine() *backend.Engine { return c.engine }

// Disassemble renders every translated function as textual assembly.
func (c *TranslationCache) Disassemble() string {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	return backend.Assemble(c.code)
}

// LoadModule registers a loaded module with the cache together with the
// device it was loaded against. dev resolves the module's textures and
// global allocations; it may be nil for modules that use neither. Module
// names are unique; loading the same name twice is an error.
func (c *TranslationCache) LoadModule(m *ptx.Module, dev device.Device) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.modules[m.Name]; dup {
		return fmt.Errorf("module %q already loaded", m.Name)
	}
	c.modules[m.Name] = &moduleEntry{module: m, device: dev}
	c.tracer.Eventf(trace.LevelTranslation, "loaded module %s (%d kernels, %d globals)",
		m.Name, len(m.Kernels), len(m.Globals))
	return nil
}

// Module returns a loaded module by name.
func (c *TranslationCache) Module(name string) (*ptx.Module, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	me, ok := c.modules[name]
	if !ok {
		return nil, false
	}
	return me.module, true
}

// RegisterKernel partitions a kernel at its barriers, assigns subkernel ids
// and translates every fragment into the backend module, so unsupported
// call targets and layout failures surface here rather than at first
// launch. Registration is idempotent: re-registering returns the existing
// graph. On any failure no ids are consumed, no state is recorded and any
// functions already spliced in are removed again.
func (c *TranslationCache) RegisterKernel(moduleName, kernelName string) (*ptx.KernelGraph, error) {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	c.mu.Lock()
	if graph, ok := c.kernels[kernelName]; ok {
		c.mu.Unlock()
		return graph, nil
	}
	me, ok := c.modules[moduleName]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("module %q is not loaded", moduleName)
	}
	kernel, ok := me.module.Kernel(kernelName)
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("module %q has no kernel %q", moduleName, kernelName)
	}
	base := c.nextID
	c.mu.Unlock()

	graph, err := ptx.Partition(kernel, base)
	if err != nil {
		return nil, err
	}

	resolver := &registrationResolver{cache: c, kernel: kernelName, graph: graph}
	entries := make(map[ptx.SubkernelID]*subkernelEntry, len(graph.Order))
	var added []string
	for _, id := range graph.Order {
		sk := graph.Subkernels[id]
		fn, md, err := c.pipeline.Translate(c.code, me.module, sk, me.device, resolver)
		if err != nil {
			for _, name := range added {
				c.engine.RemoveFunction(c.code, name)
			}
			return nil, err
		}
		added = append(added, fn.Name)
		entries[id] = &subkernelEntry{
			subkernel: sk,
			module:    me.module,
			device:    me.device,
			generic:   fn,
			metadata:  md,
			byWarp:    make(map[int]*Translation),
		}
	}

	c.mu.Lock()
	c.nextID = base + ptx.SubkernelID(len(graph.Order))
	c.kernels[kernelName] = graph
	for id, entry := range entries {
		c.subkernels[id] = entry
	}
	c.mu.Unlock()

	c.tracer.Eventf(trace.LevelTranslation, "registered kernel %s: %d subkernels starting at %d",
		kernelName, len(graph.Order), graph.Entry)
	return graph, nil
}

// registrationResolver resolves call targets while the owning kernel's
// graph is not yet published, so self tail calls resolve to its own entry.
type registrationResolver struct {
	cache  *TranslationCache
	kernel string
	graph  *ptx.KernelGraph
}

func (r *registrationResolver) EntrySubkernel(name string) (ptx.SubkernelID, bool) {
	if name == r.kernel {
		return r.graph.Entry, true
	}
	return r.cache.EntrySubkernel(name)
}

// KernelGraph returns the registered graph of a kernel.
func (c *TranslationCache) KernelGraph(kernelName string) (*ptx.KernelGraph, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	graph, ok := c.kernels[kernelName]
	return graph, ok
}

// EntrySubkernel resolves a kernel name to its entry subkernel. It
// implements the call-target resolver consulted during translation.
func (c *TranslationCache) EntrySubkernel(name string) (ptx.SubkernelID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	graph, ok := c.kernels[name]
	if !ok {
		return ptx.NoSubkernelID, false
	}
	return graph.Entry, true
}

// GetOrInsertTranslation returns the compiled translation of a subkernel for
// a warp width, building it on first request. Repeated requests return the
// same Translation instance. The optimization level participates in build
// deduplication but not in cache identity: once a (subkernel, warp) pair is
// built, later requests get the existing translation regardless of level.
func (c *TranslationCache) GetOrInsertTranslation(id ptx.SubkernelID, warpSize int, level translate.OptimizationLevel) (*Translation, error) {
	if warpSize < 1 {
		return nil, fmt.Errorf("invalid warp size %d", warpSize)
	}

	c.mu.RLock()
	entry, ok := c.subkernels[id]
	if ok {
		if t, hit := entry.byWarp[warpSize]; hit {
			c.mu.RUnlock()
			return t, nil
		}
	}
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("subkernel %d is not registered", id)
	}

	key := fmt.Sprintf("%d/%d/%s", id, warpSize, level)
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.build(entry, warpSize, level)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Translation), nil
}

// build specializes the generic translation under the build lock and
// publishes the result. The generic function itself was produced at
// registration and is shared by every warp width.
func (c *TranslationCache) build(entry *subkernelEntry, warpSize int, level translate.OptimizationLevel) (*Translation, error) {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	// A concurrent flight with a different level may have published while
	// this one queued on the build lock.
	c.mu.RLock()
	if t, hit := entry.byWarp[warpSize]; hit {
		c.mu.RUnlock()
		return t, nil
	}
	generic := entry.generic
	c.mu.RUnlock()

	t, err := c.specialize(entry, generic, warpSize, level)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	entry.byWarp[warpSize] = t
	c.mu.Unlock()
	return t, nil
}
