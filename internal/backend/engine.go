package backend

import (
	"fmt"
	"sync"
)

// Engine is the code-generation context: registered modules and the global
// symbol table binding global variables to host memory. It replaces the
// process-wide JIT singleton of classic designs; callers create one
// explicitly and tear it down with the translation cache.
//
// Mutations of module membership and bindings are guarded internally, but
// the higher-level build sequence (clone, optimize, verify, link, compile)
// must be serialized by the caller's build lock.
type Engine struct {
	mu       sync.Mutex
	modules  map[string]*Module
	bindings map[string][]byte
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{
		modules:  make(map[string]*Module),
		bindings: make(map[string][]byte),
	}
}

// AddModule registers a module with the engine.
func (e *Engine) AddModule(m *Module) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modules[m.Name] = m
}

// RemoveModule unregisters a module.
func (e *Engine) RemoveModule(m *Module) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.modules, m.Name)
}

// BindGlobal binds a global symbol to host memory. Rebinding replaces the
// previous binding. It reports whether the symbol was newly bound.
func (e *Engine) BindGlobal(name string, mem []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, existed := e.bindings[name]
	e.bindings[name] = mem
	return !existed
}

// UnbindGlobal removes a global binding.
func (e *Engine) UnbindGlobal(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.bindings, name)
}

// Binding returns the memory bound to a symbol.
func (e *Engine) Binding(name string) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mem, ok := e.bindings[name]
	return mem, ok
}

// ParseAssemblyInto parses textual assembly and splices the resulting
// functions into the module. On parse failure nothing is added and the parse
// diagnostic is returned.
func (e *Engine) ParseAssemblyInto(m *Module, text string) ([]*Function, error) {
	funcs, err := ParseAssembly(text)
	if err != nil {
		return nil, err
	}
	for _, f := range funcs {
		if _, dup := m.Func(f.Name); dup {
			return nil, fmt.Errorf("module %s already defines function %s", m.Name, f.Name)
		}
	}
	m.Funcs = append(m.Funcs, funcs...)
	return funcs, nil
}

// CloneFunction deep-copies a function under a new unique name and adds the
// clone to the module.
func (e *Engine) CloneFunction(m *Module, name, cloneName string) (*Function, error) {
	src, ok := m.Func(name)
	if !ok {
		return nil, fmt.Errorf("module %s has no function %s", m.Name, name)
	}
	if _, dup := m.Func(cloneName); dup {
		return nil, fmt.Errorf("module %s already defines function %s", m.Name, cloneName)
	}
	clone := cloneFunction(src, cloneName)
	m.Funcs = append(m.Funcs, clone)
	return clone, nil
}

// RemoveFunction removes a function from the module. Removing an absent
// function is a no-op.
func (e *Engine) RemoveFunction(m *Module, name string) {
	for i, f := range m.Funcs {
		if f.Name == name {
			m.Funcs = append(m.Funcs[:i], m.Funcs[i+1:]...)
			return
		}
	}
}

func cloneFunction(src *Function, name string) *Function {
	clone := &Function{Name: name, Blocks: make([]*Block, 0, len(src.Blocks))}
	for _, b := range src.Blocks {
		nb := &Block{
			Label:  b.Label,
			Instrs: make([]Instr, len(b.Instrs)),
			Term:   b.Term,
		}
		copy(nb.Instrs, b.Instrs)
		clone.Blocks = append(clone.Blocks, nb)
	}
	return clone
}

// LinkError reports a global symbol with no binding at compile time.
type LinkError struct {
	Function string
	Symbol   string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("function %s references unbound global %q", e.Function, e.Symbol)
}
