package ptx

// Variable is a declared module-level or kernel-level variable.
type Variable struct {
	Name      string
	Directive Directive
	Type      ScalarType
	// Alignment in bytes; zero means the type's natural alignment.
	Alignment int
	// Elements is the array element count; zero means scalar.
	Elements int
	// Extern marks launch-time-sized declarations. Only meaningful for
	// shared variables.
	Extern bool
}

// Count returns the element count, treating scalars as one element.
func (v *Variable) Count() int {
	if v.Elements <= 0 {
		return 1
	}
	return v.Elements
}

// Size returns the declared byte size.
func (v *Variable) Size() int {
	return v.Type.Bytes() * v.Count()
}

// Align returns the required alignment in bytes.
func (v *Variable) Align() int {
	if v.Alignment > 0 {
		return v.Alignment
	}
	if b := v.Type.Bytes(); b > 0 {
		return b
	}
	return 1
}

// Parameter is a declared kernel argument.
type Parameter struct {
	Name     string
	Type     ScalarType
	Elements int
}

// Size returns the argument's byte size.
func (p *Parameter) Size() int {
	n := p.Elements
	if n <= 0 {
		n = 1
	}
	return p.Type.Bytes() * n
}

// Alignment returns the argument's required alignment.
func (p *Parameter) Alignment() int {
	if b := p.Type.Bytes(); b > 0 {
		return b
	}
	return 1
}

// Kernel is one entry point (or device function) of a module: its declared
// arguments, function-local variable declarations and control-flow graph.
// The entry block is Blocks[0].
type Kernel struct {
	Name string

	// Function marks device functions as opposed to launchable entries.
	Function bool

	Arguments []Parameter
	Locals    []Variable
	Blocks    []*BasicBlock
}

// Local finds a function-local declaration by name.
func (k *Kernel) Local(name string) (*Variable, bool) {
	for i := range k.Locals {
		if k.Locals[i].Name == name {
			return &k.Locals[i], true
		}
	}
	return nil, false
}

// Block finds a basic block by label.
func (k *Kernel) Block(label string) (*BasicBlock, bool) {
	for _, b := range k.Blocks {
		if b.Label == label {
			return b, true
		}
	}
	return nil, false
}

// Module is one loaded compilation unit. It owns its global declarations and
// kernels and is immutable once loaded.
type Module struct {
	Name    string
	Path    string
	Globals []Variable
	Kernels []*Kernel
}

// Global finds a module-level declaration by name.
func (m *Module) Global(name string) (*Variable, bool) {
	for i := range m.Globals {
		if m.Globals[i].Name == name {
			return &m.Globals[i], true
		}
	}
	return nil, false
}

// Kernel finds a kernel by name.
func (m *Module) Kernel(name string) (*Kernel, bool) {
	for _, k := range m.Kernels {
		if k.Name == name {
			return k, true
		}
	}
	return nil, false
}
