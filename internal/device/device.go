// Package device defines the device collaborator consulted by the layout
// planner for texture references and by the specializer for global-variable
// addresses.
package device

import "fmt"

// Allocation is a device-side memory allocation backing a global variable.
type Allocation struct {
	Name   string
	Memory []byte
}

// Size returns the allocation size in bytes.
func (a *Allocation) Size() int { return len(a.Memory) }

// Texture is a device-side texture reference.
type Texture struct {
	Name     string
	Width    int
	Height   int
	Channels int
	Memory   []byte
}

// Device resolves module symbols to device-side resources. Both methods are
// called synchronously during layout and linking; a missing symbol is fatal
// for the requesting translation.
type Device interface {
	// GetTextureReference resolves a texture identifier for a module.
	GetTextureReference(modulePath, name string) (*Texture, error)

	// GetGlobalAllocation resolves a global variable's allocation for a
	// module.
	GetGlobalAllocation(modulePath, name string) (*Allocation, error)
}

// NotFoundError reports a symbol the device cannot resolve.
type NotFoundError struct {
	ModulePath string
	Name       string
	Kind       string // "texture" or "global"
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("device has no %s %q for module %s", e.Kind, e.Name, e.ModulePath)
}
