package device

import "sync"

// HostDevice is the in-process reference Device: global variables live in
// host memory and textures are plain byte images. It is safe for concurrent
// use.
type HostDevice struct {
	mu       sync.RWMutex
	globals  map[string]map[string]*Allocation
	textures map[string]map[string]*Texture
}

// NewHostDevice creates an empty host device.
func NewHostDevice() *HostDevice {
	return &HostDevice{
		globals:  make(map[string]map[string]*Allocation),
		textures: make(map[string]map[string]*Texture),
	}
}

// AllocateGlobal creates (or replaces) a global allocation of the given size.
func (d *HostDevice) AllocateGlobal(modulePath, name string, size int) *Allocation {
	d.mu.Lock()
	defer d.mu.Unlock()
	alloc := &Allocation{Name: name, Memory: make([]byte, size)}
	mod := d.globals[modulePath]
	if mod == nil {
		mod = make(map[string]*Allocation)
		d.globals[modulePath] = mod
	}
	mod[name] = alloc
	return alloc
}

// BindTexture registers a texture reference for a module.
func (d *HostDevice) BindTexture(modulePath string, tex *Texture) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mod := d.textures[modulePath]
	if mod == nil {
		mod = make(map[string]*Texture)
		d.textures[modulePath] = mod
	}
	mod[tex.Name] = tex
}

// GetGlobalAllocation implements Device.
func (d *HostDevice) GetGlobalAllocation(modulePath, name string) (*Allocation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if alloc, ok := d.globals[modulePath][name]; ok {
		return alloc, nil
	}
	return nil, &NotFoundError{ModulePath: modulePath, Name: name, Kind: "global"}
}

// GetTextureReference implements Device.
func (d *HostDevice) GetTextureReference(modulePath, name string) (*Texture, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if tex, ok := d.textures[modulePath][name]; ok {
		return tex, nil
	}
	return nil, &NotFoundError{ModulePath: modulePath, Name: name, Kind: "texture"}
}
