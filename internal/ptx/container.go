package ptx

import (
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// ContainerSchema is the module container format version. Bump it whenever
// the serialized shape of Module changes.
const ContainerSchema uint16 = 1

type container struct {
	Schema uint16
	Module *Module
}

// EncodeModule writes a module container to w.
func EncodeModule(w io.Writer, m *Module) error {
	enc := msgpack.NewEncoder(w)
	if err := enc.Encode(container{Schema: ContainerSchema, Module: m}); err != nil {
		return fmt.Errorf("encode module %s: %w", m.Name, err)
	}
	return nil
}

// DecodeModule reads a module container from r.
func DecodeModule(r io.Reader) (*Module, error) {
	dec := msgpack.NewDecoder(r)
	var c container
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode module container: %w", err)
	}
	if c.Schema != ContainerSchema {
		return nil, fmt.Errorf("unsupported module container schema %d (want %d)", c.Schema, ContainerSchema)
	}
	if c.Module == nil {
		return nil, fmt.Errorf("module container has no module")
	}
	return c.Module, nil
}

// LoadModuleFile decodes a module container from disk and records its path.
func LoadModuleFile(path string) (*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := DecodeModule(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.Path == "" {
		m.Path = path
	}
	return m, nil
}

// WriteModuleFile encodes a module container to disk.
func WriteModuleFile(path string, m *Module) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeModule(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
