package flysystem

import (
	"context"
	"fmt"
)

// Extension adds a named operation the facade does not support natively.
// The facade is handed back to the extension so it can compose the public
// operations (and inherit their cache behavior) rather than bypass them.
type Extension interface {
	// Name is the operation name the extension answers to. Must be non-empty
	// and unique per facade.
	Name() string

	Apply(ctx context.Context, fs *Filesystem, args ...any) (any, error)
}

// RegisterExtension validates and installs ext. Duplicate or empty names are
// rejected at registration, not at call time.
func (f *Filesystem) RegisterExtension(ext Extension) error {
	name := ext.Name()
	if name == "" {
		return fmt.Errorf("flysystem: extension name is required")
	}
	f.extMu.Lock()
	defer f.extMu.Unlock()
	if _, dup := f.exts[name]; dup {
		return fmt.Errorf("flysystem: extension %q already registered", name)
	}
	f.exts[name] = ext
	return nil
}

// InvokeExtension dispatches to the extension registered under name.
// An unregistered name is a configuration error (ErrExtensionNotRegistered).
func (f *Filesystem) InvokeExtension(ctx context.Context, name string, args ...any) (any, error) {
	f.extMu.RLock()
	ext, ok := f.exts[name]
	f.extMu.RUnlock()
	if !ok {
		return nil, &ExtensionError{Name: name}
	}
	return ext.Apply(ctx, f, args...)
}
