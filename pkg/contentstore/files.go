package contentstore

import "context"

// Files exposes a Store through bare 32 byte hashes.
type Files struct {
	store Store
}

// NewFiles wraps store.
func NewFiles(store Store) *Files {
	return &Files{store: store}
}

// WriteFile stores data and returns its 0x-prefixed digest.
func (f *Files) WriteFile(ctx context.Context, data []byte) (string, error) {
	id, err := f.store.Put(ctx, data)
	if err != nil {
		return "", err
	}
	return StripHeader(id)
}

// ReadFile returns the content whose digest is hash.
func (f *Files) ReadFile(ctx context.Context, hash string) ([]byte, error) {
	id, err := PrependHeader(hash)
	if err != nil {
		return nil, err
	}
	return f.store.Get(ctx, id)
}
