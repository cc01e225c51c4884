package marshal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// TagBlob marks byte values that were handed over through a blob store
const TagBlob = "blob"

// IBlobStore keeps large byte values outside of the message envelope.
// Handles are opaque to everyone but the store.
type IBlobStore interface {
	// Put stores data and returns its handle
	Put(data []byte) (string, error)
	// Get returns the data stored under handle
	Get(handle string) ([]byte, error)
	// Delete removes the data stored under handle
	Delete(handle string) error
}

// --------------------------------------------------------------------------
// File system backed store
// --------------------------------------------------------------------------

// FsBlobStore stores every blob as a file named by a random uuid
type FsBlobStore struct {
	fs  afero.Fs
	dir string
}

// NewFsBlobStore creates a store writing into dir on fs. The directory is created if needed.
func NewFsBlobStore(fs afero.Fs, dir string) (*FsBlobStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory %s: %w", dir, err)
	}
	return &FsBlobStore{fs: fs, dir: dir}, nil
}

// NewOsBlobStore creates a store on the local disk. An empty dir selects a
// directory below the system temp dir.
func NewOsBlobStore(dir string) (*FsBlobStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "dcomm-blobs")
	}
	return NewFsBlobStore(afero.NewOsFs(), dir)
}

// NewMemBlobStore creates an in-memory store
func NewMemBlobStore() *FsBlobStore {
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/blobs", 0o755)
	return &FsBlobStore{fs: fs, dir: "/blobs"}
}

func (s *FsBlobStore) Put(data []byte) (string, error) {
	handle := uuid.NewString()
	if err := afero.WriteFile(s.fs, s.path(handle), data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return handle, nil
}

func (s *FsBlobStore) Get(handle string) ([]byte, error) {
	if err := validHandle(handle); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, s.path(handle))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", handle, err)
	}
	return data, nil
}

func (s *FsBlobStore) Delete(handle string) error {
	if err := validHandle(handle); err != nil {
		return err
	}
	return s.fs.Remove(s.path(handle))
}

func (s *FsBlobStore) path(handle string) string {
	return filepath.Join(s.dir, handle+".blob")
}

// validHandle rejects anything that is not a uuid, so handles can never escape the blob directory
func validHandle(handle string) error {
	if _, err := uuid.Parse(handle); err != nil {
		return fmt.Errorf("invalid blob handle %q", handle)
	}
	return nil
}

// --------------------------------------------------------------------------
// Blob serializer
// --------------------------------------------------------------------------

// blobSerializer hands byte slices larger than threshold over through a store.
// Decoding removes the blob, every handle is read exactly once.
type blobSerializer struct {
	store     IBlobStore
	threshold int
}

// NewBlobSerializer creates a serializer for byte slices longer than threshold
func NewBlobSerializer(store IBlobStore, threshold int) IValueSerializer {
	return &blobSerializer{store: store, threshold: threshold}
}

func (b *blobSerializer) TypeTag() string           { return TagBlob }
func (b *blobSerializer) CanDecode(tag string) bool { return tag == TagBlob }

func (b *blobSerializer) CanHandle(v any) bool {
	data, ok := v.([]byte)
	return ok && len(data) > b.threshold
}

func (b *blobSerializer) Encode(v any) ([]byte, error) {
	handle, err := b.store.Put(v.([]byte))
	if err != nil {
		return nil, err
	}
	return []byte(handle), nil
}

func (b *blobSerializer) Decode(content []byte) (any, error) {
	handle := string(content)
	data, err := b.store.Get(handle)
	if err != nil {
		return nil, err
	}
	if err := b.store.Delete(handle); err != nil {
		return nil, common.WrapError(common.KindSerializationFailure, err, "failed to release blob %s", handle)
	}
	return data, nil
}
