package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"southwinds.dev/locker/internal/debug"
	"southwinds.dev/locker/internal/misc"
)

const recordExtension = ".rec"

// FileSystemStore persists one file per record under a base directory. It is
// the default backend on platforms without a native secure keystore; files are
// created 0600 inside a 0700 directory and written atomically (temp + rename)
// so a crash mid-write never leaves a truncated record.
type FileSystemStore struct {
	basePath    string
	tempDir     string
	maxBlobSize int
}

func NewFileSystemStore(basePath string) (*FileSystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path is required")
	}

	fs := &FileSystemStore{
		basePath: basePath,
		tempDir:  filepath.Join(basePath, "temp"),
	}

	for _, dir := range []string{fs.basePath, fs.tempDir} {
		if err := os.MkdirAll(dir, misc.DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return fs, nil
}

func (fs *FileSystemStore) recordPath(key string) string {
	// Keys are pre-normalized to [A-Za-z0-9._-]+ so they are filesystem safe.
	return filepath.Join(fs.basePath, key+recordExtension)
}

func (fs *FileSystemStore) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(fs.recordPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read record %s: %w", key, err)
	}
	return data, nil
}

func (fs *FileSystemStore) Set(key string, blob []byte) error {
	return fs.writeSecureFile(fs.recordPath(key), blob)
}

func (fs *FileSystemStore) Delete(key string) error {
	if err := os.Remove(fs.recordPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}

func (fs *FileSystemStore) List(prefix string) ([]string, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExtension) {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), recordExtension)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (fs *FileSystemStore) Ping() error {
	info, err := os.Stat(fs.basePath)
	if err != nil {
		return fmt.Errorf("store base path unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store base path is not a directory: %s", fs.basePath)
	}
	return nil
}

func (fs *FileSystemStore) Close() error { return nil }

func (fs *FileSystemStore) GetType() string { return string(StoreTypeFileSystem) }

func (fs *FileSystemStore) MaxBlobSize() int { return fs.maxBlobSize }

// writeSecureFile writes data to a temp file with restrictive permissions and
// renames it into place.
func (fs *FileSystemStore) writeSecureFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(fs.tempDir, "write-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	debug.Print("writing %d bytes via %s\n", len(data), tmpName)

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err = tmp.Chmod(misc.FilePermissions); err != nil {
		cleanup()
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if _, err = tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync data: %w", err)
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move record into place: %w", err)
	}
	return nil
}
