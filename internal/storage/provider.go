// Package storage provides the small file-system layer used for on-disk
// caches such as the dictionary snapshot.
package storage

// Files is the interface for cache file operations. Paths are relative to
// the storage root.
type Files interface {
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically replaces the file at path with content.
	Write(path string, content []byte) error
	// Exists reports whether path is a regular file.
	Exists(path string) bool
	// Abs returns the absolute location of path, for watchers.
	Abs(path string) (string, error)
}
