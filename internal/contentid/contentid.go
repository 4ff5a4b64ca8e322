// Package contentid derives stable identifiers for image payloads and the
// sidecar file paths written next to watched images.
package contentid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

const (
	prefix        = "sha256:"
	sidecarSuffix = ".embedding.json"
)

// ContentID returns the digest identifier for data. Identical bytes always
// yield the same ID; it is used as the embedding cache key.
func ContentID(data []byte) string {
	sum := sha256.Sum256(data)
	return prefix + hex.EncodeToString(sum[:])
}

// SidecarPath returns the path of the embedding file written for imagePath.
func SidecarPath(imagePath string) string {
	return filepath.Clean(imagePath) + sidecarSuffix
}

// IsSidecar reports whether path names an embedding sidecar file.
func IsSidecar(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), sidecarSuffix)
}
