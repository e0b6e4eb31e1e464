package drive

import (
	"sync"

	"golang.org/x/text/unicode/norm"
)

// maxNormEntries bounds the normalization map. Mismatched names are rare;
// an evicted mapping is re-recorded by the next listing of its directory.
const maxNormEntries = 65536

// Normalizer reconciles locally requested paths with the remote's raw
// spelling when the two differ only by Unicode normalization form. Paths
// handed to the core are canonicalized to NFC; listings record the raw
// remote form whenever it deviates.
type Normalizer struct {
	mu    sync.Mutex
	raw   map[string]string
	order []string
}

// NewNormalizer returns an empty Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{raw: make(map[string]string)}
}

// Canonical returns the NFC form of path.
func Canonical(path string) string {
	return norm.NFC.String(path)
}

// Resolve maps a canonical path back to its raw remote form. Unrecorded
// paths pass through unchanged.
func (n *Normalizer) Resolve(path string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if raw, ok := n.raw[path]; ok {
		return raw
	}
	return path
}

// Record stores canonicalPath -> rawPath. Recording the same mapping again
// refreshes nothing; a changed raw form overwrites the old one.
func (n *Normalizer) Record(canonicalPath, rawPath string) {
	if canonicalPath == rawPath {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.raw[canonicalPath]; !ok {
		if len(n.order) >= maxNormEntries {
			oldest := n.order[0]
			n.order = n.order[1:]
			delete(n.raw, oldest)
		}
		n.order = append(n.order, canonicalPath)
	}
	n.raw[canonicalPath] = rawPath
}

// Len reports the number of recorded mappings.
func (n *Normalizer) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.raw)
}
