// Package fileid names uploaded files and fingerprints their content.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
)

// New returns a fresh file ID.
func New() string {
	return uuid.New().String()
}

// ContentDigest returns the hex SHA-256 of content.
func ContentDigest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// DigestSet maps content digests to the file ID that holds that content.
// It is safe for concurrent use.
type DigestSet struct {
	mu sync.Mutex
	m  map[string]string
}

// NewDigestSet returns an empty set.
func NewDigestSet() *DigestSet {
	return &DigestSet{m: make(map[string]string)}
}

// Claim records digest for fileID unless it is already present, in which
// case it returns the existing file ID and false.
func (s *DigestSet) Claim(digest, fileID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.m[digest]; ok {
		return existing, false
	}
	s.m[digest] = fileID
	return fileID, true
}

// Release forgets digest if it is still held by fileID.
func (s *DigestSet) Release(digest, fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m[digest] == fileID {
		delete(s.m, digest)
	}
}

// Lookup returns the file ID holding digest.
func (s *DigestSet) Lookup(digest string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.m[digest]
	return id, ok
}

// Len returns the number of digests.
func (s *DigestSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
