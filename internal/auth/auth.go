// Package auth maps bearer tokens to owners.
package auth

import (
	"strings"
	"sync"
)

// Verifier resolves a presented token to its owner.
type Verifier interface {
	Verify(token string) (owner string, ok bool)
}

// Key is one token/owner pair from config.
type Key struct {
	Token string
	Owner string
}

// Static is a config-driven Verifier. Replace() swaps the key set on reload.
type Static struct {
	mu   sync.RWMutex
	keys map[string]string
}

func NewStatic(keys []Key) *Static {
	s := &Static{}
	s.Replace(keys)
	return s
}

func (s *Static) Replace(keys []Key) {
	m := make(map[string]string, len(keys))
	for _, k := range keys {
		tok := strings.TrimSpace(k.Token)
		if tok == "" {
			continue
		}
		m[tok] = k.Owner
	}
	s.mu.Lock()
	s.keys = m
	s.mu.Unlock()
}

func (s *Static) Verify(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.keys[token]
	return owner, ok
}
