package content

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrNoSnapshot is returned by ReadyErr before the first Set.
var ErrNoSnapshot = errors.New("content: no active snapshot")

type Manager struct {
	active atomic.Pointer[Snapshot]
}

func NewManager() *Manager { return &Manager{} }

// Set stores a copy of s as the active snapshot.
func (m *Manager) Set(s Snapshot) {
	cp := s
	if cp.LoadedAt.IsZero() {
		cp.LoadedAt = time.Now().UTC()
	}
	m.active.Store(&cp)
}

// Get returns the active snapshot and whether it has a filesystem.
func (m *Manager) Get() (*Snapshot, bool) {
	s := m.active.Load()
	return s, s != nil && s.FS != nil
}

// ReadyErr is nil once a snapshot is active.
func (m *Manager) ReadyErr() error {
	if _, ok := m.Get(); !ok {
		return ErrNoSnapshot
	}
	return nil
}

// ContentVersion implements httpmw.ContentInfo.
func (m *Manager) ContentVersion() string {
	if s := m.active.Load(); s != nil {
		return s.Meta.Version
	}
	return ""
}

// ContentHash implements httpmw.ContentInfo. Directory content has no hash.
func (m *Manager) ContentHash() string {
	if s := m.active.Load(); s != nil {
		return s.Meta.SHA256
	}
	return ""
}

func (m *Manager) Source() Source {
	if s := m.active.Load(); s != nil {
		return s.Meta.Source
	}
	return SourceUnknown
}

func (m *Manager) LoadedAt() time.Time {
	if s := m.active.Load(); s != nil {
		return s.LoadedAt
	}
	return time.Time{}
}
