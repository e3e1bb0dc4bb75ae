package core

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/valter-silva-au/session-intel/internal/storage"
	"github.com/valter-silva-au/session-intel/pkg/models"
)

// SessionHandle bundles what a running session needs: its id, workspace
// and conversational memory.
type SessionHandle struct {
	ID       string
	Dir      string
	Manifest *models.SessionManifest
	Memory   storage.MemoryHandle
	Resumed  bool
}

// SessionManager creates and resumes session workspaces.
type SessionManager struct {
	store  storage.ArtifactStore
	memory storage.MemoryStore
	events EventLogger
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	handles map[string]*SessionHandle
}

// NewSessionManager creates a SessionManager. memory may be nil, in which
// case handles carry no conversational memory.
func NewSessionManager(store storage.ArtifactStore, memory storage.MemoryStore, events EventLogger, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		store:   store,
		memory:  memory,
		events:  events,
		logger:  logger,
		now:     time.Now,
		handles: make(map[string]*SessionHandle),
	}
}

// NewSessionID returns a sortable UTC timestamp plus a short random suffix,
// for example 20250301-091500-a1b2c3.
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return now.UTC().Format("20060102-150405-") + suffix
}

// CreateOrResume returns the handle for sessionID, minting a new id when it
// is empty. Resuming never touches existing artifacts.
func (m *SessionManager) CreateOrResume(sessionID string) (*SessionHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessionID == "" {
		sessionID = NewSessionID(m.now())
	}
	if h, ok := m.handles[sessionID]; ok {
		return h, nil
	}

	dir, err := m.store.EnsureWorkspace(sessionID)
	if err != nil {
		return nil, fmt.Errorf("creating session %s: %w", sessionID, err)
	}
	h := &SessionHandle{ID: sessionID, Dir: dir}
	existing, err := storage.LoadManifest(dir)
	if err != nil {
		// A damaged manifest is bookkeeping only; the entries are intact.
		m.logger.Warn("ignoring unreadable session manifest", zap.String("session_id", sessionID), zap.Error(err))
		h.Resumed = true
	} else {
		h.Resumed = existing != nil
		h.Manifest, err = storage.TouchManifest(dir, sessionID, m.now())
		if err != nil {
			return nil, fmt.Errorf("creating session %s: %w", sessionID, err)
		}
	}
	if m.memory != nil {
		h.Memory = m.memory.Handle(sessionID)
	}
	m.handles[sessionID] = h

	eventType := EventSessionStarted
	if h.Resumed {
		eventType = EventSessionResumed
	}
	logEvent(m.events, eventType, map[string]any{"session_id": sessionID})
	m.logger.Info("session ready",
		zap.String("session_id", sessionID),
		zap.Bool("resumed", h.Resumed),
		zap.String("dir", dir))
	return h, nil
}

// Active returns the ids of sessions opened by this manager.
func (m *SessionManager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	return ids
}
