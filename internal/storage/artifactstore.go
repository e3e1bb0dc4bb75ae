package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/valter-silva-au/session-intel/pkg/models"
)

// NoLearningsDigest is returned by RenderDigest for sessions without entries.
const NoLearningsDigest = "No previous learnings recorded."

const (
	// maxAppendAttempts bounds key-collision retries for a single append.
	maxAppendAttempts = 8

	entryTimeLayout  = "20060102-150405.000000"
	snapshotRecent   = 5
	snapshotSummary  = 160
	listSessionsJobs = 8
)

var (
	// ErrAppendExhausted is returned when every candidate key for an append
	// was already taken.
	ErrAppendExhausted = errors.New("append retries exhausted")

	// ErrInvalidSessionID is returned for identifiers that cannot name a
	// workspace directory.
	ErrInvalidSessionID = errors.New("invalid session id")

	entryNamePattern = regexp.MustCompile(`^(\d{8}-\d{6}\.\d{6})-(\d{8,})-([a-z0-9_]+)(?:-([A-Za-z0-9_-]+))?\.md$`)
	kindPattern      = regexp.MustCompile(`^[a-z0-9_]+$`)
	suffixCleaner    = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
)

// ArtifactStore is the durable, append-only store of session artifacts.
// Every entry lives in its own file under <root>/<session_id>/.
type ArtifactStore interface {
	Append(sessionID string, kind models.ArtifactKind, content string, metadata map[string]any) (models.Entry, error)
	List(sessionID string, kind models.ArtifactKind, limit int) ([]models.Entry, error)
	IterateAll(sessionID string) iter.Seq[models.Entry]
	Count(sessionID string, kind models.ArtifactKind) (int, error)
	RenderDigest(sessionID string, limit int) (string, error)
	ListSessions(limit int) ([]models.SessionSnapshot, error)
	EnsureWorkspace(sessionID string) (string, error)
	SessionDir(sessionID string) string
	Root() string
}

// record is the on-disk body of one entry file.
type record struct {
	Kind      models.ArtifactKind `json:"kind"`
	Metadata  map[string]any      `json:"metadata"`
	Content   string              `json:"content"`
	SessionID string              `json:"session_id,omitempty"`
	Seq       int64               `json:"seq,omitempty"`
	CreatedAt time.Time           `json:"created_at,omitzero"`
}

// entryName is a parsed entry file name.
type entryName struct {
	name      string
	createdAt time.Time
	seq       int64
	kind      models.ArtifactKind
}

type entriesKey struct {
	sessionID string
	kind      models.ArtifactKind
	limit     int
}

type cachedEntries struct {
	generation string
	entries    []models.Entry
}

type cachedText struct {
	generation string
	text       string
}

type cachedSnapshot struct {
	generation string
	snapshot   models.SessionSnapshot
}

type fileArtifactStore struct {
	root    string
	logger  *zap.Logger
	sidecar Sidecar
	now     func() time.Time

	mu        sync.RWMutex
	entries   map[entriesKey]cachedEntries
	digests   map[string]map[int]cachedText
	snapshots map[string]cachedSnapshot
}

// StoreOption customizes a file-backed ArtifactStore.
type StoreOption func(*fileArtifactStore)

// WithSidecar replaces the side-artifact writer. Passing nil disables side
// artifacts.
func WithSidecar(s Sidecar) StoreOption {
	return func(f *fileArtifactStore) { f.sidecar = s }
}

// WithClock overrides the time source used to stamp entries.
func WithClock(now func() time.Time) StoreOption {
	return func(f *fileArtifactStore) { f.now = now }
}

// NewArtifactStore creates an ArtifactStore rooted at root. The directory
// is created lazily on first write.
func NewArtifactStore(root string, logger *zap.Logger, opts ...StoreOption) ArtifactStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &fileArtifactStore{
		root:      root,
		logger:    logger,
		now:       time.Now,
		entries:   make(map[entriesKey]cachedEntries),
		digests:   make(map[string]map[int]cachedText),
		snapshots: make(map[string]cachedSnapshot),
	}
	s.sidecar = NewMarkdownSidecar(s.SessionDir)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *fileArtifactStore) Root() string { return s.root }

func (s *fileArtifactStore) SessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

func (s *fileArtifactStore) counterPath(sessionID string) string {
	return filepath.Join(s.SessionDir(sessionID), ".seq")
}

func (s *fileArtifactStore) lockPath(sessionID string) string {
	return filepath.Join(s.SessionDir(sessionID), ".seq.lock")
}

// EnsureWorkspace creates the session directory if it is missing and returns
// its path. Existing content is never touched.
func (s *fileArtifactStore) EnsureWorkspace(sessionID string) (string, error) {
	if err := validateSessionID(sessionID); err != nil {
		return "", err
	}
	dir := s.SessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating session workspace: %w", err)
	}
	return dir, nil
}

// Append writes a new entry under a strictly increasing key. The body is
// written to a temporary file and published with a hard link, which fails
// rather than overwrite when the key is already taken.
func (s *fileArtifactStore) Append(sessionID string, kind models.ArtifactKind, content string, metadata map[string]any) (models.Entry, error) {
	if !kindPattern.MatchString(string(kind)) {
		return models.Entry{}, fmt.Errorf("appending entry: invalid kind %q", kind)
	}
	dir, err := s.EnsureWorkspace(sessionID)
	if err != nil {
		return models.Entry{}, fmt.Errorf("appending entry: %w", err)
	}

	unlock, err := lockFile(s.lockPath(sessionID))
	if err != nil {
		return models.Entry{}, fmt.Errorf("appending entry: %w", err)
	}
	defer func() { _ = unlock() }()

	lastSeq, lastCreated, err := s.readCounter(sessionID)
	if err != nil {
		return models.Entry{}, fmt.Errorf("appending entry: %w", err)
	}

	createdAt := s.now().UTC()
	if createdAt.Before(lastCreated) {
		createdAt = lastCreated
	}

	meta := map[string]any{}
	maps.Copy(meta, metadata)
	suffix := ""
	if raw, ok := meta["suffix"].(string); ok {
		suffix = strings.Trim(suffixCleaner.ReplaceAllString(raw, "_"), "-")
	}

	seq := lastSeq
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		seq++
		entry := models.Entry{
			SessionID: sessionID,
			Seq:       seq,
			Kind:      kind,
			Content:   content,
			Metadata:  meta,
			CreatedAt: createdAt,
		}
		path := filepath.Join(dir, formatEntryName(createdAt, seq, kind, suffix))

		err := publishEntry(dir, path, entry)
		if err == nil {
			entry.Path = path
			if err := s.writeCounter(sessionID, seq, createdAt); err != nil {
				return models.Entry{}, fmt.Errorf("appending entry: %w", err)
			}
			s.invalidate(sessionID)
			s.recordSidecar(entry)
			s.logger.Debug("artifact appended",
				zap.String("session_id", sessionID),
				zap.String("kind", string(kind)),
				zap.Int64("seq", seq))
			return entry, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return models.Entry{}, fmt.Errorf("appending entry: %w", err)
		}

		s.logger.Warn("artifact key collision, retrying",
			zap.String("session_id", sessionID),
			zap.Int64("seq", seq),
			zap.Int("attempt", attempt+1))
		if maxSeq, _, scanErr := scanLatest(dir); scanErr == nil && maxSeq > seq {
			seq = maxSeq
		}
	}

	return models.Entry{}, fmt.Errorf("appending %s entry to %s: %w", kind, sessionID, ErrAppendExhausted)
}

// publishEntry writes the entry body to a temporary file, syncs it and links
// it into place at path.
func publishEntry(dir, path string, entry models.Entry) error {
	body, err := json.MarshalIndent(record{
		Kind:      entry.Kind,
		Metadata:  entry.Metadata,
		Content:   entry.Content,
		SessionID: entry.SessionID,
		Seq:       entry.Seq,
		CreatedAt: entry.CreatedAt,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".pending-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	return os.Link(tmpPath, path)
}

func (s *fileArtifactStore) recordSidecar(entry models.Entry) {
	if s.sidecar == nil {
		return
	}
	if err := s.sidecar.Record(entry); err != nil {
		s.logger.Warn("updating side artifacts failed",
			zap.String("session_id", entry.SessionID),
			zap.Error(err))
	}
}

// readCounter returns the last issued sequence number and its timestamp. A
// missing or unreadable counter is rebuilt from the entry file names.
func (s *fileArtifactStore) readCounter(sessionID string) (int64, time.Time, error) {
	data, err := os.ReadFile(s.counterPath(sessionID))
	if err == nil {
		if seq, created, ok := parseCounter(string(data)); ok {
			// Entries may exist beyond the counter when another tool wrote them.
			if maxSeq, maxCreated, err := scanLatest(s.SessionDir(sessionID)); err == nil && maxSeq > seq {
				return maxSeq, maxCreated, nil
			}
			return seq, created, nil
		}
	} else if !os.IsNotExist(err) {
		return 0, time.Time{}, fmt.Errorf("reading sequence counter: %w", err)
	}
	return scanLatest(s.SessionDir(sessionID))
}

func (s *fileArtifactStore) writeCounter(sessionID string, seq int64, created time.Time) error {
	path := s.counterPath(sessionID)
	tmp := path + ".tmp"
	line := strconv.FormatInt(seq, 10) + " " + created.UTC().Format(time.RFC3339Nano) + "\n"
	if err := os.WriteFile(tmp, []byte(line), 0o600); err != nil {
		return fmt.Errorf("writing sequence counter: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publishing sequence counter: %w", err)
	}
	return nil
}

func parseCounter(s string) (int64, time.Time, bool) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, time.Time{}, false
	}
	seq, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || seq < 0 {
		return 0, time.Time{}, false
	}
	created, err := time.Parse(time.RFC3339Nano, fields[1])
	if err != nil {
		return 0, time.Time{}, false
	}
	return seq, created, true
}

// scanLatest returns the highest sequence number present in dir.
func scanLatest(dir string) (int64, time.Time, error) {
	names, err := readEntryNames(dir)
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(names) == 0 {
		return 0, time.Time{}, nil
	}
	last := names[len(names)-1]
	return last.seq, last.createdAt, nil
}

// generation identifies the current state of a session for cache checks.
// The counter is rewritten after every successful publish.
func (s *fileArtifactStore) generation(sessionID string) string {
	data, err := os.ReadFile(s.counterPath(sessionID))
	if err != nil {
		return ""
	}
	return string(data)
}

func (s *fileArtifactStore) invalidate(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if key.sessionID == sessionID {
			delete(s.entries, key)
		}
	}
	delete(s.digests, sessionID)
	delete(s.snapshots, sessionID)
}

// List returns up to limit entries, newest first, optionally filtered by
// kind. A limit <= 0 returns every entry. Unknown sessions yield an empty
// result.
func (s *fileArtifactStore) List(sessionID string, kind models.ArtifactKind, limit int) ([]models.Entry, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	key := entriesKey{sessionID: sessionID, kind: kind, limit: limit}
	gen := s.generation(sessionID)

	s.mu.RLock()
	cached, ok := s.entries[key]
	s.mu.RUnlock()
	if ok && cached.generation == gen {
		return cloneEntries(cached.entries), nil
	}

	names, err := readEntryNames(s.SessionDir(sessionID))
	if err != nil {
		return nil, fmt.Errorf("listing entries for %s: %w", sessionID, err)
	}

	var result []models.Entry
	for i := len(names) - 1; i >= 0; i-- {
		n := names[i]
		if kind != "" && n.kind != kind {
			continue
		}
		entry, err := s.readEntry(sessionID, n)
		if err != nil {
			s.logger.Warn("skipping unreadable entry",
				zap.String("session_id", sessionID),
				zap.String("file", n.name),
				zap.Error(err))
			continue
		}
		if kind != "" && entry.Kind != kind {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}

	s.mu.Lock()
	s.entries[key] = cachedEntries{generation: gen, entries: result}
	s.mu.Unlock()

	return cloneEntries(result), nil
}

// IterateAll yields every readable entry of the session, oldest first. Each
// iteration re-reads the workspace.
func (s *fileArtifactStore) IterateAll(sessionID string) iter.Seq[models.Entry] {
	return func(yield func(models.Entry) bool) {
		if validateSessionID(sessionID) != nil {
			return
		}
		names, err := readEntryNames(s.SessionDir(sessionID))
		if err != nil {
			s.logger.Warn("iterating entries failed", zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		for _, n := range names {
			entry, err := s.readEntry(sessionID, n)
			if err != nil {
				s.logger.Warn("skipping unreadable entry",
					zap.String("session_id", sessionID),
					zap.String("file", n.name),
					zap.Error(err))
				continue
			}
			if !yield(entry) {
				return
			}
		}
	}
}

// Count returns how many entries of the given kind have been published for
// the session, readable or not. It works from entry file names, so indices
// derived from it never repeat. An empty kind counts everything.
func (s *fileArtifactStore) Count(sessionID string, kind models.ArtifactKind) (int, error) {
	if err := validateSessionID(sessionID); err != nil {
		return 0, err
	}
	names, err := readEntryNames(s.SessionDir(sessionID))
	if err != nil {
		return 0, fmt.Errorf("counting entries for %s: %w", sessionID, err)
	}
	n := 0
	for _, name := range names {
		if kind == "" || name.kind == kind {
			n++
		}
	}
	return n, nil
}

// RenderDigest renders the most recent limit entries as a short bulleted
// list, or NoLearningsDigest when the session has none.
func (s *fileArtifactStore) RenderDigest(sessionID string, limit int) (string, error) {
	if err := validateSessionID(sessionID); err != nil {
		return "", err
	}
	gen := s.generation(sessionID)

	s.mu.RLock()
	cached, ok := s.digests[sessionID][limit]
	s.mu.RUnlock()
	if ok && cached.generation == gen {
		return cached.text, nil
	}

	entries, err := s.List(sessionID, "", limit)
	if err != nil {
		return "", err
	}
	digest := renderDigest(entries)

	s.mu.Lock()
	if s.digests[sessionID] == nil {
		s.digests[sessionID] = make(map[int]cachedText)
	}
	s.digests[sessionID][limit] = cachedText{generation: gen, text: digest}
	s.mu.Unlock()

	return digest, nil
}

func renderDigest(entries []models.Entry) string {
	if len(entries) == 0 {
		return NoLearningsDigest
	}
	lines := []string{"Recent learnings:"}
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- [%s] %s", e.Kind, e.Summary(0)))
	}
	return strings.Join(lines, "\n")
}

// ListSessions returns up to limit sessions ordered by their newest entry,
// most recent first. A limit <= 0 returns all sessions.
func (s *fileArtifactStore) ListSessions(limit int) ([]models.SessionSnapshot, error) {
	dirs, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	p := pool.NewWithResults[models.SessionSnapshot]().WithErrors().WithMaxGoroutines(listSessionsJobs)
	for _, d := range dirs {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		p.Go(func() (models.SessionSnapshot, error) {
			return s.snapshot(d)
		})
	}
	snapshots, err := p.Wait()
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		if !snapshots[i].UpdatedAt.Equal(snapshots[j].UpdatedAt) {
			return snapshots[i].UpdatedAt.After(snapshots[j].UpdatedAt)
		}
		return snapshots[i].SessionID > snapshots[j].SessionID
	})
	if limit > 0 && len(snapshots) > limit {
		snapshots = snapshots[:limit]
	}
	return snapshots, nil
}

func (s *fileArtifactStore) snapshot(d fs.DirEntry) (models.SessionSnapshot, error) {
	sessionID := d.Name()
	gen := s.generation(sessionID)

	s.mu.RLock()
	cached, ok := s.snapshots[sessionID]
	s.mu.RUnlock()
	if ok && cached.generation == gen {
		return cached.snapshot, nil
	}

	recent, err := s.List(sessionID, "", snapshotRecent)
	if err != nil {
		return models.SessionSnapshot{}, err
	}
	digest, err := s.RenderDigest(sessionID, 3)
	if err != nil {
		return models.SessionSnapshot{}, err
	}

	snap := models.SessionSnapshot{SessionID: sessionID, Digest: digest}
	if len(recent) > 0 {
		snap.UpdatedAt = recent[0].CreatedAt
	} else if info, err := d.Info(); err == nil {
		snap.UpdatedAt = info.ModTime().UTC()
	}
	for _, e := range recent {
		snap.Recent = append(snap.Recent, models.SessionSnapshotEntry{
			Kind:    e.Kind,
			Summary: strings.TrimSpace(models.Headline(e.Summary(snapshotSummary), snapshotSummary)),
		})
	}

	s.mu.Lock()
	s.snapshots[sessionID] = cachedSnapshot{generation: gen, snapshot: snap}
	s.mu.Unlock()

	return snap, nil
}

func (s *fileArtifactStore) readEntry(sessionID string, n entryName) (models.Entry, error) {
	path := filepath.Join(s.SessionDir(sessionID), n.name)
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Entry{}, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.Entry{}, fmt.Errorf("decoding %s: %w", n.name, err)
	}
	if rec.Kind == "" {
		rec.Kind = "unknown"
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = n.createdAt
	}
	return models.Entry{
		SessionID: sessionID,
		Seq:       n.seq,
		Kind:      rec.Kind,
		Content:   rec.Content,
		Metadata:  rec.Metadata,
		CreatedAt: created,
		Path:      path,
	}, nil
}

// readEntryNames returns the parsed entry files of dir ordered by sequence
// number, oldest first. Side artifacts and temp files are ignored.
func readEntryNames(dir string) ([]entryName, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []entryName
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if n, ok := parseEntryName(f.Name()); ok {
			names = append(names, n)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i].seq != names[j].seq {
			return names[i].seq < names[j].seq
		}
		return names[i].name < names[j].name
	})
	return names, nil
}

func formatEntryName(created time.Time, seq int64, kind models.ArtifactKind, suffix string) string {
	name := fmt.Sprintf("%s-%08d-%s", created.UTC().Format(entryTimeLayout), seq, kind)
	if suffix != "" {
		name += "-" + suffix
	}
	return name + ".md"
}

func parseEntryName(name string) (entryName, bool) {
	m := entryNamePattern.FindStringSubmatch(name)
	if m == nil {
		return entryName{}, false
	}
	created, err := time.Parse(entryTimeLayout, m[1])
	if err != nil {
		return entryName{}, false
	}
	seq, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return entryName{}, false
	}
	return entryName{name: name, createdAt: created, seq: seq, kind: models.ArtifactKind(m[3])}, true
}

func validateSessionID(id string) error {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

func cloneEntries(in []models.Entry) []models.Entry {
	if in == nil {
		return []models.Entry{}
	}
	out := make([]models.Entry, len(in))
	for i, e := range in {
		e.Metadata = maps.Clone(e.Metadata)
		out[i] = e
	}
	return out
}
