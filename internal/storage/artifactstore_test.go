package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/valter-silva-au/session-intel/pkg/models"
)

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func newTestStore(t *testing.T, opts ...StoreOption) (*fileArtifactStore, string) {
	t.Helper()
	dir := t.TempDir()
	return NewArtifactStore(dir, zap.NewNop(), opts...).(*fileArtifactStore), dir
}

func TestArtifactStore_AppendAssignsIncreasingSeq(t *testing.T) {
	store, _ := newTestStore(t)

	for i := 1; i <= 3; i++ {
		entry, err := store.Append("s1", models.KindUserAction, fmt.Sprintf("message %d", i), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if entry.Seq != int64(i) {
			t.Errorf("expected seq %d, got %d", i, entry.Seq)
		}
		if entry.Path == "" {
			t.Error("expected entry path to be set")
		}
	}
}

func TestArtifactStore_ListNewestFirstWithKindAndLimit(t *testing.T) {
	store, _ := newTestStore(t)

	mustAppend(t, store, "s1", models.KindUserAction, "first question")
	mustAppend(t, store, "s1", models.KindAgentOutput, "first answer")
	mustAppend(t, store, "s1", models.KindUserAction, "second question")

	all, err := store.List("s1", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Content != "second question" || all[2].Content != "first question" {
		t.Errorf("expected newest first, got %q ... %q", all[0].Content, all[2].Content)
	}

	users, err := store.List("s1", models.KindUserAction, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 1 || users[0].Content != "second question" {
		t.Errorf("expected only newest user action, got %+v", users)
	}
}

func TestArtifactStore_ListUnknownSessionIsEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	entries, err := store.List("missing", "", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestArtifactStore_InvalidSessionID(t *testing.T) {
	store, _ := newTestStore(t)

	for _, id := range []string{"", ".", "..", "a/b", `a\b`, ".hidden"} {
		if _, err := store.Append(id, models.KindUserAction, "x", nil); !errors.Is(err, ErrInvalidSessionID) {
			t.Errorf("Append(%q): expected ErrInvalidSessionID, got %v", id, err)
		}
	}
}

func TestArtifactStore_InvalidKind(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Append("s1", "Bad Kind", "x", nil); err == nil {
		t.Error("expected error for invalid kind")
	}
}

func TestArtifactStore_SkipsCorruptEntries(t *testing.T) {
	store, dir := newTestStore(t)

	mustAppend(t, store, "s1", models.KindUserAction, "good one")
	corrupt := formatEntryName(time.Now(), 2, models.KindUserAction, "")
	if err := os.WriteFile(filepath.Join(dir, "s1", corrupt), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustAppend(t, store, "s1", models.KindUserAction, "good two")

	entries, err := store.List("s1", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 readable entries, got %d", len(entries))
	}
	if entries[0].Seq != 3 {
		t.Errorf("expected append after corrupt file to take seq 3, got %d", entries[0].Seq)
	}

	count := 0
	for range store.IterateAll("s1") {
		count++
	}
	if count != 2 {
		t.Errorf("expected IterateAll to yield 2 entries, got %d", count)
	}
	// Count works from file names and includes the unreadable entry.
	n, err := store.Count("s1", models.KindUserAction)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected Count to report 3 published entries, got %d", n)
	}
}

func TestArtifactStore_WarnsOnCorruptEntry(t *testing.T) {
	observed, logs := observer.New(zapcore.WarnLevel)
	dir := t.TempDir()
	store := NewArtifactStore(dir, zap.New(observed))

	mustAppend(t, store, "s1", models.KindUserAction, "good one")
	corrupt := formatEntryName(time.Now(), 2, models.KindAgentOutput, "")
	if err := os.WriteFile(filepath.Join(dir, "s1", corrupt), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := store.List("s1", "", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	warnings := logs.FilterMessage("skipping unreadable entry").All()
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %d", len(warnings))
	}
	if got := warnings[0].ContextMap()["file"]; got != corrupt {
		t.Errorf("warning names file %v, want %s", got, corrupt)
	}
}

func TestArtifactStore_IgnoresForeignFiles(t *testing.T) {
	store, dir := newTestStore(t)

	mustAppend(t, store, "s1", models.KindUserAction, "hello")
	for _, name := range []string{"notes.md", "README.txt", ".pending-123.tmp"} {
		if err := os.WriteFile(filepath.Join(dir, "s1", name), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.Count("s1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 entry, got %d", n)
	}
}

func TestArtifactStore_RecoversFromCorruptCounter(t *testing.T) {
	store, dir := newTestStore(t)

	mustAppend(t, store, "s1", models.KindUserAction, "one")
	mustAppend(t, store, "s1", models.KindUserAction, "two")
	if err := os.WriteFile(filepath.Join(dir, "s1", ".seq"), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}

	entry := mustAppend(t, store, "s1", models.KindUserAction, "three")
	if entry.Seq != 3 {
		t.Errorf("expected seq 3 after counter recovery, got %d", entry.Seq)
	}
}

func TestArtifactStore_CounterBehindDisk(t *testing.T) {
	store, dir := newTestStore(t)

	mustAppend(t, store, "s1", models.KindUserAction, "one")
	mustAppend(t, store, "s1", models.KindUserAction, "two")
	stale := "1 " + time.Now().UTC().Format(time.RFC3339Nano) + "\n"
	if err := os.WriteFile(filepath.Join(dir, "s1", ".seq"), []byte(stale), 0o600); err != nil {
		t.Fatal(err)
	}

	entry := mustAppend(t, store, "s1", models.KindUserAction, "three")
	if entry.Seq != 3 {
		t.Errorf("expected seq 3, got %d", entry.Seq)
	}
}

func TestArtifactStore_CreatedAtNeverRegresses(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store, _ := newTestStore(t, WithClock(func() time.Time { return now }))

	first := mustAppend(t, store, "s1", models.KindUserAction, "one")
	now = now.Add(-time.Hour)
	second := mustAppend(t, store, "s1", models.KindUserAction, "two")

	if second.CreatedAt.Before(first.CreatedAt) {
		t.Errorf("created_at regressed: %v before %v", second.CreatedAt, first.CreatedAt)
	}
}

func TestPublishEntry_RefusesExistingKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, formatEntryName(time.Now(), 1, models.KindUserAction, ""))
	entry := models.Entry{SessionID: "s1", Seq: 1, Kind: models.KindUserAction, Content: "first"}

	if err := publishEntry(dir, path, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry.Content = "second"
	if err := publishEntry(dir, path, entry); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("expected fs.ErrExist, got %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "first") {
		t.Error("existing entry was overwritten")
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".pending-*"))
	if len(leftovers) != 0 {
		t.Errorf("expected temp files to be cleaned up, found %v", leftovers)
	}
}

func TestArtifactStore_ConcurrentWritersGetDistinctKeys(t *testing.T) {
	dir := t.TempDir()
	a := NewArtifactStore(dir, zap.NewNop(), WithSidecar(nil))
	b := NewArtifactStore(dir, zap.NewNop(), WithSidecar(nil))

	const perWriter = 15
	var wg sync.WaitGroup
	errs := make(chan error, 2*perWriter)
	for _, store := range []ArtifactStore{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := store.Append("shared", models.KindAgentOutput, "payload", nil); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := make(map[int64]bool)
	for e := range a.IterateAll("shared") {
		if seen[e.Seq] {
			t.Fatalf("duplicate seq %d", e.Seq)
		}
		seen[e.Seq] = true
	}
	if len(seen) != 2*perWriter {
		t.Errorf("expected %d entries, got %d", 2*perWriter, len(seen))
	}
}

func TestArtifactStore_CacheSeesWritesFromOtherInstances(t *testing.T) {
	dir := t.TempDir()
	reader := NewArtifactStore(dir, zap.NewNop())
	writer := NewArtifactStore(dir, zap.NewNop())

	mustAppend(t, writer, "s1", models.KindUserAction, "one")
	before, err := reader.RenderDigest("s1", 5)
	if err != nil {
		t.Fatal(err)
	}
	mustAppend(t, writer, "s1", models.KindUserAction, "two")
	after, err := reader.RenderDigest("s1", 5)
	if err != nil {
		t.Fatal(err)
	}

	if before == after {
		t.Fatal("expected digest to change after another writer appended")
	}
	if !strings.Contains(after, "two") {
		t.Errorf("expected new entry in digest, got %q", after)
	}
}

func TestArtifactStore_ReturnedMetadataIsACopy(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Append("s1", models.KindUserAction, "hi", map[string]any{"turn": 1}); err != nil {
		t.Fatal(err)
	}
	first, _ := store.List("s1", "", 0)
	first[0].Metadata["turn"] = 99

	second, _ := store.List("s1", "", 0)
	if turn, _ := models.MetaInt(second[0].Metadata, "turn"); turn != 1 {
		t.Errorf("cached metadata was mutated, got turn %d", turn)
	}
}

func TestArtifactStore_RenderDigest(t *testing.T) {
	store, _ := newTestStore(t)

	empty, err := store.RenderDigest("s1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if empty != NoLearningsDigest {
		t.Errorf("expected sentinel digest, got %q", empty)
	}

	mustAppend(t, store, "s1", models.KindUserAction, "How do I reset?\nmore detail")
	if _, err := store.Append("s1", models.KindAgentOutput, "long answer", map[string]any{"summary": "Explained reset"}); err != nil {
		t.Fatal(err)
	}
	mustAppend(t, store, "s1", models.KindUserAction, "   ")

	digest, err := store.RenderDigest("s1", 2)
	if err != nil {
		t.Fatal(err)
	}
	want := "Recent learnings:\n- [user_action] (no content)\n- [agent_output] Explained reset"
	if digest != want {
		t.Errorf("digest mismatch\nwant: %q\ngot:  %q", want, digest)
	}
}

func TestArtifactStore_ListSessions(t *testing.T) {
	defer goleak.VerifyNone(t)
	dir := t.TempDir()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	sessions := []struct {
		id     string
		offset time.Duration
	}{
		{"older", 0},
		{"newest", 2 * time.Hour},
		{"middle", time.Hour},
	}
	for _, s := range sessions {
		store := NewArtifactStore(dir, zap.NewNop(), WithClock(fixedClock(base.Add(s.offset))))
		mustAppend(t, store, s.id, models.KindUserAction, "question for "+s.id)
	}
	if err := os.MkdirAll(filepath.Join(dir, ".cache"), 0o755); err != nil {
		t.Fatal(err)
	}

	store := NewArtifactStore(dir, zap.NewNop())
	snaps, err := store.ListSessions(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(snaps))
	}
	order := []string{snaps[0].SessionID, snaps[1].SessionID, snaps[2].SessionID}
	if strings.Join(order, ",") != "newest,middle,older" {
		t.Errorf("unexpected order %v", order)
	}
	if len(snaps[0].Recent) != 1 || snaps[0].Recent[0].Kind != models.KindUserAction {
		t.Errorf("unexpected recent entries %+v", snaps[0].Recent)
	}

	limited, err := store.ListSessions(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(limited))
	}
}

func TestArtifactStore_ListSessionsMissingRoot(t *testing.T) {
	store := NewArtifactStore(filepath.Join(t.TempDir(), "nope"), zap.NewNop())

	snaps, err := store.ListSessions(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snaps) != 0 {
		t.Errorf("expected no sessions, got %d", len(snaps))
	}
}

func TestArtifactStore_EnsureWorkspaceKeepsContent(t *testing.T) {
	store, dir := newTestStore(t)

	path, err := store.EnsureWorkspace("s1")
	if err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(path, "keep.txt")
	if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.EnsureWorkspace("s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("expected existing content to survive: %v", err)
	}
	if path != filepath.Join(dir, "s1") {
		t.Errorf("unexpected workspace path %s", path)
	}
}

func TestArtifactStore_SuffixInFileName(t *testing.T) {
	store, _ := newTestStore(t)

	entry, err := store.Append("s1", models.KindSynthesisedLearning, "summary", map[string]any{"suffix": "final summary!"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(entry.Path, "-synthesised_learning-final_summary_.md") {
		t.Errorf("unexpected file name %s", filepath.Base(entry.Path))
	}
	entries, _ := store.List("s1", models.KindSynthesisedLearning, 0)
	if len(entries) != 1 {
		t.Errorf("expected suffixed entry to be listed, got %d", len(entries))
	}
}

func mustAppend(t *testing.T, store ArtifactStore, sessionID string, kind models.ArtifactKind, content string) models.Entry {
	t.Helper()
	entry, err := store.Append(sessionID, kind, content, nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return entry
}
