package storage

import (
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/valter-silva-au/session-intel/pkg/models"
)

var allKinds = []models.ArtifactKind{
	models.KindUserAction,
	models.KindAgentOutput,
	models.KindSynthesisedLearning,
	models.KindAugmentedTurn,
}

// TestProperty_AppendOrderIsMonotonic verifies that sequence numbers strictly
// increase and timestamps never go backwards, even when the clock does.
func TestProperty_AppendOrderIsMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dir, err := os.MkdirTemp("", "artifact-prop-test-*")
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = os.RemoveAll(dir) }()

		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		store := NewArtifactStore(dir, zap.NewNop(), WithSidecar(nil), WithClock(func() time.Time { return now }))

		n := rapid.IntRange(1, 20).Draw(t, "appends")
		var prev models.Entry
		for i := 0; i < n; i++ {
			step := rapid.IntRange(-3600, 3600).Draw(t, "clockStepSeconds")
			now = now.Add(time.Duration(step) * time.Second)
			kind := rapid.SampledFrom(allKinds).Draw(t, "kind")

			entry, err := store.Append("prop", kind, rapid.String().Draw(t, "content"), nil)
			if err != nil {
				t.Fatalf("append %d: %v", i, err)
			}
			if i > 0 {
				if entry.Seq <= prev.Seq {
					t.Fatalf("seq did not increase: %d after %d", entry.Seq, prev.Seq)
				}
				if entry.CreatedAt.Before(prev.CreatedAt) {
					t.Fatalf("created_at regressed: %v after %v", entry.CreatedAt, prev.CreatedAt)
				}
			}
			prev = entry
		}

		var last int64
		count := 0
		for e := range store.IterateAll("prop") {
			if e.Seq <= last {
				t.Fatalf("IterateAll out of order: %d after %d", e.Seq, last)
			}
			last = e.Seq
			count++
		}
		if count != n {
			t.Fatalf("expected %d entries, got %d", n, count)
		}
	})
}

// TestProperty_DigestLineCount verifies that a digest has one header line and
// exactly min(entries, limit) bullet lines.
func TestProperty_DigestLineCount(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dir, err := os.MkdirTemp("", "digest-prop-test-*")
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = os.RemoveAll(dir) }()

		store := NewArtifactStore(dir, zap.NewNop(), WithSidecar(nil))
		n := rapid.IntRange(0, 12).Draw(t, "entries")
		limit := rapid.IntRange(1, 10).Draw(t, "limit")
		for i := 0; i < n; i++ {
			kind := rapid.SampledFrom(allKinds).Draw(t, "kind")
			if _, err := store.Append("digest", kind, rapid.String().Draw(t, "content"), nil); err != nil {
				t.Fatal(err)
			}
		}

		digest, err := store.RenderDigest("digest", limit)
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			if digest != NoLearningsDigest {
				t.Fatalf("expected sentinel, got %q", digest)
			}
			return
		}
		lines := strings.Split(digest, "\n")
		if lines[0] != "Recent learnings:" {
			t.Fatalf("unexpected header %q", lines[0])
		}
		if got, want := len(lines)-1, min(n, limit); got != want {
			t.Fatalf("expected %d bullet lines, got %d", want, got)
		}
		for _, l := range lines[1:] {
			if !strings.HasPrefix(l, "- [") {
				t.Fatalf("malformed digest line %q", l)
			}
		}
	})
}
