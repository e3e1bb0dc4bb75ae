package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valter-silva-au/session-intel/internal/llm"
	"github.com/valter-silva-au/session-intel/internal/storage"
)

type recordingClient struct {
	system, user string
	reply        string
	err          error
}

func (c *recordingClient) Complete(_ context.Context, system, user, _ string) (string, error) {
	c.system, c.user = system, user
	return c.reply, c.err
}

func newMemory(t *testing.T) storage.MemoryStore {
	t.Helper()
	store, err := storage.NewMemoryStore(filepath.Join(t.TempDir(), storage.MemoryFile))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestTaskAgent_RunRecordsExchange(t *testing.T) {
	ctx := context.Background()
	mem := newMemory(t).Handle("s1")
	client := &recordingClient{reply: "  use a mutex  "}
	a := New(client, "gpt-test", nil)

	reply, err := a.Run(ctx, mem, "Lean on previous insights.", "how do I share state?")
	require.NoError(t, err)
	assert.Equal(t, "use a mutex", reply.Output)
	assert.Equal(t, 1, reply.Usage.Requests)
	assert.Equal(t, len("use a mutex"), reply.Usage.OutputChars)
	assert.True(t, strings.HasPrefix(client.system, "Lean on previous insights."))
	assert.Equal(t, "how do I share state?", client.user)

	client.reply = "with channels"
	_, err = a.Run(ctx, mem, "", "and without locks?")
	require.NoError(t, err)
	assert.Contains(t, client.user, "User: how do I share state?")
	assert.Contains(t, client.user, "Assistant: use a mutex")
	assert.True(t, strings.HasSuffix(client.user, "User request:\nand without locks?"))

	msgs, err := mem.Replay(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestTaskAgent_HistoryIsBounded(t *testing.T) {
	ctx := context.Background()
	mem := newMemory(t).Handle("s1")
	for i := 0; i < 30; i++ {
		_, err := mem.Append(ctx, "user", "old")
		require.NoError(t, err)
	}
	client := &recordingClient{reply: "ok"}

	_, err := New(client, "", nil).Run(ctx, mem, "", "new")
	require.NoError(t, err)
	assert.Equal(t, DefaultHistory, strings.Count(client.user, "User: old"))
}

func TestTaskAgent_Errors(t *testing.T) {
	_, err := New(nil, "", nil).Run(context.Background(), nil, "", "hi")
	require.ErrorIs(t, err, ErrNoClient)

	boom := errors.New("boom")
	var c llm.Client = &recordingClient{err: boom}
	mem := newMemory(t).Handle("s1")
	_, err = New(c, "", nil).Run(context.Background(), mem, "", "hi")
	require.ErrorIs(t, err, boom)

	msgs, err := mem.Replay(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, msgs, "failed exchanges must not be stored")
}
