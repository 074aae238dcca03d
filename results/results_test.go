package results

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ieee0824/otcalign"
	"github.com/ieee0824/otcalign/decoder"
)

func sampleResults() []otcalign.Result {
	return []otcalign.Result{
		{ID: "cut-b", Text: "the * sat", Reference: "the cat sat", Bypass: 1, NumFrames: 5, EditDistance: 1, LogScore: -2.1},
		{ID: "cut-a", Reference: "the cat", Err: &decoder.NoViablePathError{NumFrames: 2}},
		{ID: "cut-c", Text: "", NumFrames: 3},
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exp", "otc-alignment-test-clean.txt")
	require.NoError(t, WriteFile(path, sampleResults()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cut-b the * sat\ncut-c \n", string(data))

	// Rewriting replaces the file.
	require.NoError(t, WriteFile(path, sampleResults()[:1]))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cut-b the * sat\n", string(data))
}

func TestWriteFileLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	held := flock.New(path + ".lock")
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { _ = held.Unlock() }()

	err = WriteFile(path, sampleResults())
	assert.True(t, errors.Is(err, ErrLocked))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteFileRejectsWhitespaceIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	err := WriteFile(path, []otcalign.Result{{ID: "bad id", Text: "x"}})
	assert.Error(t, err)
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "otcalign.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	runID := uuid.NewString()
	require.NoError(t, s.BeginRun(ctx, Run{ID: runID, TestSet: "test-clean", StartedAt: time.Now()}))
	require.NoError(t, s.Put(ctx, runID, sampleResults()))

	failed, err := s.Failed(ctx, runID)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "cut-a", failed[0].CutID)
	assert.Equal(t, "no_viable_path", failed[0].Status)
	assert.Contains(t, failed[0].Error, "no viable path")
	assert.Equal(t, "the cat", failed[0].Reference)

	recs, err := s.Records(ctx, runID)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	b := recs[1]
	assert.Equal(t, "cut-b", b.CutID)
	assert.Equal(t, "the * sat", b.Text)
	assert.Equal(t, 1, b.Bypass)
	assert.Equal(t, 1, b.EditDistance)
	assert.InDelta(t, -2.1, b.LogScore, 1e-12)

	// A retry overwrites the failed cut.
	require.NoError(t, s.Put(ctx, runID, []otcalign.Result{{ID: "cut-a", Text: "the cat", Reference: "the cat"}}))
	summary, err := s.Summary(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"aligned": 3}, summary)
}

func TestStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "otcalign.db")
	s, err := Open(path)
	require.NoError(t, err)
	runID := uuid.NewString()
	require.NoError(t, s.BeginRun(ctx, Run{ID: runID, TestSet: "dev", StartedAt: time.Now()}))
	require.NoError(t, s.Put(ctx, runID, sampleResults()))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	recs, err := s.Records(ctx, runID)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestStorePutRequiresRun(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "otcalign.db"))
	require.NoError(t, err)
	defer s.Close()

	err = s.Put(context.Background(), "missing", sampleResults())
	assert.Error(t, err)
}

type codeErr int

func (e codeErr) Error() string { return fmt.Sprintf("sqlite error %d", int(e)) }
func (e codeErr) Code() int     { return int(e) }

func TestRetryOnBusy(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := retryOnBusy(ctx, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("exec: %w", codeErr(517)) // SQLITE_BUSY_SNAPSHOT
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = retryOnBusy(ctx, func() error {
		calls++
		return codeErr(5)
	})
	assert.Equal(t, codeErr(5), err)
	assert.Equal(t, busyRetries, calls)

	calls = 0
	constraint := codeErr(19)
	err = retryOnBusy(ctx, func() error {
		calls++
		return constraint
	})
	assert.Equal(t, constraint, err)
	assert.Equal(t, 1, calls)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = retryOnBusy(cancelled, func() error { return codeErr(5) })
	assert.ErrorIs(t, err, context.Canceled)
}
