package file_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/lineage/pkg/adapters/file"
	"github.com/aretw0/lineage/pkg/domain"
	"github.com/aretw0/lineage/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snaps(n int) []*domain.Snapshot {
	out := make([]*domain.Snapshot, n)
	var parent []string
	for i := range out {
		out[i] = domain.NewSnapshot(domain.SnapshotParams{
			Operation: "step",
			Shape:     domain.Shape{i + 1},
			Parents:   parent,
			Kwargs:    map[string]any{"i": i},
		})
		parent = []string{out[i].ID()}
	}
	return out
}

func TestFileStore_Contract(t *testing.T) {
	store, err := file.New(filepath.Join(t.TempDir(), "lineage.jsonl"))
	require.NoError(t, err)
	ports.RunSinkContract(t, store)
}

func TestFileStore_CompressedContract(t *testing.T) {
	store, err := file.New(filepath.Join(t.TempDir(), "lineage.jsonl.zst"))
	require.NoError(t, err)
	ports.RunSinkContract(t, store)
}

func TestFileStore_RoundTrip(t *testing.T) {
	for _, name := range []string{"plain.jsonl", "packed.jsonl.zst"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "nested", name)
			store, err := file.New(path)
			require.NoError(t, err)

			written := snaps(5)
			for _, s := range written {
				require.NoError(t, store.Write(ctx, s))
			}
			require.NoError(t, store.Close())

			recs, err := file.ReadRecords(path)
			require.NoError(t, err)
			require.Len(t, recs, 5)
			for i, r := range recs {
				assert.Equal(t, written[i].ID(), r.ID)
				assert.Equal(t, []int{i + 1}, r.Shape)
			}
			assert.Equal(t, []string{written[3].ID()}, recs[4].Parents)
		})
	}
}

func TestFileStore_CompressedOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packed.zst")
	store, err := file.New(path)
	require.NoError(t, err)
	require.NoError(t, store.Write(context.Background(), snaps(1)[0]))
	require.NoError(t, store.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte{0x28, 0xb5, 0x2f, 0xfd}))
	assert.NotContains(t, string(raw), `"operation"`)
}

func TestFileStore_AppendsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "log.jsonl.zst")
	all := snaps(4)

	for _, batch := range [][]*domain.Snapshot{all[:2], all[2:]} {
		store, err := file.New(path)
		require.NoError(t, err)
		for _, s := range batch {
			require.NoError(t, store.Write(ctx, s))
		}
		require.NoError(t, store.Close())
	}

	recs, err := file.ReadRecords(path)
	require.NoError(t, err)
	assert.Len(t, recs, 4)
}

func TestFileStore_WriteAfterClose(t *testing.T) {
	store, err := file.New(filepath.Join(t.TempDir(), "x.jsonl"))
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Write(context.Background(), snaps(1)[0]), os.ErrClosed)
}

func TestReadRecords_Errors(t *testing.T) {
	_, err := file.ReadRecords(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = file.DecodeRecords([]byte("{\"id\":\"a\"}\nnot json\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestExport_ReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.jsonl.zst")
	var recs []domain.SnapshotRecord
	for _, s := range snaps(3) {
		recs = append(recs, s.Record())
	}

	require.NoError(t, file.Export(path, recs))
	require.NoError(t, file.Export(path, recs[:1]))

	got, err := file.ReadRecords(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, recs[0].ID, got[0].ID)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	assert.Error(t, file.Export("", recs))
}
