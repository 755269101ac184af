package hashindex

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"latchdb/internal/buffer"
	"latchdb/internal/diskmanager"
	"latchdb/internal/page"
	"latchdb/internal/rid"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	dir := t.TempDir()
	dm, err := diskmanager.Open(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })

	pool := buffer.NewPool(64, 1, dm, nil, nil)
	table, err := NewTable(pool, nil)
	require.NoError(t, err)
	return table
}

func keyOf(n int) Key {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(n))
	return EncodeKey(b[:])
}

func ridOf(n int) rid.RID {
	return rid.RID{PageID: page.ID(n), SlotNum: uint32(n)}
}

func TestInsertGetValuesRoundTrip(t *testing.T) {
	table := newTestTable(t)

	for i := 0; i < 400; i++ {
		ok, err := table.Insert(keyOf(i), ridOf(i))
		require.NoError(t, err)
		require.True(t, ok, "insert %d", i)
	}

	for i := 0; i < 400; i++ {
		values, err := table.GetValues(keyOf(i))
		require.NoError(t, err)
		require.Equal(t, []rid.RID{ridOf(i)}, values, "key %d", i)
	}
}

func TestInsertDuplicateRejected(t *testing.T) {
	table := newTestTable(t)

	ok, err := table.Insert(keyOf(1), ridOf(1))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = table.Insert(keyOf(1), ridOf(1))
	require.NoError(t, err)
	require.False(t, ok)

	values, err := table.GetValues(keyOf(1))
	require.NoError(t, err)
	require.Equal(t, []rid.RID{ridOf(1)}, values)
}

func TestInsertRemoveLeavesEmpty(t *testing.T) {
	table := newTestTable(t)

	for i := 0; i < 200; i++ {
		ok, err := table.Insert(keyOf(i), ridOf(i))
		require.NoError(t, err)
		require.True(t, ok)
	}
	for i := 0; i < 200; i++ {
		ok, err := table.Remove(keyOf(i), ridOf(i))
		require.NoError(t, err)
		require.True(t, ok, "remove %d", i)
	}
	for i := 0; i < 200; i++ {
		values, err := table.GetValues(keyOf(i))
		require.NoError(t, err)
		require.Empty(t, values, "key %d", i)
	}
}

func TestVerifyIntegrityHoldsAfterSplits(t *testing.T) {
	table := newTestTable(t)

	for i := 0; i < 1000; i++ {
		_, err := table.Insert(keyOf(i), ridOf(i))
		require.NoError(t, err)
		require.NoError(t, table.VerifyIntegrity())
	}

	gd, err := table.GlobalDepth()
	require.NoError(t, err)
	require.Greater(t, gd, uint32(1), "expected the directory to have grown past its initial depth")
}

func TestVerifyIntegrityHoldsAfterMerges(t *testing.T) {
	table := newTestTable(t)

	n := 600
	for i := 0; i < n; i++ {
		_, err := table.Insert(keyOf(i), ridOf(i))
		require.NoError(t, err)
	}
	for i := 0; i < n; i++ {
		ok, err := table.Remove(keyOf(i), ridOf(i))
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, table.VerifyIntegrity())
	}
}

func TestRemoveNonexistentReturnsFalse(t *testing.T) {
	table := newTestTable(t)

	ok, err := table.Insert(keyOf(5), ridOf(5))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = table.Remove(keyOf(5), ridOf(999))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = table.Remove(keyOf(404), ridOf(404))
	require.NoError(t, err)
	require.False(t, ok)
}
