package catalog

import (
	"testing"

	"nsfslite/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewIsolatedUntilPublish(t *testing.T) {
	cm := NewCatalogManager()
	v := cm.NewView()

	e, err := v.Create("alpha", 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.ID)

	_, err = v.Create("alpha", 11)
	assert.ErrorIs(t, err, types.ErrNameConflict)

	// Not visible outside the view yet.
	_, err = cm.Lookup("alpha")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.True(t, v.Dirty())

	require.NoError(t, v.Update(e.ID, 12, 3))
	cm.Publish(v)

	got, err := cm.Lookup("alpha")
	require.NoError(t, err)
	assert.Equal(t, Entry{ID: 1, Name: "alpha", Root: 12, Length: 3}, got)
	assert.Equal(t, uint64(2), cm.NextID())
}

func TestDeleteThenRecreateInOneView(t *testing.T) {
	cm := NewCatalogManager()
	v := cm.NewView()
	_, err := v.Create("x", 5)
	require.NoError(t, err)
	cm.Publish(v)

	v = cm.NewView()
	old, err := v.Delete("x")
	require.NoError(t, err)
	assert.Equal(t, types.BlockID(5), old.Root)

	_, err = v.Lookup("x")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = v.Get(old.ID)
	assert.ErrorIs(t, err, types.ErrStaleHandle)

	fresh, err := v.Create("x", 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), fresh.ID)
	assert.Equal(t, uint64(0), fresh.Length)
	cm.Publish(v)

	got, err := cm.Lookup("x")
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	_, err = cm.Get(1)
	assert.ErrorIs(t, err, types.ErrStaleHandle)
	_, err = cm.Get(3)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = cm.Get(0)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, 1, cm.Count())
}

func TestEncodeLoadRoundTrip(t *testing.T) {
	cm := NewCatalogManager()
	v := cm.NewView()
	for _, name := range []string{"a", "b", "c"} {
		_, err := v.Create(name, 7)
		require.NoError(t, err)
	}
	_, err := v.Delete("b")
	require.NoError(t, err)
	cm.Publish(v)

	payload, err := cm.Encode()
	require.NoError(t, err)

	loaded, err := Load(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, cm.Entries(), loaded.Entries())
	assert.Equal(t, uint64(4), loaded.NextID())

	_, err = loaded.Get(2)
	assert.ErrorIs(t, err, types.ErrStaleHandle)

	empty, err := Load(nil, 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), empty.NextID())

	_, err = Load([]byte("{not json"), 0)
	assert.ErrorIs(t, err, types.ErrCorrupt)
}

func TestCreateWithIDReplaysIDs(t *testing.T) {
	cm := NewCatalogManager()
	v := cm.NewView()
	e, err := v.CreateWithID(4, "late", 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), e.ID)
	assert.Equal(t, uint64(5), v.NextID())

	_, err = v.CreateWithID(2, "early", 3)
	assert.ErrorIs(t, err, types.ErrCorrupt)
}
