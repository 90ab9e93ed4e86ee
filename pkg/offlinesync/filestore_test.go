package offlinesync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	iv := &Interview{ID: "iv1", SurveyID: "s1", Status: StatusPending}
	require.NoError(t, store.Save(ctx, iv))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "iv1", list[0].ID)
	assert.Equal(t, StatusPending, list[0].Status)

	require.NoError(t, store.Delete(ctx, "iv1"))
	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFileStore_DeleteMissingIsNotError(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	assert.NoError(t, store.Delete(context.Background(), "does-not-exist"))
}
