package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/edusmart/core"
	"github.com/trezcool/edusmart/storage/database"
)

// TestPostgresStore needs a disposable database: TEST_DATABASE_URL=postgres://...?sslmode=disable
func TestPostgresStore(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	db, err := database.OpenURL(ctx, dbURL)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	require.NoError(t, database.Migrate(ctx, db.DB, "up"))
	_, err = db.ExecContext(ctx, `DELETE FROM documents`)
	require.NoError(t, err)

	writer, err := NewStore(db, dbURL, core.NopLogger{})
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()
	reader, err := NewStore(db, dbURL, core.NopLogger{})
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	ch := make(chan core.Snapshot, 8)
	_, err = reader.Subscribe(ctx, "schools/s1/info", func(s core.Snapshot) { ch <- s })
	require.NoError(t, err)
	<-ch

	require.NoError(t, writer.Update(ctx, map[string]interface{}{
		"schools/s1/info": map[string]interface{}{"name": "Alpha"},
		"admins/bob":      map[string]interface{}{"schoolId": "s1"},
	}))

	select {
	case snap := <-ch:
		assert.Equal(t, "Alpha", snap.Child("name").Value)
	case <-time.After(5 * time.Second):
		t.Fatal("notification never arrived")
	}

	snap, err := reader.Get(ctx, "admins")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, snap.Keys())

	require.NoError(t, writer.Remove(ctx, "schools/s1"))
	snap, err = reader.Get(ctx, "schools")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}
