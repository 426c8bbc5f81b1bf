package fixstore

import (
	"context"
	"strings"
	"testing"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticEmbedding avoids a model dependency in tests: SQL-ish text lands on
// one axis, everything else on another.
func staticEmbedding(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	for _, kw := range []string{"sql", "injection", "execute"} {
		if strings.Contains(lower, kw) {
			return []float32{1.0, 0.1}, nil
		}
	}
	return []float32{0.1, 1.0}, nil
}

func TestStore_AddAndSimilar(t *testing.T) {
	store, err := New(Config{}, staticEmbedding, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, FixExample{
		ID:       "fix-1",
		CVEID:    "CVE-2023-0001",
		Problem:  "SQL injection via string formatting in execute call",
		Solution: "Use parameterized queries",
		Diff:     "--- a/db.py\n+++ b/db.py\n@@ -1,1 +1,1 @@\n-bad\n+good\n",
		Language: "python",
	}))
	require.NoError(t, store.Add(ctx, FixExample{
		ID:       "fix-2",
		CVEID:    "CVE-2023-0002",
		Problem:  "path traversal in download handler",
		Solution: "normalize and validate paths",
		Language: "python",
	}))

	got, err := store.Similar(ctx, "SQL injection in cursor.execute", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fix-1", got[0].ID)
	assert.Equal(t, "CVE-2023-0001", got[0].CVEID)
	assert.NotEmpty(t, got[0].Diff)
}

func TestStore_SimilarEmpty(t *testing.T) {
	store, err := New(Config{}, staticEmbedding, nil)
	require.NoError(t, err)

	got, err := store.Similar(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_SimilarCapsK(t *testing.T) {
	store, err := New(Config{}, staticEmbedding, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, FixExample{ID: "fix-1", Problem: "sql", Solution: "fix"}))

	// Asking for more results than documents must not error.
	got, err := store.Similar(ctx, "sql", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_AddRequiresID(t *testing.T) {
	store, err := New(Config{}, staticEmbedding, nil)
	require.NoError(t, err)
	assert.Error(t, store.Add(context.Background(), FixExample{Problem: "p"}))
}

var _ chromem.EmbeddingFunc = staticEmbedding
