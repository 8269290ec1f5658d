package vectorstore

import (
	"context"
	"hash/fnv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// bagOfWords embeds text into a fixed-size term-frequency vector.
func bagOfWords(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 64)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%64]++
	}
	return vec, nil
}

func TestStoreSearchSimilar(t *testing.T) {
	ctx := context.Background()
	vs, err := New(t.TempDir())
	require.NoError(t, err)

	const shop = "https://shop.example.com/"
	require.NoError(t, vs.UpsertProducts(ctx, shop, bagOfWords, []Product{
		{ID: "1", Name: "Ceramic coffee mug", Content: "ceramic coffee mug white"},
		{ID: "2", Name: "Wool winter scarf", Content: "wool winter scarf red"},
		{ID: "3", Name: "Espresso cup set", Content: "espresso coffee cup set"},
	}))
	require.Equal(t, 3, vs.Count(shop))
	require.Equal(t, 3, vs.Count("https://shop.example.com"))
	require.Zero(t, vs.Count("https://other.example.com"))

	results, err := vs.SearchSimilar(ctx, shop, bagOfWords, "wool scarf", 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "2", results[0].ProductID)
	require.Equal(t, "Wool winter scarf", results[0].Name)

	results, err = vs.SearchSimilar(ctx, "https://other.example.com", bagOfWords, "mug", 5)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestStoreInMemory(t *testing.T) {
	vs, err := New("")
	require.NoError(t, err)
	require.NoError(t, vs.UpsertProducts(context.Background(), "s", bagOfWords, nil))
	require.Zero(t, vs.Count("s"))
}
