package toolkit

import (
	"context"
	"hash/fnv"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/shopmind/shopmind/plugin/mcpregistry"
	"github.com/shopmind/shopmind/plugin/vectorstore"
	"github.com/shopmind/shopmind/plugin/woocommerce"
)

func names(ts *Toolset) []string {
	out := make([]string, 0, len(ts.Tools()))
	for _, t := range ts.Tools() {
		out = append(out, t.Name())
	}
	return out
}

func TestBuildWithoutCredentials(t *testing.T) {
	ts, err := NewAssembler().Build(context.Background(), Request{})
	require.NoError(t, err)
	defer ts.Close()
	require.Equal(t, []string{ToolCodeInterpreter, ToolCreateDataCards, ToolCreateDataDisplay}, names(ts))

	res := callTool(t, mustLookup(t, ts, ToolCodeInterpreter), map[string]any{"code": `return fetch("orders")`})
	require.Equal(t, false, res["success"])
	require.Contains(t, res["error"], "store credentials are not configured")
}

func mustLookup(t *testing.T, ts *Toolset, name string) Tool {
	t.Helper()
	tool, ok := ts.Lookup(name)
	require.True(t, ok, name)
	return tool
}

func TestBuildWithCredentials(t *testing.T) {
	f := newFakeStore()
	f.collections["orders"] = []map[string]any{order(1, "a@x.io", "12.00"), order(2, "b@x.io", "8.00")}
	creds := f.start(t)

	ts, err := NewAssembler(WithClock(func() time.Time { return fixedNow })).Build(context.Background(), Request{Credentials: creds})
	require.NoError(t, err)
	require.Len(t, ts.Tools(), 18)
	require.Len(t, ts.Definitions(), 18)
	for _, def := range ts.Definitions() {
		require.Equal(t, "function", def.Type)
		require.NotEmpty(t, def.Function.Description)
		require.Equal(t, "object", def.Function.Parameters.(map[string]any)["type"])
	}
	_, ok := ts.Lookup(ToolSearchProducts)
	require.False(t, ok)

	res := callTool(t, mustLookup(t, ts, ToolCodeInterpreter), map[string]any{
		"code": `orders = fetch("orders", fetch_all=True)
return sum(orders, "total")`,
	})
	require.Equal(t, true, res["success"], res["error"])
	require.Equal(t, 20.0, res["result"])
}

func TestBuildRejectsPartialCredentials(t *testing.T) {
	_, err := NewAssembler().Build(context.Background(), Request{
		Credentials: &woocommerce.Credentials{URL: "https://shop.example.com"},
	})
	require.True(t, errors.Is(err, ErrMissingCredentials))
}

type echoTool struct{ name string }

func (e echoTool) Name() string { return e.name }

func (e echoTool) Description() string { return "echo the input" }

func (e echoTool) Parameters() map[string]any { return objectSchema(map[string]any{}) }

func (e echoTool) Call(_ context.Context, in string) (string, error) { return in, nil }

func TestBuildExtraToolsAndAllowlist(t *testing.T) {
	ts, err := NewAssembler().Build(context.Background(), Request{
		Extra: []Tool{echoTool{name: "echo"}, echoTool{name: ToolCreateDataCards}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{ToolCodeInterpreter, ToolCreateDataCards, ToolCreateDataDisplay, "echo"}, names(ts))
	_, isBuiltin := mustLookup(t, ts, ToolCreateDataCards).(*funcTool)
	require.True(t, isBuiltin)

	ts, err = NewAssembler().Build(context.Background(), Request{
		Extra: []Tool{echoTool{name: "echo"}},
		Allow: []string{"echo"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{ToolCreateDataCards, ToolCreateDataDisplay, "echo"}, names(ts))
	_, ok := ts.Lookup(ToolCodeInterpreter)
	require.False(t, ok)
}

func TestBuildWithUnreachableRegistry(t *testing.T) {
	registry := mcpregistry.New([]string{"http://127.0.0.1:1/mcp"}, "test")
	ts, err := NewAssembler(WithRegistry(registry)).Build(context.Background(), Request{})
	require.NoError(t, err)
	require.Len(t, ts.Tools(), 3)
	require.NoError(t, ts.Close())
}

func wordVector(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 32)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(word, ",.")))
		vec[h.Sum32()%32]++
	}
	vec[31] += 0.01
	return vec, nil
}

func TestSearchProductsTool(t *testing.T) {
	f := newFakeStore()
	f.collections["products"] = []map[string]any{
		{"id": 1.0, "name": "Ceramic mug", "short_description": "<p>Coffee mug</p>", "categories": []any{map[string]any{"name": "Kitchen"}}},
		{"id": 2.0, "name": "Wool scarf", "short_description": "<p>Warm winter scarf</p>", "categories": []any{map[string]any{"name": "Apparel"}}},
	}
	creds := f.start(t)
	vs, err := vectorstore.New("")
	require.NoError(t, err)

	ts, err := NewAssembler(WithVectorStore(vs)).Build(context.Background(), Request{Credentials: creds, Embedding: wordVector})
	require.NoError(t, err)

	res := callTool(t, mustLookup(t, ts, ToolSearchProducts), map[string]any{"query": "winter scarf", "limit": 1})
	require.Equal(t, true, res["success"], res["error"])
	results := res["data"].(map[string]any)["results"].([]any)
	require.Len(t, results, 1)
	require.Equal(t, "2", results[0].(map[string]any)["ProductID"])
}

func TestStripTags(t *testing.T) {
	require.Equal(t, "Warm scarf", stripTags("<p>Warm <b>scarf</b></p>"))
	require.Equal(t, "Tea & Coffee", stripTags("<p>Tea &amp; Coffee</p>"))
	require.Equal(t, "Mug", stripTags("<script>alert(1)</script><style>p{color:red}</style><p>Mug</p>"))
	require.Equal(t, "Line one Line two", stripTags("<p>Line one</p><p>Line two</p>"))
	require.Equal(t, "plain text", stripTags("plain text"))
}
