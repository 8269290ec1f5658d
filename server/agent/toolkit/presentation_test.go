package toolkit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func callTool(t *testing.T, tool Tool, args any) map[string]any {
	t.Helper()
	b, err := json.Marshal(args)
	require.NoError(t, err)
	out, err := tool.Call(context.Background(), string(b))
	require.NoError(t, err)
	return decodeEnvelope(t, out)
}

func TestDataDisplayTable(t *testing.T) {
	res := callTool(t, DataDisplay(), map[string]any{
		"title":     "Top products last month",
		"showChart": false,
		"tableData": map[string]any{
			"columns": []any{"Product", "Units"},
			"rows": []any{
				[]any{"Mug", 12},
				[]any{"Scarf", nil},
				[]any{true, 2.5},
			},
		},
	})
	require.Equal(t, true, res["success"])
	require.Contains(t, res["message"], "DO NOT call this tool again")

	want := map[string]any{
		"type":      "data_display",
		"title":     "Top products last month",
		"showChart": false,
		"showTable": true,
		"tableData": map[string]any{
			"columns": []any{"Product", "Units"},
			"rows": []any{
				[]any{"Mug", "12"},
				[]any{"Scarf", ""},
				[]any{"true", "2.5"},
			},
		},
	}
	if diff := cmp.Diff(want, res["data"]); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestDataDisplayRejectsRowShape(t *testing.T) {
	res := callTool(t, DataDisplay(), map[string]any{
		"title": "Bad table",
		"tableData": map[string]any{
			"columns": []any{"A", "B"},
			"rows":    []any{[]any{"1", "2"}, []any{"only one"}},
		},
	})
	require.Equal(t, false, res["success"])
	require.Contains(t, res["error"], "rows[1] has 1 cells but there are 2 columns")
	require.NotContains(t, res, "data")
}

func TestDataDisplayChart(t *testing.T) {
	chart := map[string]any{
		"type": "bar",
		"data": map[string]any{
			"labels": []any{"Jan", "Feb", "Mar"},
			"datasets": []any{
				map[string]any{"label": "Revenue", "data": []any{1.5, "2", 3}, "backgroundColor": "#336699", "borderWidth": 1},
			},
		},
	}
	res := callTool(t, DataDisplay(), map[string]any{"title": "Revenue", "chartConfig": chart})
	require.Equal(t, true, res["success"], res["error"])
	data := res["data"].(map[string]any)
	require.Equal(t, true, data["showChart"])
	require.Equal(t, false, data["showTable"])
	sets := data["chartConfig"].(map[string]any)["data"].(map[string]any)["datasets"].([]any)
	require.Equal(t, []any{1.5, 2.0, 3.0}, sets[0].(map[string]any)["data"])

	chart["data"].(map[string]any)["datasets"] = []any{
		map[string]any{"label": "Revenue", "data": []any{1, 2}},
	}
	res = callTool(t, DataDisplay(), map[string]any{"title": "Revenue", "chartConfig": chart})
	require.Equal(t, false, res["success"])
	require.Contains(t, res["error"], "2 values but there are 3 labels")
}

func TestDataDisplayValidation(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing title", map[string]any{"title": " ", "tableData": map[string]any{"columns": []any{"a"}, "rows": []any{}}}, "title must be a non-empty string"},
		{"nothing", map[string]any{"title": "x"}, "provide chartConfig, tableData or both"},
		{"bad chart type", map[string]any{"title": "x", "chartConfig": map[string]any{"type": "radar", "data": map[string]any{}}}, "chartConfig.type"},
		{"empty labels", map[string]any{"title": "x", "chartConfig": map[string]any{"type": "pie", "data": map[string]any{"labels": []any{}}}}, "labels must be a non-empty array"},
		{"unlabeled dataset", map[string]any{"title": "x", "chartConfig": map[string]any{"type": "line", "data": map[string]any{
			"labels": []any{"a"}, "datasets": []any{map[string]any{"label": "", "data": []any{1}}},
		}}}, "datasets[0].label"},
		{"hidden", map[string]any{"title": "x", "showTable": false, "tableData": map[string]any{"columns": []any{"a"}, "rows": []any{}}}, "nothing to show"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := callTool(t, DataDisplay(), tt.args)
			require.Equal(t, false, res["success"])
			require.Contains(t, res["error"], tt.want)
		})
	}
}

func TestDataCards(t *testing.T) {
	res := callTool(t, DataCards(), map[string]any{
		"title": "This week",
		"cards": []any{
			map[string]any{"title": "Revenue", "value": "$1,204", "trend": "up"},
			map[string]any{"title": "Orders", "value": 31},
		},
	})
	require.Equal(t, true, res["success"])
	require.Contains(t, res["message"], "DO NOT call this tool again")
	data := res["data"].(map[string]any)
	require.Equal(t, "data_cards", data["type"])
	cards := data["cards"].([]any)
	require.Equal(t, "31", cards[1].(map[string]any)["value"])

	res = callTool(t, DataCards(), map[string]any{
		"title": "This week",
		"cards": []any{map[string]any{"title": "Revenue", "value": ""}},
	})
	require.Equal(t, false, res["success"])
	require.Contains(t, res["error"], "cards[0].value")

	res = callTool(t, DataCards(), map[string]any{"title": "This week", "cards": []any{}})
	require.Equal(t, false, res["success"])

	res = callTool(t, DataCards(), map[string]any{"title": "No cards"})
	require.Equal(t, false, res["success"])
	require.Contains(t, res["error"], `missing required argument "cards"`)
}

func TestFingerprint(t *testing.T) {
	args := map[string]any{
		"title":     "Units",
		"tableData": map[string]any{"columns": []any{"a"}, "rows": []any{[]any{"1"}}},
	}
	b, _ := json.Marshal(args)
	first, err := DataDisplay().Call(context.Background(), string(b))
	require.NoError(t, err)
	second, err := DataDisplay().Call(context.Background(), string(b))
	require.NoError(t, err)

	fp1, ok := Fingerprint(first)
	require.True(t, ok)
	fp2, ok := Fingerprint(second)
	require.True(t, ok)
	require.Equal(t, fp1, fp2)

	args["title"] = "Other units"
	b, _ = json.Marshal(args)
	third, _ := DataDisplay().Call(context.Background(), string(b))
	fp3, _ := Fingerprint(third)
	require.NotEqual(t, fp1, fp3)

	_, ok = Fingerprint(`{"success":false,"error":"x"}`)
	require.False(t, ok)
	_, ok = Fingerprint(`{"success":true,"data":{"items":[]}}`)
	require.False(t, ok)
	_, ok = Fingerprint(`not json`)
	require.False(t, ok)
}
