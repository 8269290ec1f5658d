package toolkit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Presentation tool names.
const (
	ToolCreateDataCards   = "createDataCards"
	ToolCreateDataDisplay = "createDataDisplay"
)

// Envelope data types consumed by the rendering layer.
const (
	DataTypeCards   = "data_cards"
	DataTypeDisplay = "data_display"
)

var chartTypes = map[string]bool{"bar": true, "line": true, "pie": true, "doughnut": true}

// IsPresentationTool reports whether name renders data for the user.
func IsPresentationTool(name string) bool {
	return name == ToolCreateDataCards || name == ToolCreateDataDisplay
}

// Card is one metric card.
type Card struct {
	Title       string `json:"title"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	Change      string `json:"change,omitempty"`
	Trend       string `json:"trend,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// CardsPayload is the data_cards envelope payload.
type CardsPayload struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Cards       []Card `json:"cards"`
}

// Dataset is one chart series.
type Dataset struct {
	Label           string    `json:"label"`
	Data            []float64 `json:"data"`
	BackgroundColor any       `json:"backgroundColor,omitempty"`
	BorderColor     any       `json:"borderColor,omitempty"`
	BorderWidth     *float64  `json:"borderWidth,omitempty"`
}

// ChartData holds labels and series.
type ChartData struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// ChartConfig is the chart shape the renderer expects.
type ChartConfig struct {
	Type    string         `json:"type"`
	Data    ChartData      `json:"data"`
	Options map[string]any `json:"options,omitempty"`
}

// TableData has rows of exactly len(Columns) cells.
type TableData struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// DisplayPayload is the data_display envelope payload.
type DisplayPayload struct {
	Type        string       `json:"type"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	ChartConfig *ChartConfig `json:"chartConfig,omitempty"`
	TableData   *TableData   `json:"tableData,omitempty"`
	ShowChart   bool         `json:"showChart"`
	ShowTable   bool         `json:"showTable"`
}

func renderedMessage(kind, title string) string {
	return fmt.Sprintf("✅ %s %q has been displayed to the user. DO NOT call this tool again for this data. "+
		"Now provide analytical insights in your text response.", kind, title)
}

// DataCards validates metric cards.
func DataCards() Tool {
	return NewTool(ToolCreateDataCards,
		"Display key metrics as cards. Call exactly once per dataset, then explain the numbers in text.",
		objectSchema(map[string]any{
			"title":       stringProp("Heading shown above the cards"),
			"description": stringProp("Optional subtitle"),
			"cards": map[string]any{
				"type":        "array",
				"description": "Metric cards",
				"items": objectSchema(map[string]any{
					"title":       stringProp("Metric name"),
					"value":       stringProp("Formatted metric value"),
					"description": stringProp("Optional detail"),
					"change":      stringProp("Optional change, e.g. +12%"),
					"trend":       enumProp("Optional trend", "up", "down", "neutral"),
					"icon":        stringProp("Optional icon name"),
				}, "title", "value"),
			},
		}, "title", "cards"),
		func(_ context.Context, args Args) (any, error) {
			payload, err := validateCards(args)
			if err != nil {
				return nil, err
			}
			return &Envelope{Success: true, Message: renderedMessage("Data cards", payload.Title), Data: payload}, nil
		})
}

// DataDisplay validates a chart and/or table.
func DataDisplay() Tool {
	return NewTool(ToolCreateDataDisplay,
		"Display a chart and/or a table. Call exactly once per dataset, then explain the data in text. "+
			"Every dataset needs one value per label; every table row needs one cell per column.",
		objectSchema(map[string]any{
			"title":       stringProp("Heading"),
			"description": stringProp("Optional subtitle"),
			"chartConfig": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type": enumProp("Chart type", "bar", "line", "pie", "doughnut"),
					"data": objectSchema(map[string]any{
						"labels": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"datasets": map[string]any{
							"type": "array",
							"items": objectSchema(map[string]any{
								"label":           stringProp("Series name"),
								"data":            map[string]any{"type": "array", "items": map[string]any{"type": "number"}},
								"backgroundColor": map[string]any{"description": "Color or list of colors"},
								"borderColor":     map[string]any{"description": "Color or list of colors"},
								"borderWidth":     numberProp("Border width"),
							}, "label", "data"),
						},
					}, "labels", "datasets"),
					"options": map[string]any{"type": "object"},
				},
				"required": []string{"type", "data"},
			},
			"tableData": objectSchema(map[string]any{
				"columns": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"rows": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "array", "items": map[string]any{}},
				},
			}, "columns", "rows"),
			"showChart": booleanProp("Show the chart, default true when chartConfig is given"),
			"showTable": booleanProp("Show the table, default true when tableData is given"),
		}, "title"),
		func(_ context.Context, args Args) (any, error) {
			payload, err := validateDisplay(args)
			if err != nil {
				return nil, err
			}
			return &Envelope{Success: true, Message: renderedMessage("Data display", payload.Title), Data: payload}, nil
		})
}

func requiredString(v any, what string) (string, error) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", errors.Errorf("%s must be a non-empty string", what)
	}
	return strings.TrimSpace(s), nil
}

func validateCards(args Args) (*CardsPayload, error) {
	title, err := requiredString(args["title"], "title")
	if err != nil {
		return nil, err
	}
	rawCards, ok := args["cards"].([]any)
	if !ok || len(rawCards) == 0 {
		return nil, errors.New("cards must be a non-empty array")
	}
	payload := &CardsPayload{Type: DataTypeCards, Title: title, Description: args.String("description"), Cards: make([]Card, 0, len(rawCards))}
	for i, raw := range rawCards {
		c, ok := raw.(map[string]any)
		if !ok {
			return nil, errors.Errorf("cards[%d] must be an object", i)
		}
		cardTitle, err := requiredString(c["title"], fmt.Sprintf("cards[%d].title", i))
		if err != nil {
			return nil, err
		}
		value := cell(c["value"])
		if strings.TrimSpace(value) == "" {
			return nil, errors.Errorf("cards[%d].value must not be empty", i)
		}
		card := Args(c)
		payload.Cards = append(payload.Cards, Card{
			Title:       cardTitle,
			Value:       value,
			Description: card.String("description"),
			Change:      card.String("change"),
			Trend:       card.String("trend"),
			Icon:        card.String("icon"),
		})
	}
	return payload, nil
}

func validateDisplay(args Args) (*DisplayPayload, error) {
	title, err := requiredString(args["title"], "title")
	if err != nil {
		return nil, err
	}
	payload := &DisplayPayload{Type: DataTypeDisplay, Title: title, Description: args.String("description")}

	if args.Has("chartConfig") {
		raw, ok := args["chartConfig"].(map[string]any)
		if !ok {
			return nil, errors.New("chartConfig must be an object")
		}
		if payload.ChartConfig, err = validateChart(raw); err != nil {
			return nil, err
		}
	}
	if args.Has("tableData") {
		raw, ok := args["tableData"].(map[string]any)
		if !ok {
			return nil, errors.New("tableData must be an object")
		}
		if payload.TableData, err = validateTable(raw); err != nil {
			return nil, err
		}
	}
	if payload.ChartConfig == nil && payload.TableData == nil {
		return nil, errors.New("provide chartConfig, tableData or both")
	}
	payload.ShowChart = payload.ChartConfig != nil && args.Bool("showChart", true)
	payload.ShowTable = payload.TableData != nil && args.Bool("showTable", true)
	if !payload.ShowChart && !payload.ShowTable {
		return nil, errors.New("nothing to show: showChart and showTable are both false for the provided data")
	}
	return payload, nil
}

func validateChart(raw map[string]any) (*ChartConfig, error) {
	chartType, _ := raw["type"].(string)
	chartType = strings.ToLower(strings.TrimSpace(chartType))
	if !chartTypes[chartType] {
		return nil, errors.Errorf("chartConfig.type must be one of bar, line, pie, doughnut, got %q", chartType)
	}
	data, ok := raw["data"].(map[string]any)
	if !ok {
		return nil, errors.New("chartConfig.data must be an object")
	}
	rawLabels, _ := data["labels"].([]any)
	if len(rawLabels) == 0 {
		return nil, errors.New("chartConfig.data.labels must be a non-empty array")
	}
	labels := make([]string, len(rawLabels))
	for i, l := range rawLabels {
		labels[i] = cell(l)
	}
	rawSets, _ := data["datasets"].([]any)
	if len(rawSets) == 0 {
		return nil, errors.New("chartConfig.data.datasets must be a non-empty array")
	}
	cfg := &ChartConfig{Type: chartType, Data: ChartData{Labels: labels}}
	if opts, ok := raw["options"].(map[string]any); ok {
		cfg.Options = opts
	}
	for i, rs := range rawSets {
		ds, ok := rs.(map[string]any)
		if !ok {
			return nil, errors.Errorf("datasets[%d] must be an object", i)
		}
		label, err := requiredString(ds["label"], fmt.Sprintf("datasets[%d].label", i))
		if err != nil {
			return nil, err
		}
		values, ok := ds["data"].([]any)
		if !ok {
			return nil, errors.Errorf("datasets[%d].data must be an array", i)
		}
		if len(values) != len(labels) {
			return nil, errors.Errorf("datasets[%d].data has %d values but there are %d labels", i, len(values), len(labels))
		}
		set := Dataset{Label: label, Data: make([]float64, len(values)), BackgroundColor: ds["backgroundColor"], BorderColor: ds["borderColor"]}
		for j, v := range values {
			f, ok := numeric(v)
			if !ok {
				return nil, errors.Errorf("datasets[%d].data[%d] must be a number", i, j)
			}
			set.Data[j] = f
		}
		if w, ok := numeric(ds["borderWidth"]); ok {
			set.BorderWidth = &w
		}
		cfg.Data.Datasets = append(cfg.Data.Datasets, set)
	}
	return cfg, nil
}

func validateTable(raw map[string]any) (*TableData, error) {
	rawColumns, _ := raw["columns"].([]any)
	if len(rawColumns) == 0 {
		return nil, errors.New("tableData.columns must be a non-empty array")
	}
	table := &TableData{Columns: make([]string, len(rawColumns)), Rows: [][]string{}}
	for i, c := range rawColumns {
		table.Columns[i] = cell(c)
	}
	rawRows, ok := raw["rows"].([]any)
	if !ok {
		return nil, errors.New("tableData.rows must be an array")
	}
	for i, rr := range rawRows {
		row, ok := rr.([]any)
		if !ok {
			return nil, errors.Errorf("tableData.rows[%d] must be an array", i)
		}
		if len(row) != len(table.Columns) {
			return nil, errors.Errorf("tableData.rows[%d] has %d cells but there are %d columns", i, len(row), len(table.Columns))
		}
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = cell(v)
		}
		table.Rows = append(table.Rows, cells)
	}
	return table, nil
}

// cell coerces a table value to text. null becomes "".
func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Fingerprint identifies the data a successful presentation result rendered.
// It returns false for failures and non-presentation results.
func Fingerprint(result string) (string, bool) {
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(result), &env); err != nil || !env.Success || len(env.Data) == 0 {
		return "", false
	}
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", false
	}
	kind, _ := data["type"].(string)
	if kind != DataTypeCards && kind != DataTypeDisplay {
		return "", false
	}
	canonical, err := json.Marshal(data)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), true
}
