package toolkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/shopmind/shopmind/plugin/woocommerce"
)

// fakeStore serves fixed collections over the wc/v3 paths, honoring page/per_page.
type fakeStore struct {
	mu          sync.Mutex
	collections map[string][]map[string]any
	reports     map[string]any
	requests    []string
	fail        map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		collections: map[string][]map[string]any{},
		reports:     map[string]any{},
		fail:        map[string]int{},
	}
}

func (f *fakeStore) start(t *testing.T) *woocommerce.Credentials {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return &woocommerce.Credentials{URL: srv.URL, ConsumerKey: "ck", ConsumerSecret: "cs"}
}

func (f *fakeStore) requested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeStore) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/wp-json/wc/v3/")
	q := r.URL.Query()
	f.mu.Lock()
	f.requests = append(f.requests, path+"?"+q.Encode())
	status := f.fail[path]
	items, isCollection := f.collections[path]
	report, isReport := f.reports[path+"?"+reportKey(q)]
	f.mu.Unlock()

	if q.Get("consumer_key") != "ck" || q.Get("consumer_secret") != "cs" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"woocommerce_rest_authentication_error","message":"Invalid signature"}`))
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"code":"internal_error","message":"boom"}`))
		return
	}
	if isReport {
		_ = json.NewEncoder(w).Encode(report)
		return
	}
	if !isCollection {
		// products/12 style single resource lookups
		if i := strings.LastIndex(path, "/"); i > 0 {
			if coll, ok := f.collections[path[:i]]; ok {
				for _, item := range coll {
					if strconv.Itoa(int(amount(item["id"]))) == path[i+1:] {
						_ = json.NewEncoder(w).Encode(item)
						return
					}
				}
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"rest_no_route","message":"No route was found"}`))
		return
	}

	page, _ := strconv.Atoi(q.Get("page"))
	if page <= 0 {
		page = 1
	}
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage <= 0 {
		perPage = 10
	}
	total := len(items)
	totalPages := (total + perPage - 1) / perPage
	start := (page - 1) * perPage
	end := start + perPage
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	w.Header().Set("X-WP-Total", strconv.Itoa(total))
	w.Header().Set("X-WP-TotalPages", strconv.Itoa(totalPages))
	_ = json.NewEncoder(w).Encode(items[start:end])
}

// reportKey identifies a report request by its period or date range.
func reportKey(q map[string][]string) string {
	if v := q["period"]; len(v) > 0 {
		return "period=" + v[0]
	}
	var min, max string
	if v := q["date_min"]; len(v) > 0 {
		min = v[0]
	}
	if v := q["date_max"]; len(v) > 0 {
		max = v[0]
	}
	return "date_min=" + min + "&date_max=" + max
}

func order(id int, email string, total string, items ...map[string]any) map[string]any {
	lineItems := make([]any, 0, len(items))
	for _, it := range items {
		lineItems = append(lineItems, it)
	}
	return map[string]any{
		"id":         float64(id),
		"total":      total,
		"billing":    map[string]any{"email": email, "first_name": "F" + strconv.Itoa(id), "last_name": "L"},
		"line_items": lineItems,
	}
}

func lineItem(productID int, name string, qty int) map[string]any {
	return map[string]any{"product_id": float64(productID), "name": name, "quantity": float64(qty), "total": "10.00"}
}

func decodeEnvelope(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("tool result is not JSON: %v: %s", err, raw)
	}
	return out
}
