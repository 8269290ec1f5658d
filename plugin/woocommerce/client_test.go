package woocommerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(&Credentials{URL: srv.URL + "/", ConsumerKey: "ck_test", ConsumerSecret: "cs_test"})
	require.NoError(t, err)
	return client, srv
}

func TestCredentialsValidate(t *testing.T) {
	err := (&Credentials{URL: "https://shop.test"}).Validate()
	require.True(t, errors.Is(err, ErrMissingCredentials))
	require.Contains(t, err.Error(), "consumerKey, consumerSecret")

	var nilCreds *Credentials
	require.True(t, errors.Is(nilCreds.Validate(), ErrMissingCredentials))

	_, err = NewClient(&Credentials{})
	require.Error(t, err)
}

func TestClientGetAuthenticatesWithQueryParams(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/wp-json/wc/v3/products/42", r.URL.Path)
		require.Equal(t, "ck_test", r.URL.Query().Get("consumer_key"))
		require.Equal(t, "cs_test", r.URL.Query().Get("consumer_secret"))
		require.Equal(t, "view", r.URL.Query().Get("context"))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 42, "name": "Mug"})
	})

	out, err := client.Get(context.Background(), "/products/42", Params{"context": "view"})
	require.NoError(t, err)
	require.Equal(t, "Mug", out.(map[string]any)["name"])
}

func TestClientAPIError(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"woocommerce_rest_cannot_view","message":"Sorry, you cannot list resources."}`))
	})

	_, err := client.List(context.Background(), "orders", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Equal(t, "woocommerce_rest_cannot_view", apiErr.Code)
}

func TestClientFetchAllFollowsTotalPages(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		require.Equal(t, "2", r.URL.Query().Get("per_page"))
		require.Equal(t, "processing,completed", r.URL.Query().Get("status"))
		w.Header().Set("X-WP-Total", "5")
		w.Header().Set("X-WP-TotalPages", "3")
		items := []map[string]any{}
		for i := 0; i < 2 && (page-1)*2+i < 5; i++ {
			items = append(items, map[string]any{"id": (page-1)*2 + i})
		}
		_ = json.NewEncoder(w).Encode(items)
	})

	items, err := client.FetchAll(context.Background(), "orders", Params{
		"per_page": 2,
		"status":   []string{"processing", "completed"},
	})
	require.NoError(t, err)
	require.Len(t, items, 5)
	require.EqualValues(t, 3, calls.Load())
}

func TestClientFetchAllWithoutHeadersStopsOnShortPage(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		n := DefaultPerPage
		if page == 2 {
			n = 3
		}
		items := make([]map[string]any, n)
		for i := range items {
			items[i] = map[string]any{"id": fmt.Sprintf("%d-%d", page, i)}
		}
		_ = json.NewEncoder(w).Encode(items)
	})

	items, err := client.FetchAll(context.Background(), "customers", nil)
	require.NoError(t, err)
	require.Len(t, items, DefaultPerPage+3)
}

func TestClientFetchAllPageGuard(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": 1}})
	})

	items, err := client.FetchAll(context.Background(), "products", Params{"per_page": 1})
	require.NoError(t, err)
	require.Len(t, items, MaxPages)
	require.EqualValues(t, MaxPages, calls.Load())
}

func TestEncodeParams(t *testing.T) {
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	values := encodeParams(Params{
		"after":   at,
		"include": []any{1.0, 2.0},
		"search":  "",
		"period":  "week",
		"min":     2.5,
		"skip":    nil,
	})
	require.Equal(t, "2024-02-01T00:00:00", values.Get("after"))
	require.Equal(t, "1,2", values.Get("include"))
	require.Equal(t, "2.5", values.Get("min"))
	require.Equal(t, "week", values.Get("period"))
	require.False(t, values.Has("search"))
	require.False(t, values.Has("skip"))
}
