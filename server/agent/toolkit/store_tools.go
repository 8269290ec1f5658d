package toolkit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopmind/shopmind/plugin/woocommerce"
)

// Store tool names.
const (
	ToolListProducts     = "list_products"
	ToolGetProduct       = "get_product"
	ToolListOrders       = "list_orders"
	ToolGetOrder         = "get_order"
	ToolListCustomers    = "list_customers"
	ToolGetCustomer      = "get_customer"
	ToolListCategories   = "list_categories"
	ToolListCoupons      = "list_coupons"
	ToolListReviews      = "list_reviews"
	ToolSalesReport      = "get_sales_report"
	ToolTopSellersReport = "get_top_sellers_report"
	ToolStoreOverview    = "store_overview"
	ToolTopCustomers     = "top_customers"
	ToolSalesGrowth      = "sales_growth"
	ToolLowStockProducts = "low_stock_products"
	ToolSearchProducts   = "search_products"
)

const (
	defaultLowStockThreshold = 5
	defaultTopCustomers      = 10
	defaultListPageSize      = 20
	maxListPageSize          = 100

	reportPeriodDescription = "Reporting period: week, month, last_month or year"
)

type storeTools struct {
	client *woocommerce.Client
	now    func() time.Time
}

// StoreTools returns the store-data tools bound to one store client.
func StoreTools(client *woocommerce.Client, now func() time.Time) []Tool {
	if now == nil {
		now = time.Now
	}
	s := &storeTools{client: client, now: now}
	pageProps := func(extra map[string]any) map[string]any {
		props := map[string]any{
			"page":     integerProp("Page number, starting at 1"),
			"per_page": integerProp("Items per page (max 100, default 20)"),
		}
		for k, v := range extra {
			props[k] = v
		}
		return props
	}

	return []Tool{
		NewTool(ToolListProducts,
			"List products. Supports search, category, status, stock_status, sku, orderby and order filters.",
			objectSchema(pageProps(map[string]any{
				"search":       stringProp("Free-text search"),
				"category":     stringProp("Category id"),
				"status":       enumProp("Product status", "any", "draft", "pending", "private", "publish"),
				"stock_status": enumProp("Stock status", "instock", "outofstock", "onbackorder"),
				"sku":          stringProp("Exact SKU"),
				"orderby":      enumProp("Sort field", "date", "id", "title", "price", "popularity", "rating"),
				"order":        enumProp("Sort direction", "asc", "desc"),
			})),
			s.list("products", "search", "category", "status", "stock_status", "sku", "orderby", "order")),
		NewTool(ToolGetProduct, "Get one product by id.",
			objectSchema(map[string]any{"id": integerProp("Product id")}, "id"),
			s.get("products")),
		NewTool(ToolListOrders,
			"List orders. Supports status, customer, product, after and before (ISO 8601) filters.",
			objectSchema(pageProps(map[string]any{
				"status":   stringProp("Order status, e.g. processing, completed, or a comma separated list"),
				"customer": integerProp("Customer id"),
				"product":  integerProp("Only orders containing this product id"),
				"after":    stringProp("Only orders created after this ISO 8601 date"),
				"before":   stringProp("Only orders created before this ISO 8601 date"),
				"orderby":  enumProp("Sort field", "date", "id", "total"),
				"order":    enumProp("Sort direction", "asc", "desc"),
			})),
			s.list("orders", "status", "customer", "product", "after", "before", "orderby", "order")),
		NewTool(ToolGetOrder, "Get one order by id, including line items.",
			objectSchema(map[string]any{"id": integerProp("Order id")}, "id"),
			s.get("orders")),
		NewTool(ToolListCustomers,
			"List customers. Supports search, email and role. after/before (ISO 8601) filter on the registration date; "+
				"customers without any date are excluded when a date filter is given.",
			objectSchema(pageProps(map[string]any{
				"search": stringProp("Free-text search"),
				"email":  stringProp("Exact email"),
				"role":   stringProp("User role, default customer"),
				"after":  stringProp("Registered on or after this ISO 8601 date"),
				"before": stringProp("Registered before this ISO 8601 date"),
			})),
			s.listCustomers),
		NewTool(ToolGetCustomer, "Get one customer by id.",
			objectSchema(map[string]any{"id": integerProp("Customer id")}, "id"),
			s.get("customers")),
		NewTool(ToolListCategories, "List product categories.",
			objectSchema(pageProps(map[string]any{
				"search":     stringProp("Free-text search"),
				"parent":     integerProp("Parent category id"),
				"hide_empty": booleanProp("Hide categories without products"),
			})),
			s.list("products/categories", "search", "parent", "hide_empty")),
		NewTool(ToolListCoupons, "List coupons.",
			objectSchema(pageProps(map[string]any{
				"search": stringProp("Free-text search"),
				"code":   stringProp("Exact coupon code"),
			})),
			s.list("coupons", "search", "code")),
		NewTool(ToolListReviews, "List product reviews.",
			objectSchema(pageProps(map[string]any{
				"product": integerProp("Product id"),
				"status":  enumProp("Review status", "all", "approved", "hold", "spam", "trash"),
			})),
			s.list("products/reviews", "product", "status")),
		NewTool(ToolSalesReport,
			"Get the built-in sales report (totals, orders, items, discounts) for a period or a date_min/date_max range (YYYY-MM-DD).",
			objectSchema(map[string]any{
				"period":   enumProp(reportPeriodDescription, "week", "month", "last_month", "year"),
				"date_min": stringProp("Start date YYYY-MM-DD"),
				"date_max": stringProp("End date YYYY-MM-DD"),
			}),
			s.report("reports/sales")),
		NewTool(ToolTopSellersReport,
			"Get the built-in top sellers report for a period or a date_min/date_max range (YYYY-MM-DD).",
			objectSchema(map[string]any{
				"period":   enumProp(reportPeriodDescription, "week", "month", "last_month", "year"),
				"date_min": stringProp("Start date YYYY-MM-DD"),
				"date_max": stringProp("End date YYYY-MM-DD"),
			}),
			s.report("reports/top_sellers")),
		NewTool(ToolStoreOverview,
			"Store overview for a period: revenue, order count, new customers, average order value, top 5 products, product and coupon totals.",
			objectSchema(map[string]any{
				"period": enumProp("Period", "week", "month", "last_month", "year"),
			}, "period"),
			s.overview),
		NewTool(ToolTopCustomers,
			"Top customers by total spend within a period, aggregated by billing email.",
			objectSchema(map[string]any{
				"period": enumProp("Period", "week", "month", "last_month", "year"),
				"limit":  integerProp("Number of customers, default 10"),
			}, "period"),
			s.topCustomers),
		NewTool(ToolSalesGrowth,
			"Compare total sales of the current week, month or year with the previous one. "+
				"Quarterly or custom ranges are not supported: use code_interpreter for those.",
			objectSchema(map[string]any{
				"period": enumProp("Comparison granularity", "week", "month", "year"),
			}, "period"),
			s.salesGrowth),
		NewTool(ToolLowStockProducts,
			"Products with stock management enabled whose stock quantity is at or below a threshold.",
			objectSchema(map[string]any{
				"threshold": integerProp("Stock threshold, default 5"),
			}),
			s.lowStock),
	}
}

func pageParams(args Args) woocommerce.Params {
	perPage := args.Int("per_page", defaultListPageSize)
	if perPage <= 0 || perPage > maxListPageSize {
		perPage = defaultListPageSize
	}
	page := args.Int("page", 1)
	if page <= 0 {
		page = 1
	}
	return woocommerce.Params{"page": page, "per_page": perPage}
}

func (s *storeTools) list(endpoint string, filters ...string) Handler {
	return func(ctx context.Context, args Args) (any, error) {
		params := args.Params(filters...)
		for k, v := range pageParams(args) {
			params[k] = v
		}
		page, err := s.client.List(ctx, endpoint, params)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"items":       page.Items,
			"count":       len(page.Items),
			"total":       page.Total,
			"total_pages": page.TotalPages,
		}, nil
	}
}

func (s *storeTools) get(endpoint string) Handler {
	return func(ctx context.Context, args Args) (any, error) {
		id, err := args.ID("id")
		if err != nil {
			return nil, err
		}
		return s.client.Get(ctx, endpoint+"/"+strconv.Itoa(id), nil)
	}
}

func (s *storeTools) report(endpoint string) Handler {
	return func(ctx context.Context, args Args) (any, error) {
		params := args.Params("date_min", "date_max")
		if len(params) == 0 {
			period := args.String("period")
			if period == "" {
				period = string(PeriodWeek)
			}
			params["period"] = period
		}
		return s.client.Get(ctx, endpoint, params)
	}
}

// listCustomers falls back to fetching every page and filtering client-side
// when a date range is requested, since the endpoint has no date filter.
func (s *storeTools) listCustomers(ctx context.Context, args Args) (any, error) {
	params := args.Params("search", "email", "role")
	if !args.Has("after") && !args.Has("before") {
		for k, v := range pageParams(args) {
			params[k] = v
		}
		page, err := s.client.List(ctx, "customers", params)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"items":       page.Items,
			"count":       len(page.Items),
			"total":       page.Total,
			"total_pages": page.TotalPages,
		}, nil
	}

	var after, before *time.Time
	for key, dst := range map[string]**time.Time{"after": &after, "before": &before} {
		if !args.Has(key) {
			continue
		}
		t, ok := parseStoreTime(args.String(key))
		if !ok {
			return nil, fmt.Errorf("%s must be an ISO 8601 date, got %q", key, args.String(key))
		}
		*dst = &t
	}
	all, err := s.client.FetchAll(ctx, "customers", params)
	if err != nil {
		return nil, err
	}
	filtered := filterCustomersByDate(all, after, before)
	return map[string]any{
		"items":   filtered,
		"count":   len(filtered),
		"total":   len(filtered),
		"scanned": len(all),
	}, nil
}

// amount reads a money value, which the store API reports as a string.
func amount(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f
	case int:
		return float64(x)
	default:
		return 0
	}
}
