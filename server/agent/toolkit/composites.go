package toolkit

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/shopmind/shopmind/plugin/woocommerce"
)

// ProductSales is the quantity sold of one product.
type ProductSales struct {
	ProductID int     `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Revenue   float64 `json:"revenue"`
}

// Overview is the result of store_overview.
type Overview struct {
	Period            string         `json:"period"`
	After             string         `json:"after"`
	Before            string         `json:"before"`
	TotalRevenue      float64        `json:"total_revenue"`
	OrderCount        int            `json:"order_count"`
	NewCustomers      int            `json:"new_customers"`
	AverageOrderValue float64        `json:"average_order_value"`
	TopProducts       []ProductSales `json:"top_products"`
	TotalProducts     int            `json:"total_products"`
	TotalCoupons      int            `json:"total_coupons"`
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func (s *storeTools) overview(ctx context.Context, args Args) (any, error) {
	period := args.String("period")
	window, err := PeriodWindow(period, s.now())
	if err != nil {
		return nil, err
	}

	var (
		orders    []map[string]any
		customers []map[string]any
		products  *woocommerce.Page
		coupons   *woocommerce.Page
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		orders, err = s.client.FetchAll(gctx, "orders", window.Params())
		return err
	})
	g.Go(func() error {
		all, err := s.client.FetchAll(gctx, "customers", nil)
		if err != nil {
			return err
		}
		customers = filterCustomersByDate(all, &window.After, &window.Before)
		return nil
	})
	g.Go(func() error {
		var err error
		products, err = s.client.List(gctx, "products", woocommerce.Params{"per_page": 1})
		return err
	})
	g.Go(func() error {
		var err error
		coupons, err = s.client.List(gctx, "coupons", woocommerce.Params{"per_page": 1})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Overview{
		Period:        strings.ToLower(period),
		After:         window.After.Format(woocommerce.TimeLayout),
		Before:        window.Before.Format(woocommerce.TimeLayout),
		OrderCount:    len(orders),
		NewCustomers:  len(customers),
		TopProducts:   topProducts(orders, 5),
		TotalProducts: pageTotal(products),
		TotalCoupons:  pageTotal(coupons),
	}
	for _, o := range orders {
		out.TotalRevenue += amount(o["total"])
	}
	if out.OrderCount > 0 {
		out.AverageOrderValue = round2(out.TotalRevenue / float64(out.OrderCount))
	}
	out.TotalRevenue = round2(out.TotalRevenue)
	return out, nil
}

func pageTotal(p *woocommerce.Page) int {
	if p == nil {
		return 0
	}
	if p.Total > 0 {
		return p.Total
	}
	return len(p.Items)
}

// topProducts ranks line items by quantity. Ties keep first-seen order.
func topProducts(orders []map[string]any, n int) []ProductSales {
	var ranked []*ProductSales
	index := map[string]*ProductSales{}
	for _, o := range orders {
		items, _ := o["line_items"].([]any)
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			id := int(amount(item["product_id"]))
			name, _ := item["name"].(string)
			key := fmt.Sprintf("%d:%s", id, name)
			if id > 0 {
				key = fmt.Sprintf("%d", id)
			}
			ps, ok := index[key]
			if !ok {
				ps = &ProductSales{ProductID: id, Name: name}
				index[key] = ps
				ranked = append(ranked, ps)
			}
			ps.Quantity += int(amount(item["quantity"]))
			ps.Revenue += amount(item["total"])
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Quantity > ranked[j].Quantity
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]ProductSales, 0, len(ranked))
	for _, ps := range ranked {
		ps.Revenue = round2(ps.Revenue)
		out = append(out, *ps)
	}
	return out
}

// CustomerSpend is one row of top_customers.
type CustomerSpend struct {
	Key        string  `json:"key"`
	Name       string  `json:"name,omitempty"`
	Email      string  `json:"email,omitempty"`
	TotalSpent float64 `json:"total_spent"`
	OrderCount int     `json:"order_count"`
}

func (s *storeTools) topCustomers(ctx context.Context, args Args) (any, error) {
	window, err := PeriodWindow(args.String("period"), s.now())
	if err != nil {
		return nil, err
	}
	limit := args.Int("limit", defaultTopCustomers)
	if limit <= 0 {
		limit = defaultTopCustomers
	}
	orders, err := s.client.FetchAll(ctx, "orders", window.Params())
	if err != nil {
		return nil, err
	}
	ranked := rankCustomers(orders)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return map[string]any{
		"period":    args.String("period"),
		"customers": ranked,
		"orders":    len(orders),
	}, nil
}

// rankCustomers groups orders by billing email. Orders without an email are
// keyed guest_<orderId> and never merged with each other.
func rankCustomers(orders []map[string]any) []CustomerSpend {
	var ranked []*CustomerSpend
	index := map[string]*CustomerSpend{}
	for _, o := range orders {
		billing, _ := o["billing"].(map[string]any)
		email, _ := billing["email"].(string)
		email = strings.ToLower(strings.TrimSpace(email))
		key := email
		if key == "" {
			key = fmt.Sprintf("guest_%d", int(amount(o["id"])))
		}
		cs, ok := index[key]
		if !ok {
			first, _ := billing["first_name"].(string)
			last, _ := billing["last_name"].(string)
			cs = &CustomerSpend{Key: key, Email: email, Name: strings.TrimSpace(first + " " + last)}
			index[key] = cs
			ranked = append(ranked, cs)
		}
		cs.TotalSpent += amount(o["total"])
		cs.OrderCount++
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TotalSpent > ranked[j].TotalSpent
	})
	out := make([]CustomerSpend, 0, len(ranked))
	for _, cs := range ranked {
		cs.TotalSpent = round2(cs.TotalSpent)
		out = append(out, *cs)
	}
	return out
}

// Trend classifies a growth percentage.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Growth is the result of sales_growth.
type Growth struct {
	Period        string  `json:"period"`
	CurrentSales  float64 `json:"current_sales"`
	PreviousSales float64 `json:"previous_sales"`
	GrowthPercent float64 `json:"growth_percent"`
	Trend         Trend   `json:"trend"`
}

// growthPercent is 0 when the previous period had no sales.
func growthPercent(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return round2((current - previous) / previous * 100)
}

func classifyTrend(growth float64) Trend {
	switch {
	case growth > 0:
		return TrendUp
	case growth < 0:
		return TrendDown
	default:
		return TrendStable
	}
}

func (s *storeTools) salesGrowth(ctx context.Context, args Args) (any, error) {
	period := strings.ToLower(args.String("period"))
	curWin, prevWin, err := salesWindows(period, s.now())
	if err != nil {
		return nil, err
	}

	current, err := s.client.Get(ctx, "reports/sales", curWin.Dates())
	if err != nil {
		return nil, err
	}
	prior, err := s.client.Get(ctx, "reports/sales", prevWin.Dates())
	if err != nil {
		return nil, err
	}

	g := &Growth{
		Period:        period,
		CurrentSales:  round2(totalSales(current)),
		PreviousSales: round2(totalSales(prior)),
	}
	g.GrowthPercent = growthPercent(g.CurrentSales, g.PreviousSales)
	g.Trend = classifyTrend(g.GrowthPercent)
	return g, nil
}

// totalSales sums total_sales across report rows.
func totalSales(report any) float64 {
	rows, _ := report.([]any)
	var total float64
	for _, raw := range rows {
		if row, ok := raw.(map[string]any); ok {
			total += amount(row["total_sales"])
		}
	}
	return total
}

// LowStockProduct is one row of low_stock_products.
type LowStockProduct struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	SKU           string `json:"sku,omitempty"`
	StockQuantity int    `json:"stock_quantity"`
	StockStatus   string `json:"stock_status,omitempty"`
}

func (s *storeTools) lowStock(ctx context.Context, args Args) (any, error) {
	threshold := args.Int("threshold", defaultLowStockThreshold)
	products, err := s.client.FetchAll(ctx, "products", nil)
	if err != nil {
		return nil, err
	}
	low := filterLowStock(products, threshold)
	return map[string]any{
		"threshold": threshold,
		"products":  low,
		"count":     len(low),
		"scanned":   len(products),
	}, nil
}

func filterLowStock(products []map[string]any, threshold int) []LowStockProduct {
	out := []LowStockProduct{}
	for _, p := range products {
		managed, _ := p["manage_stock"].(bool)
		if !managed || p["stock_quantity"] == nil {
			continue
		}
		qty := int(amount(p["stock_quantity"]))
		if qty > threshold {
			continue
		}
		name, _ := p["name"].(string)
		sku, _ := p["sku"].(string)
		status, _ := p["stock_status"].(string)
		out = append(out, LowStockProduct{
			ID:            int(amount(p["id"])),
			Name:          name,
			SKU:           sku,
			StockQuantity: qty,
			StockStatus:   status,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StockQuantity < out[j].StockQuantity
	})
	return out
}
