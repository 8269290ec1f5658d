package toolkit

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"github.com/pkg/errors"
	"golang.org/x/net/html"

	"github.com/shopmind/shopmind/plugin/vectorstore"
	"github.com/shopmind/shopmind/plugin/woocommerce"
)

// SearchProducts is semantic product search. The store's catalog is indexed on first use.
func SearchProducts(client *woocommerce.Client, vs *vectorstore.Store, embed chromem.EmbeddingFunc) Tool {
	return NewTool(ToolSearchProducts,
		"Find products by meaning rather than exact keywords, e.g. \"gifts for coffee lovers\".",
		objectSchema(map[string]any{
			"query":   stringProp("What to look for"),
			"limit":   integerProp("Number of results, default 5"),
			"reindex": booleanProp("Rebuild the product index before searching"),
		}, "query"),
		func(ctx context.Context, args Args) (any, error) {
			query := args.String("query")
			if query == "" {
				return nil, errors.New("query must not be empty")
			}
			storeURL := client.BaseURL()
			if vs.Count(storeURL) == 0 || args.Bool("reindex", false) {
				if err := indexProducts(ctx, client, vs, embed); err != nil {
					return nil, err
				}
			}
			results, err := vs.SearchSimilar(ctx, storeURL, embed, query, args.Int("limit", 5))
			if err != nil {
				return nil, errors.Wrap(err, "semantic search failed")
			}
			return map[string]any{"results": results, "count": len(results)}, nil
		})
}

func indexProducts(ctx context.Context, client *woocommerce.Client, vs *vectorstore.Store, embed chromem.EmbeddingFunc) error {
	products, err := client.FetchAll(ctx, "products", woocommerce.Params{"status": "publish"})
	if err != nil {
		return err
	}
	docs := make([]vectorstore.Product, 0, len(products))
	for _, p := range products {
		docs = append(docs, productDocument(p))
	}
	return vs.UpsertProducts(ctx, client.BaseURL(), embed, docs)
}

func productDocument(p map[string]any) vectorstore.Product {
	name, _ := p["name"].(string)
	short, _ := p["short_description"].(string)
	sku, _ := p["sku"].(string)
	var categories []string
	if cats, ok := p["categories"].([]any); ok {
		for _, raw := range cats {
			if c, ok := raw.(map[string]any); ok {
				if n, ok := c["name"].(string); ok {
					categories = append(categories, n)
				}
			}
		}
	}
	content := strings.TrimSpace(strings.Join([]string{name, stripTags(short), strings.Join(categories, ", ")}, "\n"))
	return vectorstore.Product{
		ID:      strconv.Itoa(int(amount(p["id"]))),
		Name:    name,
		Content: content,
		Metadata: map[string]string{
			"sku":   sku,
			"price": fmt.Sprint(p["price"]),
		},
	}
}

// stripTags reduces an HTML fragment to its visible text. Entities are decoded and
// script and style contents dropped.
func stripTags(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			case "br", "p", "div", "li":
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(sb.String()), " ")
}
