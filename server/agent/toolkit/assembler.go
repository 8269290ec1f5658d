package toolkit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/llms"

	"github.com/shopmind/shopmind/plugin/mcpregistry"
	"github.com/shopmind/shopmind/plugin/sandbox"
	"github.com/shopmind/shopmind/plugin/vectorstore"
	"github.com/shopmind/shopmind/plugin/woocommerce"
)

// Assembler builds a fresh tool set for every agent invocation.
type Assembler struct {
	registry       *mcpregistry.Registry
	vectors        *vectorstore.Store
	sandboxTimeout time.Duration
	storeRPS       float64
	httpClient     *http.Client
	now            func() time.Time
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithRegistry adds tools discovered from MCP servers.
func WithRegistry(r *mcpregistry.Registry) AssemblerOption {
	return func(a *Assembler) { a.registry = r }
}

// WithVectorStore enables search_products when an embedding function is supplied per request.
func WithVectorStore(vs *vectorstore.Store) AssemblerOption {
	return func(a *Assembler) { a.vectors = vs }
}

// WithSandboxTimeout overrides the code interpreter time limit.
func WithSandboxTimeout(d time.Duration) AssemblerOption {
	return func(a *Assembler) { a.sandboxTimeout = d }
}

// WithStoreRateLimit paces store API requests.
func WithStoreRateLimit(rps float64) AssemblerOption {
	return func(a *Assembler) { a.storeRPS = rps }
}

// WithStoreHTTPClient overrides the HTTP client used for the store API.
func WithStoreHTTPClient(hc *http.Client) AssemblerOption {
	return func(a *Assembler) { a.httpClient = hc }
}

// WithClock overrides the time source of period windows.
func WithClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) { a.now = now }
}

// NewAssembler returns an assembler.
func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{sandboxTimeout: sandbox.DefaultTimeout, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Request carries the per-invocation inputs of Build. Nothing here is cached.
type Request struct {
	// Credentials bind the store tools. Nil means no store tools.
	Credentials *woocommerce.Credentials
	// Extra are caller-supplied ad-hoc tools.
	Extra []Tool
	// Allow restricts the tool set to these names. Presentation tools are always kept.
	Allow []string
	// Embedding enables semantic product search.
	Embedding chromem.EmbeddingFunc
}

// Toolset is the tool roster of one invocation.
type Toolset struct {
	tools   []Tool
	byName  map[string]Tool
	session *mcpregistry.Session
}

// Build assembles built-in store, interpreter and presentation tools, then
// caller-supplied and registry tools. Built-in names win on collision.
func (a *Assembler) Build(ctx context.Context, req Request) (*Toolset, error) {
	ts := &Toolset{byName: map[string]Tool{}}

	var fetcher sandbox.Fetcher
	if req.Credentials != nil {
		clientOpts := []woocommerce.Option{woocommerce.WithRateLimit(a.storeRPS)}
		if a.httpClient != nil {
			clientOpts = append(clientOpts, woocommerce.WithHTTPClient(a.httpClient))
		}
		client, err := woocommerce.NewClient(req.Credentials, clientOpts...)
		if err != nil {
			return nil, err
		}
		fetcher = client
		for _, t := range StoreTools(client, a.now) {
			ts.add(t)
		}
		if a.vectors != nil && req.Embedding != nil {
			ts.add(SearchProducts(client, a.vectors, req.Embedding))
		}
	}
	ts.add(CodeInterpreter(sandbox.New(fetcher, sandbox.WithTimeout(a.sandboxTimeout))))
	ts.add(DataCards())
	ts.add(DataDisplay())

	for _, t := range req.Extra {
		ts.add(t)
	}
	if a.registry != nil && len(a.registry.Endpoints()) > 0 {
		ts.session = a.registry.Discover(ctx)
		for _, t := range ts.session.Tools() {
			ts.add(t)
		}
	}

	if len(req.Allow) > 0 {
		ts.restrict(req.Allow)
	}
	slog.Info("[AGENT TOOLS]", "count", len(ts.tools), "names", sortedNames(ts.tools))
	return ts, nil
}

func (ts *Toolset) add(t Tool) {
	if _, exists := ts.byName[t.Name()]; exists {
		slog.Warn("[AGENT TOOLS] duplicate tool name ignored", "tool", t.Name())
		return
	}
	ts.byName[t.Name()] = t
	ts.tools = append(ts.tools, t)
}

func (ts *Toolset) restrict(allow []string) {
	allowed := map[string]bool{}
	for _, name := range allow {
		allowed[name] = true
	}
	kept := ts.tools[:0]
	for _, t := range ts.tools {
		if allowed[t.Name()] || IsPresentationTool(t.Name()) {
			kept = append(kept, t)
			continue
		}
		delete(ts.byName, t.Name())
	}
	ts.tools = kept
}

// Tools returns the roster in assembly order.
func (ts *Toolset) Tools() []Tool {
	return ts.tools
}

// Lookup finds a tool by name.
func (ts *Toolset) Lookup(name string) (Tool, bool) {
	t, ok := ts.byName[name]
	return t, ok
}

// Definitions returns the function specs sent to the model.
func (ts *Toolset) Definitions() []llms.Tool {
	defs := make([]llms.Tool, 0, len(ts.tools))
	for _, t := range ts.tools {
		defs = append(defs, Definition(t))
	}
	return defs
}

// Close releases registry connections.
func (ts *Toolset) Close() error {
	if ts.session == nil {
		return nil
	}
	return ts.session.Close()
}
