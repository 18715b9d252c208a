package adwatch

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/adwatch/kit"
)

// RegisterMCP registers all adwatch tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerAddSearch(srv)
	svc.registerListSearches(srv)
	svc.registerDeleteSearch(srv)
	svc.registerScanHistory(srv)
	svc.registerScanNow(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// ownedJSON decodes like kit.DecodeJSON and puts the request's owner id in
// the call context.
func ownedJSON[T any](owner func(*T) string) func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	decode := kit.DecodeJSON[T]()
	return func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		res, err := decode(r)
		if err != nil {
			return nil, err
		}
		id := owner(res.Request.(*T))
		res.EnrichCtx = func(ctx context.Context) context.Context { return kit.WithOwnerID(ctx, id) }
		return res, nil
	}
}

func (svc *Service) tool(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, kit.Logging(svc.logger, tool.Name)(endpoint), decode)
}

func (svc *Service) registerAddSearch(srv *mcp.Server) {
	type req struct {
		OwnerID  string `json:"owner_id"`
		URL      string `json:"url"`
		Keyword  string `json:"keyword"`
		MaxPrice int    `json:"max_price"`
	}

	tool := &mcp.Tool{
		Name:        "adwatch_add_search",
		Description: "Register a search on an allow-listed forum index page. Keyword: a-b-c requires all words, a.b.c any word.",
		InputSchema: inputSchema(map[string]any{
			"owner_id":  map[string]any{"type": "string", "description": "Owner (chat) ID"},
			"url":       map[string]any{"type": "string", "description": "Forum index URL"},
			"keyword":   map[string]any{"type": "string", "description": "Keyword expression"},
			"max_price": map[string]any{"type": "integer", "description": "Max price, 0 for no limit"},
		}, []string{"owner_id", "url", "keyword"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.AddSearch(ctx, p.OwnerID, p.URL, p.Keyword, p.MaxPrice)
	}

	svc.tool(srv, tool, endpoint, ownedJSON(func(p *req) string { return p.OwnerID }))
}

func (svc *Service) registerListSearches(srv *mcp.Server) {
	type req struct {
		OwnerID string `json:"owner_id"`
	}

	tool := &mcp.Tool{
		Name:        "adwatch_list_searches",
		Description: "List an owner's searches with their forum and watermark",
		InputSchema: inputSchema(map[string]any{
			"owner_id": map[string]any{"type": "string", "description": "Owner (chat) ID"},
		}, []string{"owner_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.ListSearches(ctx, p.OwnerID)
	}

	svc.tool(srv, tool, endpoint, ownedJSON(func(p *req) string { return p.OwnerID }))
}

func (svc *Service) registerDeleteSearch(srv *mcp.Server) {
	type req struct {
		OwnerID  string `json:"owner_id"`
		SearchID int64  `json:"search_id"`
	}

	tool := &mcp.Tool{
		Name:        "adwatch_delete_search",
		Description: "Delete one of an owner's searches",
		InputSchema: inputSchema(map[string]any{
			"owner_id":  map[string]any{"type": "string", "description": "Owner (chat) ID"},
			"search_id": map[string]any{"type": "integer", "description": "Search ID"},
		}, []string{"owner_id", "search_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if err := svc.DeleteSearch(ctx, p.OwnerID, p.SearchID); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": p.SearchID}, nil
	}

	svc.tool(srv, tool, endpoint, ownedJSON(func(p *req) string { return p.OwnerID }))
}

func (svc *Service) registerScanHistory(srv *mcp.Server) {
	type req struct {
		SearchID int64 `json:"search_id"`
		Limit    int   `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "adwatch_scan_history",
		Description: "Recent scan runs of a search, newest first",
		InputSchema: inputSchema(map[string]any{
			"search_id": map[string]any{"type": "integer", "description": "Search ID"},
			"limit":     map[string]any{"type": "integer", "description": "Max runs (default 20)"},
		}, []string{"search_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.ScanHistory(ctx, p.SearchID, p.Limit)
	}

	svc.tool(srv, tool, endpoint, kit.DecodeJSON[req]())
}

func (svc *Service) registerScanNow(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "adwatch_scan_now",
		Description: "Scan every search once now and deliver notifications",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return svc.ScanNow(ctx), nil
	}

	svc.tool(srv, tool, endpoint, kit.DecodeJSON[req]())
}
