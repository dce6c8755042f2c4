package stories

import (
	"context"
	"encoding/json"

	"github.com/hazyhaar/hnfetch/kit"
	"github.com/hazyhaar/hnfetch/observability"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers all stories tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerFetch(srv)
	svc.registerJobStatus(srv)
	svc.registerQuery(srv)
	svc.registerRecentJobs(srv)
	svc.registerStats(srv)
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

// --- Fetch ---

func (svc *Service) registerFetch(srv *mcp.Server) {
	type req struct {
		MinScore *int    `json:"min_score"`
		Keyword  *string `json:"keyword"`
		Limit    int     `json:"limit"`
	}
	type resp struct {
		Job     *Job   `json:"job"`
		Created bool   `json:"created"`
		Message string `json:"message"`
	}

	tool := &mcp.Tool{
		Name:        "stories_fetch",
		Description: "Submit an asynchronous top-stories fetch; equivalent recent requests share one job",
		InputSchema: inputSchema(map[string]any{
			"min_score": map[string]any{"type": "integer", "description": "Keep stories at or above this score"},
			"keyword":   map[string]any{"type": "string", "description": "Keep stories whose title contains this, case-insensitive"},
			"limit":     map[string]any{"type": "integer", "description": "Max stories to store, 1-500 (default 100)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		job, created, err := svc.Submit(ctx, FetchRequest{
			MinScore: p.MinScore,
			Keyword:  p.Keyword,
			Limit:    p.Limit,
		})
		if err != nil {
			return nil, err
		}
		return &resp{Job: job, Created: created, Message: SubmitMessage(job, created)}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (svc *Service) registerJobStatus(srv *mcp.Server) {
	type req struct {
		JobID string `json:"job_id"`
	}

	tool := &mcp.Tool{
		Name:        "stories_job_status",
		Description: "Get the status and progress of a fetch job",
		InputSchema: inputSchema(map[string]any{
			"job_id": map[string]any{"type": "string", "description": "Job ID returned by stories_fetch"},
		}, []string{"job_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.JobStatus(ctx, p.JobID)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- Data ---

func (svc *Service) registerQuery(srv *mcp.Server) {
	type req struct {
		MinScore *int   `json:"min_score"`
		Keyword  string `json:"keyword"`
		OrderBy  string `json:"order_by"`
		OrderDir string `json:"order_dir"`
		Page     int    `json:"page"`
		PageSize int    `json:"page_size"`
	}

	tool := &mcp.Tool{
		Name:        "stories_query",
		Description: "Query stored stories with filtering, ordering and pagination",
		InputSchema: inputSchema(map[string]any{
			"min_score": map[string]any{"type": "integer", "description": "Minimum score"},
			"keyword":   map[string]any{"type": "string", "description": "Case-insensitive title substring"},
			"order_by":  map[string]any{"type": "string", "description": "Sort key: score, time, id"},
			"order_dir": map[string]any{"type": "string", "description": "Sort direction: asc, desc"},
			"page":      map[string]any{"type": "integer", "description": "1-based page number"},
			"page_size": map[string]any{"type": "integer", "description": "Items per page, 1-100 (default 20)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.QueryData(ctx, DataQuery{
			MinScore: p.MinScore,
			Keyword:  p.Keyword,
			OrderBy:  p.OrderBy,
			OrderDir: p.OrderDir,
			Page:     p.Page,
			PageSize: p.PageSize,
		})
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (svc *Service) registerRecentJobs(srv *mcp.Server) {
	type req struct {
		Limit int `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "stories_recent_jobs",
		Description: "List the most recent fetch jobs, newest first",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max jobs to return (default 20)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		limit := p.Limit
		if limit <= 0 {
			limit = 20
		}
		return svc.RecentJobs(ctx, limit)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- Stats ---

func (svc *Service) registerStats(srv *mcp.Server) {
	type resp struct {
		Stats  *Stats                        `json:"stats"`
		Events []observability.BusinessEvent `json:"recentEvents,omitempty"`
	}

	tool := &mcp.Tool{
		Name:        "stories_stats",
		Description: "Service statistics: stored item counts, job counts by status, recent activity",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		stats, err := svc.ServiceStats(ctx)
		if err != nil {
			return nil, err
		}
		out := &resp{Stats: stats}
		if svc.events != nil {
			events, err := svc.events.RecentEvents(ctx, "", 20)
			if err == nil {
				out.Events = events
			}
		}
		return out, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
