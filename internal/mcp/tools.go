package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ultrathink/internal/orchestrator"
)

// Tool names.
const (
	ToolProcess    = "ultrathink_process"
	ToolStats      = "ultrathink_stats"
	ToolSearch     = "tool_search"
	ToolList       = "tool_list"
	defaultResults = 5
)

type processInput struct {
	Prompt               string   `json:"prompt" jsonschema:"The question or task to answer"`
	MinConfidence        *float64 `json:"min_confidence,omitempty" jsonschema:"Confidence (0-100) a response must reach"`
	MaxIterations        *int     `json:"max_iterations,omitempty" jsonschema:"Initial iteration limit (1-100)"`
	EnableAdaptiveLimits *bool    `json:"enable_adaptive_limits,omitempty" jsonschema:"Allow extending the limit while iterations keep improving"`
	Domain               string   `json:"domain,omitempty" jsonschema:"general, medical, legal, financial or technical"`
	TargetAudience       string   `json:"target_audience,omitempty" jsonschema:"general, patient, clinician or expert"`
	SourceDocuments      []string `json:"source_documents,omitempty" jsonschema:"Documents the answer must be grounded in"`
}

type processOutput struct {
	Success             bool     `json:"success"`
	Output              string   `json:"output"`
	Confidence          float64  `json:"confidence"`
	IterationsPerformed int      `json:"iterations_performed"`
	DurationSeconds     float64  `json:"duration_seconds"`
	RequestID           string   `json:"request_id"`
	Fingerprint         string   `json:"fingerprint"`
	Complexity          string   `json:"complexity"`
	Error               string   `json:"error,omitempty"`
	ErrorDetail         string   `json:"error_detail,omitempty"`
	FailedLayers        []string `json:"failed_layers,omitempty"`
}

type statsInput struct{}

type toolSearchInput struct {
	Query    string `json:"query" jsonschema:"Search query or regular expression matched against tool names, descriptions and keywords"`
	Category string `json:"category,omitempty" jsonschema:"Restrict results to a category (process, stats, search)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 5)"`
}

type toolSearchOutput struct {
	Query      string          `json:"query"`
	Results    []*SearchResult `json:"results"`
	Count      int             `json:"count"`
	TotalTools int             `json:"total_tools"`
}

type toolListInput struct {
	Category string `json:"category,omitempty" jsonschema:"Restrict the list to a category"`
}

type toolListOutput struct {
	Tools []*ToolMetadata `json:"tools"`
	Count int             `json:"count"`
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() error {
	s.toolRegistry.Register(&ToolMetadata{
		Name:        ToolProcess,
		Description: "Answer a prompt through iterative refinement until every guardrail passes and confidence reaches the threshold",
		Category:    CategoryProcess,
		Keywords:    []string{"answer", "refine", "guardrail", "confidence", "validate"},
	})
	s.toolRegistry.Register(&ToolMetadata{
		Name:        ToolStats,
		Description: "Aggregate statistics over every processed request",
		Category:    CategoryStats,
		Keywords:    []string{"metrics", "pass rate", "success rate"},
	})
	s.toolRegistry.Register(&ToolMetadata{
		Name:        ToolSearch,
		Description: "Search the available tools by name, description or keyword",
		Category:    CategorySearch,
		Keywords:    []string{"discover", "find"},
	})
	s.toolRegistry.Register(&ToolMetadata{
		Name:        ToolList,
		Description: "List the available tools",
		Category:    CategorySearch,
	})

	s.registerProcessTools()
	s.registerSearchTools()
	return nil
}

func (s *Server) description(name string) string {
	if md, ok := s.toolRegistry.Get(name); ok {
		return md.Description
	}
	return ""
}

func (s *Server) registerProcessTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolProcess,
		Description: s.description(ToolProcess),
	}, func(ctx context.Context, req *mcp.CallToolRequest, args processInput) (*mcp.CallToolResult, processOutput, error) {
		finished := s.metrics.processStarted(ctx)
		res, err := s.proc.Process(ctx, orchestrator.Request{
			Prompt: args.Prompt,
			Options: orchestrator.Options{
				MinConfidence:        args.MinConfidence,
				MaxIterations:        args.MaxIterations,
				EnableAdaptiveLimits: args.EnableAdaptiveLimits,
				Domain:               args.Domain,
				TargetAudience:       args.TargetAudience,
				SourceDocuments:      args.SourceDocuments,
			},
		})
		finished(res, err)
		if err != nil {
			s.logger.Warn(ctx, "process tool failed", zap.Error(err))
			return nil, processOutput{}, fmt.Errorf("process failed: %w", err)
		}

		out := processOutput{
			Success:             res.Success,
			Output:              s.scrubber.Redact(res.Output),
			Confidence:          res.Confidence,
			IterationsPerformed: res.IterationsPerformed,
			DurationSeconds:     res.Duration.Seconds(),
			RequestID:           res.RequestID,
			Fingerprint:         res.Fingerprint,
			Complexity:          string(res.Complexity.Class),
			Error:               string(res.Error),
			ErrorDetail:         s.scrubber.Redact(res.ErrorDetail),
		}
		for _, r := range res.FinalAggregate.PerLayer {
			if !r.Passed {
				out.FailedLayers = append(out.FailedLayers, string(r.Layer))
			}
		}

		text := out.Output
		if !out.Success {
			text = fmt.Sprintf("Request %s failed (%s) after %d iteration(s) at confidence %.1f: %s",
				out.RequestID, out.Error, out.IterationsPerformed, out.Confidence, out.ErrorDetail)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolStats,
		Description: s.description(ToolStats),
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ statsInput) (*mcp.CallToolResult, orchestrator.Stats, error) {
		start := time.Now()
		st := s.proc.Stats()
		s.metrics.record(ctx, ToolStats, outcomeSuccess, time.Since(start))
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(
				"%d request(s): %d succeeded, %d failed, average confidence %.1f",
				st.Requests, st.Successes, st.Failures, st.AvgConfidence)}},
		}, st, nil
	})
}

func (s *Server) registerSearchTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolSearch,
		Description: s.description(ToolSearch),
	}, func(ctx context.Context, req *mcp.CallToolRequest, args toolSearchInput) (*mcp.CallToolResult, toolSearchOutput, error) {
		if args.Query == "" {
			return nil, toolSearchOutput{}, fmt.Errorf("query is required")
		}
		limit := args.Limit
		if limit <= 0 {
			limit = defaultResults
		}

		results := s.toolRegistry.Search(args.Query, ToolCategory(args.Category))
		if len(results) > limit {
			results = results[:limit]
		}

		names := make([]string, 0, len(results))
		for _, r := range results {
			names = append(names, r.Tool.Name)
		}
		text := fmt.Sprintf("No tools found matching: %s", args.Query)
		if len(names) > 0 {
			text = fmt.Sprintf("Found %d tool(s) for query '%s': %s", len(names), args.Query, strings.Join(names, ", "))
		}

		out := toolSearchOutput{
			Query:      args.Query,
			Results:    results,
			Count:      len(results),
			TotalTools: s.toolRegistry.Count(),
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, out, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolList,
		Description: s.description(ToolList),
	}, func(ctx context.Context, req *mcp.CallToolRequest, args toolListInput) (*mcp.CallToolResult, toolListOutput, error) {
		tools := s.toolRegistry.List(ToolCategory(args.Category))
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Found %d tools", len(tools))}},
		}, toolListOutput{Tools: tools, Count: len(tools)}, nil
	})
}
