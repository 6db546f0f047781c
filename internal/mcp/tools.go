package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/omomi/internal/deferral"
	"github.com/ashita-ai/omomi/internal/event"
	"github.com/ashita-ai/omomi/internal/queue"
)

func (s *Server) registerTools() {
	// omomi_stats: dispatcher counters and source states.
	s.mcpServer.AddTool(
		mcplib.NewTool("omomi_stats",
			mcplib.WithDescription("Report dispatcher state: queue depths, processed and failed event counts, and per-source scheduling stats"),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleStats,
	)

	// omomi_enqueue: queue an event for the dispatcher.
	s.mcpServer.AddTool(
		mcplib.NewTool("omomi_enqueue",
			mcplib.WithDescription(`Queue an event for the relevance engine.

kind is the event name (for example "update_message_score", "reindex", "unindex").
payload is the event's JSON body. durable routes index and score events through
the durable queue so they survive a restart.`),
			mcplib.WithString("kind", mcplib.Description("Event kind name"), mcplib.Required()),
			mcplib.WithString("payload", mcplib.Description("Event body as a JSON object")),
			mcplib.WithBoolean("durable", mcplib.Description("Persist the event before processing")),
			mcplib.WithReadOnlyHintAnnotation(false),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleEnqueue,
	)

	// omomi_defer: compute a deferral time.
	s.mcpServer.AddTool(
		mcplib.NewTool("omomi_defer",
			mcplib.WithDescription("Compute when a message deferred with the given type becomes due again"),
			mcplib.WithString("type", mcplib.Description("Deferral type, for example \"tonight\" or \"next_week\""), mcplib.Required()),
			mcplib.WithString("at", mcplib.Description("Target time for custom and due date deferrals (RFC3339)")),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleDefer,
	)

	if s.abate != nil {
		// omomi_set_abatement: pause or resume background work.
		s.mcpServer.AddTool(
			mcplib.NewTool("omomi_set_abatement",
				mcplib.WithDescription("Pause (abated=true) or resume (abated=false) background indexing and scoring work"),
				mcplib.WithBoolean("abated", mcplib.Description("Whether background work is paused"), mcplib.Required()),
				mcplib.WithReadOnlyHintAnnotation(false),
				mcplib.WithIdempotentHintAnnotation(true),
				mcplib.WithDestructiveHintAnnotation(false),
				mcplib.WithOpenWorldHintAnnotation(false),
			),
			s.handleSetAbatement,
		)
	}

	if s.searcher != nil {
		// omomi_search: rank an account's indexed documents.
		s.mcpServer.AddTool(
			mcplib.NewTool("omomi_search",
				mcplib.WithDescription("Search an account's indexed messages and contacts, best match first"),
				mcplib.WithNumber("account_id", mcplib.Description("Account to search"), mcplib.Required()),
				mcplib.WithString("query", mcplib.Description("Free text query"), mcplib.Required()),
				mcplib.WithNumber("limit", mcplib.Description("Maximum results (default 10, max 100)")),
				mcplib.WithReadOnlyHintAnnotation(true),
				mcplib.WithIdempotentHintAnnotation(true),
				mcplib.WithOpenWorldHintAnnotation(false),
			),
			s.handleSearch,
		)
	}
}

func (s *Server) handleStats(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	stats, err := s.engine.Stats(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("stats failed: %v", err)), nil
	}
	return jsonResult(stats)
}

type enqueueResult struct {
	Kind     string `json:"kind"`
	Durable  bool   `json:"durable"`
	RecordID int64  `json:"record_id,omitempty"`
}

func (s *Server) handleEnqueue(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("kind", "")
	if name == "" {
		return errorResult("kind is required"), nil
	}
	var payload []byte
	if p := request.GetString("payload", ""); p != "" {
		payload = []byte(p)
	}
	ev, err := event.ParseExternal(name, payload)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	res := enqueueResult{Kind: ev.Kind().String(), Durable: request.GetBool("durable", false)}
	if !res.Durable {
		s.engine.Enqueue(ev)
		return jsonResult(res)
	}
	rec, err := s.engine.EnqueueDurable(ctx, ev)
	if errors.Is(err, queue.ErrNotDurable) {
		return errorResult(err.Error()), nil
	}
	if err != nil {
		s.logger.Error("mcp: durable enqueue failed", "kind", res.Kind, "error", err)
		return errorResult(fmt.Sprintf("enqueue failed: %v", err)), nil
	}
	res.RecordID = rec.ID
	return jsonResult(res)
}

type abatementResult struct {
	Abated bool `json:"abated"`
}

func (s *Server) handleSetAbatement(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	on := request.GetBool("abated", false)
	s.abate.Set(on)
	s.logger.Info("abatement changed", "abated", on, "via", "mcp")
	return jsonResult(abatementResult{Abated: on})
}

type deferResult struct {
	Type  string    `json:"type"`
	From  time.Time `json:"from"`
	Until time.Time `json:"until"`
}

func (s *Server) handleDefer(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	t, err := deferral.ParseType(request.GetString("type", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	var at time.Time
	if v := request.GetString("at", ""); v != "" {
		at, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return errorResult("invalid at: expected RFC3339 format (e.g. 2024-01-01T00:00:00Z)"), nil
		}
	}
	from := s.now().In(s.location)
	until, err := deferral.Compute(from, t, at, s.location)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(deferResult{Type: t.String(), From: from, Until: until})
}

func (s *Server) handleSearch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	accountID := int64(request.GetInt("account_id", 0))
	if accountID <= 0 {
		return errorResult("account_id is required"), nil
	}
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	hits, err := s.searcher.Search(ctx, accountID, query, request.GetInt("limit", 10))
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}
	return jsonResult(hits)
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return textResult(string(data)), nil
}
