package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/phasegraph/internal/conditions"
	"github.com/rendis/phasegraph/internal/graph"
	"github.com/rendis/phasegraph/internal/logging"
	"github.com/rendis/phasegraph/internal/render"
	"github.com/rendis/phasegraph/internal/store"
	"github.com/rendis/phasegraph/internal/validation"
	"github.com/rendis/phasegraph/pkg/schema"
)

const defaultWorkflowLimit = 50

// handleGraph builds and renders the graph of a stored workflow or inline document.
func (s *Server) handleGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = logging.WithTool(ctx, "phasegraph.graph")
	format, err := render.ParseFormat(req.GetString("format", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filter := req.GetString("jq", "")
	if filter != "" && format != render.FormatJSON {
		return mcp.NewToolResultError("jq can only be combined with format json"), nil
	}

	g, title, res := s.loadGraph(ctx, req)
	if res != nil {
		return res, nil
	}

	if filter != "" {
		return s.queryGraph(ctx, g, filter)
	}

	out, err := render.Render(ctx, g, format, render.Options{
		Title: title,
		DOT:   render.DOTOptions{NodeSize: s.nodeSize},
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "render failed", slog.String("format", string(format)), slog.String("error", err.Error()))
		return mcp.NewToolResultError(fmt.Sprintf("render failed: %v", err)), nil
	}

	switch format {
	case render.FormatJSON:
		return mcp.NewToolResultJSON(json.RawMessage(out))
	case render.FormatPNG:
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(out)), nil
	default:
		return mcp.NewToolResultText(string(out)), nil
	}
}

// loadGraph builds the graph named by workflow_id, or by the inline document.
// A non-nil result is an error to hand back to the client.
func (s *Server) loadGraph(ctx context.Context, req mcp.CallToolRequest) (*graph.Graph, string, *mcp.CallToolResult) {
	if workflowID := req.GetString("workflow_id", ""); workflowID != "" {
		g, err := s.canvas.Graph(ctx, workflowID)
		if err != nil {
			return nil, "", toolError(err)
		}
		return g, workflowID, nil
	}

	doc, res := s.decodeDocument(req)
	if res != nil {
		return nil, "", res
	}
	g, err := s.canvas.BuildDocument(ctx, doc)
	if err != nil {
		return nil, "", toolError(err)
	}
	title := ""
	if doc.Workflow != nil {
		title = doc.Workflow.Name
	}
	return g, title, nil
}

// queryGraph runs a jq filter over the JSON form of g.
func (s *Server) queryGraph(ctx context.Context, g *graph.Graph, filter string) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal graph: %v", err)), nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal graph: %v", err)), nil
	}
	results, err := s.jq.Query(ctx, filter, v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("jq: %v", err)), nil
	}
	if len(results) == 1 {
		return marshalResult(results[0])
	}
	return marshalResult(results)
}

// handleWorkflows lists stored workflows.
func (s *Server) handleWorkflows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = logging.WithTool(ctx, "phasegraph.workflows")
	filter := store.WorkflowFilter{Limit: req.GetInt("limit", defaultWorkflowLimit)}
	if _, ok := req.GetArguments()["builtin"]; ok {
		builtin := req.GetBool("builtin", false)
		filter.Builtin = &builtin
	}
	workflows, err := s.canvas.Workflows(ctx, filter)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(workflows)
}

// handleSaveLayout replaces a workflow's saved positions.
func (s *Server) handleSaveLayout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = logging.WithTool(ctx, "phasegraph.save_layout")
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	raw, ok := req.GetArguments()["positions"]
	if !ok {
		return mcp.NewToolResultError("positions is required"), nil
	}
	positions, err := parsePositions(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rev, err := s.canvas.SaveLayout(ctx, workflowID, positions)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(rev)
}

// handleResetLayout clears every saved position.
func (s *Server) handleResetLayout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = logging.WithTool(ctx, "phasegraph.reset_layout")
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	rev, err := s.canvas.ResetLayout(ctx, workflowID)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(rev)
}

// handleRestoreLayout re-applies an earlier layout revision.
func (s *Server) handleRestoreLayout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = logging.WithTool(ctx, "phasegraph.restore_layout")
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	revisionID, err := req.RequireString("revision_id")
	if err != nil {
		return mcp.NewToolResultError("revision_id is required"), nil
	}
	rev, err := s.canvas.RestoreLayout(ctx, workflowID, revisionID)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(rev)
}

// handleLayoutHistory lists layout revisions.
func (s *Server) handleLayoutHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = logging.WithTool(ctx, "phasegraph.layout_history")
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	revs, err := s.canvas.LayoutHistory(ctx, workflowID, req.GetInt("limit", 0))
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(revs)
}

// handleConnect adds a dependency edge.
func (s *Server) handleConnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = logging.WithTool(ctx, "phasegraph.connect")
	workflowID, source, target, res := edgeArgs(req)
	if res != nil {
		return res, nil
	}
	g, err := s.canvas.Connect(ctx, workflowID, source, target)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(g)
}

// handleDisconnect removes a dependency edge.
func (s *Server) handleDisconnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = logging.WithTool(ctx, "phasegraph.disconnect")
	workflowID, source, target, res := edgeArgs(req)
	if res != nil {
		return res, nil
	}
	g, err := s.canvas.Disconnect(ctx, workflowID, source, target)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(g)
}

func edgeArgs(req mcp.CallToolRequest) (workflowID, source, target string, res *mcp.CallToolResult) {
	var err error
	if workflowID, err = req.RequireString("workflow_id"); err != nil {
		return "", "", "", mcp.NewToolResultError("workflow_id is required")
	}
	if source, err = req.RequireString("source"); err != nil {
		return "", "", "", mcp.NewToolResultError("source is required")
	}
	if target, err = req.RequireString("target"); err != nil {
		return "", "", "", mcp.NewToolResultError("target is required")
	}
	return workflowID, source, target, nil
}

// handleValidate checks a stored workflow or an inline document.
func (s *Server) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = logging.WithTool(ctx, "phasegraph.validate")
	if workflowID := req.GetString("workflow_id", ""); workflowID != "" {
		result, err := s.canvas.Validate(ctx, workflowID)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(result)
	}

	doc, res := s.decodeDocument(req)
	if res != nil {
		return res, nil
	}
	return marshalResult(s.canvas.ValidateDocument(doc))
}

// handleImport validates and stores a workflow document.
func (s *Server) handleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = logging.WithTool(ctx, "phasegraph.import")
	if _, err := req.RequireString("document"); err != nil {
		return mcp.NewToolResultError("document is required"), nil
	}
	doc, res := s.decodeDocument(req)
	if res != nil {
		return res, nil
	}
	wf, err := s.canvas.Import(ctx, doc)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(wf)
}

// handleEvaluateLoop evaluates a loop condition against a phase output.
func (s *Server) handleEvaluateLoop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = logging.WithTool(ctx, "phasegraph.evaluate_loop")
	condition, err := req.RequireString("condition")
	if err != nil {
		return mcp.NewToolResultError("condition is required"), nil
	}
	output, err := req.RequireString("output")
	if err != nil {
		return mcp.NewToolResultError("output is required"), nil
	}

	matched, err := s.canvas.EvaluateLoop(ctx, condition, conditions.Input{
		Phase:  req.GetString("phase", ""),
		Output: output,
	})
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(map[string]any{
		"condition": condition,
		"matched":   matched,
	})
}

// decodeDocument parses the document argument.
func (s *Server) decodeDocument(req mcp.CallToolRequest) (*schema.Document, *mcp.CallToolResult) {
	raw := req.GetString("document", "")
	if raw == "" {
		return nil, mcp.NewToolResultError("one of workflow_id or document is required")
	}
	format := validation.Format(req.GetString("document_format", string(validation.FormatJSON)))
	if format != validation.FormatJSON && format != validation.FormatYAML {
		return nil, mcp.NewToolResultError("document_format must be json or yaml")
	}
	doc, err := s.canvas.Decode([]byte(raw), format)
	if err != nil {
		return nil, toolError(err)
	}
	return doc, nil
}

// parsePositions converts the positions argument into canvas positions.
func parsePositions(raw any) (map[string]schema.Position, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("positions must be an object keyed by phase template ID")
	}
	out := make(map[string]schema.Position, len(obj))
	for id, v := range obj {
		p, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("position of %q must be an object with x and y", id)
		}
		x, xok := p["x"].(float64)
		y, yok := p["y"].(float64)
		if !xok || !yok {
			return nil, fmt.Errorf("position of %q needs numeric x and y", id)
		}
		out[id] = schema.Position{X: x, Y: y}
	}
	return out, nil
}

// toolError reports err to the client. Structured errors keep their code.
func toolError(err error) *mcp.CallToolResult {
	var ge *schema.GraphError
	if errors.As(err, &ge) {
		data, mErr := json.Marshal(ge)
		if mErr == nil {
			return mcp.NewToolResultError(string(data))
		}
	}
	return mcp.NewToolResultError(err.Error())
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
