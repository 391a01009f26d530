package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/phasegraph/internal/conditions"
	"github.com/rendis/phasegraph/internal/graph"
	"github.com/rendis/phasegraph/internal/layout"
	"github.com/rendis/phasegraph/internal/store"
	"github.com/rendis/phasegraph/internal/validation"
	"github.com/rendis/phasegraph/pkg/schema"
)

// Canvas is the service surface exposed as tools. Satisfied by *canvas.Service.
type Canvas interface {
	Graph(ctx context.Context, workflowID string) (*graph.Graph, error)
	Workflows(ctx context.Context, filter store.WorkflowFilter) ([]*schema.Workflow, error)
	BuildDocument(ctx context.Context, doc *schema.Document) (*graph.Graph, error)
	Decode(data []byte, format validation.Format) (*schema.Document, error)
	SaveLayout(ctx context.Context, workflowID string, positions map[string]schema.Position) (*store.LayoutRevision, error)
	ResetLayout(ctx context.Context, workflowID string) (*store.LayoutRevision, error)
	RestoreLayout(ctx context.Context, workflowID, revisionID string) (*store.LayoutRevision, error)
	LayoutHistory(ctx context.Context, workflowID string, limit int) ([]*store.LayoutRevision, error)
	Connect(ctx context.Context, workflowID, source, target string) (*graph.Graph, error)
	Disconnect(ctx context.Context, workflowID, source, target string) (*graph.Graph, error)
	Validate(ctx context.Context, workflowID string) (*schema.ValidationResult, error)
	ValidateDocument(doc *schema.Document) *schema.ValidationResult
	Import(ctx context.Context, doc *schema.Document) (*schema.Workflow, error)
	EvaluateLoop(ctx context.Context, condition string, in conditions.Input) (bool, error)
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Canvas Canvas
	// NodeSize is the card size used when rendering DOT, SVG and PNG.
	NodeSize layout.Size
	Version  string
	Logger   *slog.Logger
}

// Server wraps an MCP server with the phasegraph tool handlers.
type Server struct {
	canvas    Canvas
	jq        *conditions.GoJQEngine
	nodeSize  layout.Size
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with every tool registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		canvas:   deps.Canvas,
		jq:       conditions.NewGoJQEngine(),
		nodeSize: deps.NodeSize,
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"phasegraph",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("phasegraph lays out workflow phase graphs. Use phasegraph.graph to get the positioned graph, phasegraph.save_layout, phasegraph.reset_layout and phasegraph.restore_layout to edit positions, phasegraph.connect and phasegraph.disconnect to edit dependencies, and phasegraph.validate before importing a document."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: graphTool(), Handler: s.handleGraph},
		{Tool: workflowsTool(), Handler: s.handleWorkflows},
		{Tool: saveLayoutTool(), Handler: s.handleSaveLayout},
		{Tool: resetLayoutTool(), Handler: s.handleResetLayout},
		{Tool: restoreLayoutTool(), Handler: s.handleRestoreLayout},
		{Tool: layoutHistoryTool(), Handler: s.handleLayoutHistory},
		{Tool: connectTool(), Handler: s.handleConnect},
		{Tool: disconnectTool(), Handler: s.handleDisconnect},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: importTool(), Handler: s.handleImport},
		{Tool: evaluateLoopTool(), Handler: s.handleEvaluateLoop},
	}
}

// --- Tool definitions ---

func graphTool() mcp.Tool {
	return mcp.NewTool("phasegraph.graph",
		mcp.WithDescription("Build the positioned graph of a stored workflow or an inline document"),
		mcp.WithString("workflow_id", mcp.Description("ID of a stored workflow")),
		mcp.WithString("document", mcp.Description("Inline workflow document, used when workflow_id is empty")),
		mcp.WithString("document_format", mcp.Enum("json", "yaml"), mcp.Description("Encoding of document (default: json)")),
		mcp.WithString("format",
			mcp.Enum("json", "mermaid", "dot", "svg", "png"),
			mcp.Description("Output format (default: json). png is returned base64-encoded"),
		),
		mcp.WithString("jq", mcp.Description("jq filter applied to the JSON graph, e.g. '.nodes | map(.id)'")),
	)
}

func workflowsTool() mcp.Tool {
	return mcp.NewTool("phasegraph.workflows",
		mcp.WithDescription("List stored workflows"),
		mcp.WithBoolean("builtin", mcp.Description("Only built-in (true) or only custom (false) workflows")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of workflows (default: 50)")),
	)
}

func saveLayoutTool() mcp.Tool {
	return mcp.NewTool("phasegraph.save_layout",
		mcp.WithDescription("Replace a workflow's saved node positions"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithObject("positions", mcp.Required(),
			mcp.Description("Map of phase template ID to {x, y}. Phases left out return to automatic layout"),
		),
	)
}

func resetLayoutTool() mcp.Tool {
	return mcp.NewTool("phasegraph.reset_layout",
		mcp.WithDescription("Clear every saved position so the whole workflow is laid out automatically"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
	)
}

func restoreLayoutTool() mcp.Tool {
	return mcp.NewTool("phasegraph.restore_layout",
		mcp.WithDescription("Re-apply the positions of an earlier layout revision"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithString("revision_id", mcp.Required(), mcp.Description("ID of the revision to restore")),
	)
}

func layoutHistoryTool() mcp.Tool {
	return mcp.NewTool("phasegraph.layout_history",
		mcp.WithDescription("List a workflow's layout revisions, newest first"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of revisions (default: 20)")),
	)
}

func connectTool() mcp.Tool {
	return mcp.NewTool("phasegraph.connect",
		mcp.WithDescription("Make target depend on source. Rejects self-connections, duplicates and cycles"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithString("source", mcp.Required(), mcp.Description("Phase template ID that must run first")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Phase template ID that gains the dependency")),
	)
}

func disconnectTool() mcp.Tool {
	return mcp.NewTool("phasegraph.disconnect",
		mcp.WithDescription("Remove target's dependency on source"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithString("source", mcp.Required(), mcp.Description("Phase template ID depended upon")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Phase template ID losing the dependency")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("phasegraph.validate",
		mcp.WithDescription("Check a stored workflow or an inline document for dangling references and dependency cycles"),
		mcp.WithString("workflow_id", mcp.Description("ID of a stored workflow")),
		mcp.WithString("document", mcp.Description("Inline workflow document, used when workflow_id is empty")),
		mcp.WithString("document_format", mcp.Enum("json", "yaml"), mcp.Description("Encoding of document (default: json)")),
	)
}

func importTool() mcp.Tool {
	return mcp.NewTool("phasegraph.import",
		mcp.WithDescription("Validate and store a workflow document"),
		mcp.WithString("document", mcp.Required(), mcp.Description("Workflow document")),
		mcp.WithString("document_format", mcp.Enum("json", "yaml"), mcp.Description("Encoding of document (default: json)")),
	)
}

func evaluateLoopTool() mcp.Tool {
	return mcp.NewTool("phasegraph.evaluate_loop",
		mcp.WithDescription("Evaluate a loop condition against a phase output"),
		mcp.WithString("condition", mcp.Required(),
			mcp.Description("has_findings, not_empty, status_needs_fix, or an expression prefixed with cel:, expr: or jq:"),
		),
		mcp.WithString("output", mcp.Required(), mcp.Description("Raw phase output, usually JSON")),
		mcp.WithString("phase", mcp.Description("Phase template ID the output belongs to")),
	)
}
