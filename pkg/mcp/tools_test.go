package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/phasegraph/internal/conditions"
	"github.com/rendis/phasegraph/internal/graph"
	"github.com/rendis/phasegraph/internal/store"
	"github.com/rendis/phasegraph/internal/validation"
	"github.com/rendis/phasegraph/pkg/schema"
)

// --- Mock Canvas ---

type mockCanvas struct {
	Canvas // embed for unimplemented methods

	phases    []*schema.Phase
	workflows []*schema.Workflow
	revisions []*store.LayoutRevision
	imported  []*schema.Document
	validated []string

	savedPositions map[string]schema.Position
	lastFilter     store.WorkflowFilter
	lastLimit      int
	connected      [][2]string

	err error
}

func newMockCanvas() *mockCanvas {
	return &mockCanvas{
		phases: []*schema.Phase{
			{ID: "1", PhaseTemplateID: "spec", Sequence: 1},
			{ID: "2", PhaseTemplateID: "implement", Sequence: 2, DependsOn: []string{"spec"}},
			{ID: "3", PhaseTemplateID: "review", Sequence: 3,
				LoopConfig: `{"condition":"has_findings","loop_to_phase":"implement","max_iterations":2}`},
		},
		workflows: []*schema.Workflow{{ID: "qa", Name: "QA"}},
	}
}

func (m *mockCanvas) Graph(_ context.Context, workflowID string) (*graph.Graph, error) {
	if m.err != nil {
		return nil, m.err
	}
	if workflowID != "qa" {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", workflowID)
	}
	return graph.Build(m.phases)
}

func (m *mockCanvas) Workflows(_ context.Context, filter store.WorkflowFilter) ([]*schema.Workflow, error) {
	m.lastFilter = filter
	return m.workflows, m.err
}

func (m *mockCanvas) BuildDocument(_ context.Context, doc *schema.Document) (*graph.Graph, error) {
	doc.JoinTemplates()
	return graph.Build(doc.Phases)
}

func (m *mockCanvas) Decode(data []byte, format validation.Format) (*schema.Document, error) {
	v, err := validation.NewDocumentValidator()
	if err != nil {
		return nil, err
	}
	return v.Decode(data, format)
}

func (m *mockCanvas) SaveLayout(_ context.Context, workflowID string, positions map[string]schema.Position) (*store.LayoutRevision, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.savedPositions = positions
	return &store.LayoutRevision{ID: "rev-1", WorkflowID: workflowID, Positions: positions, Reason: store.ReasonSave}, nil
}

func (m *mockCanvas) ResetLayout(_ context.Context, workflowID string) (*store.LayoutRevision, error) {
	return &store.LayoutRevision{ID: "rev-2", WorkflowID: workflowID, Positions: map[string]schema.Position{}, Reason: store.ReasonReset}, m.err
}

func (m *mockCanvas) RestoreLayout(_ context.Context, workflowID, revisionID string) (*store.LayoutRevision, error) {
	if revisionID != "rev-1" {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "layout revision %q not found", revisionID)
	}
	return &store.LayoutRevision{ID: "rev-3", WorkflowID: workflowID, Reason: store.ReasonRestore}, nil
}

func (m *mockCanvas) LayoutHistory(_ context.Context, _ string, limit int) ([]*store.LayoutRevision, error) {
	m.lastLimit = limit
	return m.revisions, m.err
}

func (m *mockCanvas) Connect(_ context.Context, _, source, target string) (*graph.Graph, error) {
	if source == target {
		return nil, schema.NewErrorf(schema.ErrCodeSelfConnection, "phase %q cannot depend on itself", source)
	}
	m.connected = append(m.connected, [2]string{source, target})
	return graph.Build(m.phases)
}

func (m *mockCanvas) Disconnect(_ context.Context, _, source, target string) (*graph.Graph, error) {
	m.connected = append(m.connected, [2]string{source, target})
	return graph.Build(m.phases)
}

func (m *mockCanvas) Validate(_ context.Context, workflowID string) (*schema.ValidationResult, error) {
	m.validated = append(m.validated, workflowID)
	return &schema.ValidationResult{}, m.err
}

func (m *mockCanvas) ValidateDocument(doc *schema.Document) *schema.ValidationResult {
	doc.JoinTemplates()
	result := &schema.ValidationResult{}
	for _, p := range doc.Phases {
		for _, dep := range p.DependsOn {
			if dep == "missing" {
				result.AddError(schema.PhasePath(p.ID, "depends_on"), schema.WarnDanglingDependency, "unknown phase missing")
			}
		}
	}
	return result
}

func (m *mockCanvas) Import(_ context.Context, doc *schema.Document) (*schema.Workflow, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.imported = append(m.imported, doc)
	return &schema.Workflow{ID: "imported", Name: "Imported", CreatedAt: time.Now().UTC()}, nil
}

func (m *mockCanvas) EvaluateLoop(_ context.Context, condition string, in conditions.Input) (bool, error) {
	if condition == "bogus" {
		return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown loop condition %q", condition)
	}
	return strings.Contains(in.Output, "findings"), nil
}

// --- Helper ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func newTestServer(c Canvas) *Server {
	return NewServer(ServerDeps{Canvas: c})
}

const docJSON = `{
  "workflow": {"id": "doc", "name": "Doc"},
  "phases": [
    {"id": "1", "phase_template_id": "spec", "sequence": 1},
    {"id": "2", "phase_template_id": "implement", "sequence": 2, "depends_on": ["spec"]}
  ]
}`

// --- Tests ---

func TestGraphTool_JSON(t *testing.T) {
	s := newTestServer(newMockCanvas())

	result, err := s.handleGraph(context.Background(), buildRequest("phasegraph.graph", map[string]any{
		"workflow_id": "qa",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var g graph.Graph
	unmarshalResult(t, result, &g)
	require.Len(t, g.Nodes, 3)
	assert.Equal(t, "phase-1", g.Nodes[0].ID)

	kinds := map[graph.EdgeKind]int{}
	for _, e := range g.Edges {
		kinds[e.Kind]++
	}
	assert.Equal(t, 2, kinds[graph.EdgeSequential])
	assert.Equal(t, 1, kinds[graph.EdgeDependency])
	assert.Equal(t, 1, kinds[graph.EdgeLoop])
}

func TestGraphTool_Mermaid(t *testing.T) {
	s := newTestServer(newMockCanvas())

	result, err := s.handleGraph(context.Background(), buildRequest("phasegraph.graph", map[string]any{
		"workflow_id": "qa",
		"format":      "mermaid",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := extractText(t, result)
	assert.True(t, strings.HasPrefix(text, "graph LR"))
	assert.Contains(t, text, "%% qa")
}

func TestGraphTool_PNG(t *testing.T) {
	s := newTestServer(newMockCanvas())

	result, err := s.handleGraph(context.Background(), buildRequest("phasegraph.graph", map[string]any{
		"workflow_id": "qa",
		"format":      "png",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	png, err := base64.StdEncoding.DecodeString(extractText(t, result))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}

func TestGraphTool_Document(t *testing.T) {
	s := newTestServer(newMockCanvas())

	result, err := s.handleGraph(context.Background(), buildRequest("phasegraph.graph", map[string]any{
		"document": docJSON,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var g graph.Graph
	unmarshalResult(t, result, &g)
	assert.Len(t, g.Nodes, 2)
}

func TestGraphTool_JQ(t *testing.T) {
	s := newTestServer(newMockCanvas())

	result, err := s.handleGraph(context.Background(), buildRequest("phasegraph.graph", map[string]any{
		"workflow_id": "qa",
		"jq":          "[.edges[] | select(.kind == \"loop\") | .data.label]",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var labels []string
	unmarshalResult(t, result, &labels)
	assert.Equal(t, []string{"has_findings ×2"}, labels)
}

func TestGraphTool_Errors(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"no source", map[string]any{}, "one of workflow_id or document is required"},
		{"bad format", map[string]any{"workflow_id": "qa", "format": "gif"}, `unknown format "gif"`},
		{"jq with mermaid", map[string]any{"workflow_id": "qa", "format": "mermaid", "jq": "."}, "jq can only be combined with format json"},
		{"bad document format", map[string]any{"document": docJSON, "document_format": "toml"}, "document_format must be json or yaml"},
		{"not found", map[string]any{"workflow_id": "nope"}, `"code":"NOT_FOUND"`},
		{"bad jq", map[string]any{"workflow_id": "qa", "jq": ".nodes["}, "jq:"},
	}

	s := newTestServer(newMockCanvas())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := s.handleGraph(context.Background(), buildRequest("phasegraph.graph", tc.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, extractText(t, result), tc.want)
		})
	}
}

func TestWorkflowsTool(t *testing.T) {
	mc := newMockCanvas()
	s := newTestServer(mc)

	result, err := s.handleWorkflows(context.Background(), buildRequest("phasegraph.workflows", map[string]any{}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Nil(t, mc.lastFilter.Builtin)
	assert.Equal(t, defaultWorkflowLimit, mc.lastFilter.Limit)

	var workflows []schema.Workflow
	unmarshalResult(t, result, &workflows)
	require.Len(t, workflows, 1)
	assert.Equal(t, "qa", workflows[0].ID)

	_, err = s.handleWorkflows(context.Background(), buildRequest("phasegraph.workflows", map[string]any{
		"builtin": true,
		"limit":   float64(5),
	}))
	require.NoError(t, err)
	require.NotNil(t, mc.lastFilter.Builtin)
	assert.True(t, *mc.lastFilter.Builtin)
	assert.Equal(t, 5, mc.lastFilter.Limit)
}

func TestSaveLayoutTool(t *testing.T) {
	mc := newMockCanvas()
	s := newTestServer(mc)

	result, err := s.handleSaveLayout(context.Background(), buildRequest("phasegraph.save_layout", map[string]any{
		"workflow_id": "qa",
		"positions": map[string]any{
			"spec": map[string]any{"x": float64(10), "y": float64(20)},
		},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	assert.Equal(t, map[string]schema.Position{"spec": {X: 10, Y: 20}}, mc.savedPositions)

	var rev store.LayoutRevision
	unmarshalResult(t, result, &rev)
	assert.Equal(t, "rev-1", rev.ID)
	assert.Equal(t, store.ReasonSave, rev.Reason)
}

func TestSaveLayoutTool_InvalidArgs(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing workflow", map[string]any{"positions": map[string]any{}}, "workflow_id is required"},
		{"missing positions", map[string]any{"workflow_id": "qa"}, "positions is required"},
		{"not an object", map[string]any{"workflow_id": "qa", "positions": "spec"}, "positions must be an object"},
		{"missing y", map[string]any{"workflow_id": "qa", "positions": map[string]any{
			"spec": map[string]any{"x": float64(1)},
		}}, `position of "spec" needs numeric x and y`},
	}

	s := newTestServer(newMockCanvas())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := s.handleSaveLayout(context.Background(), buildRequest("phasegraph.save_layout", tc.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, extractText(t, result), tc.want)
		})
	}
}

func TestSaveLayoutTool_PermissionDenied(t *testing.T) {
	mc := newMockCanvas()
	mc.err = schema.NewError(schema.ErrCodePermissionDenied, "cannot modify built-in workflow layout")
	s := newTestServer(mc)

	result, err := s.handleSaveLayout(context.Background(), buildRequest("phasegraph.save_layout", map[string]any{
		"workflow_id": "qa",
		"positions":   map[string]any{},
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)

	var ge schema.GraphError
	unmarshalResult(t, result, &ge)
	assert.Equal(t, schema.ErrCodePermissionDenied, ge.Code)
	assert.Equal(t, "cannot modify built-in workflow layout", ge.Message)
}

func TestResetAndRestoreLayoutTools(t *testing.T) {
	s := newTestServer(newMockCanvas())
	ctx := context.Background()

	result, err := s.handleResetLayout(ctx, buildRequest("phasegraph.reset_layout", map[string]any{"workflow_id": "qa"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var rev store.LayoutRevision
	unmarshalResult(t, result, &rev)
	assert.Equal(t, store.ReasonReset, rev.Reason)

	result, err = s.handleRestoreLayout(ctx, buildRequest("phasegraph.restore_layout", map[string]any{
		"workflow_id": "qa",
		"revision_id": "rev-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	unmarshalResult(t, result, &rev)
	assert.Equal(t, store.ReasonRestore, rev.Reason)

	result, err = s.handleRestoreLayout(ctx, buildRequest("phasegraph.restore_layout", map[string]any{
		"workflow_id": "qa",
		"revision_id": "rev-9",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "NOT_FOUND")

	result, err = s.handleRestoreLayout(ctx, buildRequest("phasegraph.restore_layout", map[string]any{"workflow_id": "qa"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "revision_id is required", extractText(t, result))
}

func TestLayoutHistoryTool(t *testing.T) {
	mc := newMockCanvas()
	mc.revisions = []*store.LayoutRevision{{ID: "rev-1", WorkflowID: "qa", Reason: store.ReasonSave}}
	s := newTestServer(mc)

	result, err := s.handleLayoutHistory(context.Background(), buildRequest("phasegraph.layout_history", map[string]any{
		"workflow_id": "qa",
		"limit":       float64(3),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, 3, mc.lastLimit)

	var revs []store.LayoutRevision
	unmarshalResult(t, result, &revs)
	require.Len(t, revs, 1)
	assert.Equal(t, "rev-1", revs[0].ID)
}

func TestConnectTool(t *testing.T) {
	mc := newMockCanvas()
	s := newTestServer(mc)

	result, err := s.handleConnect(context.Background(), buildRequest("phasegraph.connect", map[string]any{
		"workflow_id": "qa",
		"source":      "spec",
		"target":      "review",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	assert.Equal(t, [][2]string{{"spec", "review"}}, mc.connected)

	result, err = s.handleConnect(context.Background(), buildRequest("phasegraph.connect", map[string]any{
		"workflow_id": "qa",
		"source":      "spec",
		"target":      "spec",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	var ge schema.GraphError
	unmarshalResult(t, result, &ge)
	assert.Equal(t, schema.ErrCodeSelfConnection, ge.Code)
}

func TestConnectTool_MissingParams(t *testing.T) {
	s := newTestServer(newMockCanvas())

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"workflow", map[string]any{"source": "a", "target": "b"}, "workflow_id is required"},
		{"source", map[string]any{"workflow_id": "qa", "target": "b"}, "source is required"},
		{"target", map[string]any{"workflow_id": "qa", "source": "a"}, "target is required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := s.handleConnect(context.Background(), buildRequest("phasegraph.connect", tc.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Equal(t, tc.want, extractText(t, result))
		})
	}
}

func TestDisconnectTool(t *testing.T) {
	mc := newMockCanvas()
	s := newTestServer(mc)

	result, err := s.handleDisconnect(context.Background(), buildRequest("phasegraph.disconnect", map[string]any{
		"workflow_id": "qa",
		"source":      "spec",
		"target":      "implement",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, [][2]string{{"spec", "implement"}}, mc.connected)
}

func TestValidateTool(t *testing.T) {
	mc := newMockCanvas()
	s := newTestServer(mc)

	result, err := s.handleValidate(context.Background(), buildRequest("phasegraph.validate", map[string]any{
		"workflow_id": "qa",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, []string{"qa"}, mc.validated)

	bad := strings.Replace(docJSON, `"depends_on": ["spec"]`, `"depends_on": ["missing"]`, 1)
	result, err = s.handleValidate(context.Background(), buildRequest("phasegraph.validate", map[string]any{
		"document": bad,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var vr schema.ValidationResult
	unmarshalResult(t, result, &vr)
	require.Len(t, vr.Errors, 1)
	assert.Equal(t, schema.WarnDanglingDependency, vr.Errors[0].Code)
}

func TestImportTool(t *testing.T) {
	mc := newMockCanvas()
	s := newTestServer(mc)

	yamlDoc := "workflow:\n  id: doc\nphases:\n  - id: \"1\"\n    phase_template_id: spec\n    sequence: 1\n"
	result, err := s.handleImport(context.Background(), buildRequest("phasegraph.import", map[string]any{
		"document":        yamlDoc,
		"document_format": "yaml",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	require.Len(t, mc.imported, 1)
	assert.Equal(t, "spec", mc.imported[0].Phases[0].PhaseTemplateID)

	var wf schema.Workflow
	unmarshalResult(t, result, &wf)
	assert.Equal(t, "imported", wf.ID)
}

func TestImportTool_Errors(t *testing.T) {
	mc := newMockCanvas()
	s := newTestServer(mc)

	result, err := s.handleImport(context.Background(), buildRequest("phasegraph.import", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "document is required", extractText(t, result))

	result, err = s.handleImport(context.Background(), buildRequest("phasegraph.import", map[string]any{
		"document": `{"phases": "nope"}`,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeValidation)
	assert.Empty(t, mc.imported)

	mc.err = schema.NewError(schema.ErrCodeCycleDetected, "dependency cycle: spec -> implement -> spec")
	result, err = s.handleImport(context.Background(), buildRequest("phasegraph.import", map[string]any{
		"document": docJSON,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeCycleDetected)
}

func TestEvaluateLoopTool(t *testing.T) {
	s := newTestServer(newMockCanvas())

	result, err := s.handleEvaluateLoop(context.Background(), buildRequest("phasegraph.evaluate_loop", map[string]any{
		"condition": "has_findings",
		"output":    `{"findings": ["x"]}`,
		"phase":     "review",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, true, out["matched"])
	assert.Equal(t, "has_findings", out["condition"])

	result, err = s.handleEvaluateLoop(context.Background(), buildRequest("phasegraph.evaluate_loop", map[string]any{
		"condition": "bogus",
		"output":    "{}",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeValidation)

	result, err = s.handleEvaluateLoop(context.Background(), buildRequest("phasegraph.evaluate_loop", map[string]any{
		"condition": "has_findings",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "output is required", extractText(t, result))
}

func TestToolError_PlainError(t *testing.T) {
	result := toolError(assert.AnError)
	assert.True(t, result.IsError)
	assert.Equal(t, assert.AnError.Error(), extractText(t, result))
}

// --- Test helpers ---

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}
