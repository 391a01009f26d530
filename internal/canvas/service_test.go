package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/phasegraph/internal/conditions"
	"github.com/rendis/phasegraph/internal/graph"
	"github.com/rendis/phasegraph/internal/logging"
	"github.com/rendis/phasegraph/internal/store"
	"github.com/rendis/phasegraph/internal/validation"
	"github.com/rendis/phasegraph/pkg/schema"
)

const qaDocumentYAML = `
workflow:
  id: qa-loop
  name: QA loop
templates:
  - id: spec
    name: Specification
    gate_type: human
  - id: qa_e2e_fix
    max_iterations: 5
  - id: review
    retry_from_phase: implement
phases:
  - id: "1"
    phase_template_id: spec
    sequence: 1
    position_x: 12.5
    position_y: -40
  - id: "2"
    phase_template_id: implement
    sequence: 2
    depends_on: [spec]
  - id: "3"
    phase_template_id: qa_e2e_test
    sequence: 3
  - id: "4"
    phase_template_id: qa_e2e_fix
    sequence: 4
    loop_config:
      condition: has_findings
      loop_to_phase: qa_e2e_test
  - id: "5"
    phase_template_id: review
    sequence: 5
`

func newTestService(t *testing.T) (*Service, *store.LibSQLStore) {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "canvas.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	evaluator, err := conditions.NewEvaluator(nil)
	require.NoError(t, err)
	svc, err := NewService(s, evaluator, Config{}, nil)
	require.NoError(t, err)
	return svc, s
}

func decode(t *testing.T, svc *Service, yamlDoc string) *schema.Document {
	t.Helper()
	doc, err := svc.Decode([]byte(yamlDoc), validation.FormatYAML)
	require.NoError(t, err)
	return doc
}

func importQA(t *testing.T, svc *Service) *schema.Workflow {
	t.Helper()
	wf, err := svc.Import(context.Background(), decode(t, svc, qaDocumentYAML))
	require.NoError(t, err)
	return wf
}

func edgeIDs(g *graph.Graph, kind graph.EdgeKind) []string {
	var ids []string
	for _, e := range g.EdgesOfKind(kind) {
		ids = append(ids, e.ID)
	}
	return ids
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	gErr, ok := err.(*schema.GraphError)
	require.True(t, ok, "want *schema.GraphError, got %T", err)
	assert.Equal(t, code, gErr.Code)
}

// --- Graph ---

func TestGraph_StoredWorkflow(t *testing.T) {
	svc, _ := newTestService(t)
	importQA(t, svc)

	g, err := svc.Graph(context.Background(), "qa-loop")
	require.NoError(t, err)
	require.Len(t, g.Nodes, 5)
	assert.Empty(t, g.Warnings)

	spec := g.Node(graph.NodeID("1"))
	require.NotNil(t, spec)
	assert.True(t, spec.Data.Persisted)
	assert.Equal(t, schema.Position{X: 12.5, Y: -40}, spec.Position)
	assert.Equal(t, "Specification", spec.Data.Name)
	assert.Equal(t, schema.GateHuman, spec.Data.GateType)

	impl := g.Node(graph.NodeID("2"))
	assert.False(t, impl.Data.Persisted)

	assert.Equal(t, []string{"dep-spec-implement"}, edgeIDs(g, graph.EdgeDependency))
	assert.Equal(t, []string{"loop-qa_e2e_fix-qa_e2e_test"}, edgeIDs(g, graph.EdgeLoop))
	assert.Equal(t, []string{"retry-review-implement"}, edgeIDs(g, graph.EdgeRetry))
	assert.Len(t, edgeIDs(g, graph.EdgeSequential), 4)
}

func TestGraph_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Graph(context.Background(), "missing")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestBuildDocument_UnknownConditionWarns(t *testing.T) {
	svc, _ := newTestService(t)
	doc := decode(t, svc, `
phases:
  - id: a
    phase_template_id: build
    sequence: 1
  - id: b
    phase_template_id: test
    sequence: 2
    loop_config: '{"condition":"when_ready","loop_to_phase":"build"}'
`)

	g, err := svc.BuildDocument(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, g.Warnings, 1)
	assert.Equal(t, schema.WarnUnknownLoopCondition, g.Warnings[0].Code)
	assert.Len(t, g.EdgesOfKind(graph.EdgeLoop), 1, "edge kept despite the warning")
}

func TestNewService_DefaultsEvaluator(t *testing.T) {
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "canvas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	svc, err := NewService(s, nil, Config{}, nil)
	require.NoError(t, err)
	ok, err := svc.EvaluateLoop(context.Background(), conditions.NotEmpty, conditions.Input{Output: `{"a":1}`})
	require.NoError(t, err)
	assert.True(t, ok)
}

// --- Import ---

func TestImport_GeneratesID(t *testing.T) {
	svc, _ := newTestService(t)
	doc := decode(t, svc, `
phases:
  - id: a
    phase_template_id: build
`)

	wf, err := svc.Import(context.Background(), doc)
	require.NoError(t, err)
	assert.Len(t, wf.ID, 36)
	assert.Equal(t, wf.ID, wf.Name)
}

func TestImport_RecordsPlacedPositions(t *testing.T) {
	svc, _ := newTestService(t)
	importQA(t, svc)

	revs, err := svc.LayoutHistory(context.Background(), "qa-loop", 0)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assert.Equal(t, store.ReasonImport, revs[0].Reason)
	assert.Equal(t, map[string]schema.Position{"spec": {X: 12.5, Y: -40}}, revs[0].Positions)
}

const inlineTemplateYAML = `
workflow:
  id: inline
templates:
  - id: spec
    name: Listed spec
phases:
  - id: "1"
    phase_template_id: spec
    template:
      id: spec
      name: Inline spec
  - id: "2"
    phase_template_id: implement
    depends_on: [spec]
  - id: "3"
    phase_template_id: review
    depends_on: [implement]
    template:
      id: review
      name: Review
      gate_type: human
      retry_from_phase: implement
`

func TestImport_StoresInlineTemplates(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	built, err := svc.BuildDocument(ctx, decode(t, svc, inlineTemplateYAML))
	require.NoError(t, err)
	require.Equal(t, []string{"retry-review-implement"}, edgeIDs(built, graph.EdgeRetry))

	_, err = svc.Import(ctx, decode(t, svc, inlineTemplateYAML))
	require.NoError(t, err)

	g, err := svc.Graph(ctx, "inline")
	require.NoError(t, err)
	assert.Equal(t, []string{"retry-review-implement"}, edgeIDs(g, graph.EdgeRetry))
	review := g.Node(graph.NodeID("3"))
	require.NotNil(t, review)
	assert.Equal(t, "Review", review.Data.Name)
	assert.Equal(t, schema.GateHuman, review.Data.GateType)

	tpl, err := s.GetTemplate(ctx, "spec")
	require.NoError(t, err)
	assert.Equal(t, "Listed spec", tpl.Name, "listed templates win over inline ones")
}

func TestImport_ReimportRecordsEmptyRevision(t *testing.T) {
	svc, _ := newTestService(t)
	importQA(t, svc)
	ctx := context.Background()

	unplaced := strings.Replace(qaDocumentYAML, "    position_x: 12.5\n    position_y: -40\n", "", 1)
	require.NotEqual(t, qaDocumentYAML, unplaced)
	_, err := svc.Import(ctx, decode(t, svc, unplaced))
	require.NoError(t, err)

	revs, err := svc.LayoutHistory(ctx, "qa-loop", 0)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, store.ReasonImport, revs[0].Reason)
	assert.Empty(t, revs[0].Positions)

	g, err := svc.Graph(ctx, "qa-loop")
	require.NoError(t, err)
	assert.False(t, g.Node(graph.NodeID("1")).Data.Persisted)
}

func TestImport_RejectsCycle(t *testing.T) {
	svc, _ := newTestService(t)
	doc := decode(t, svc, `
phases:
  - id: a
    phase_template_id: build
    depends_on: [test]
  - id: b
    phase_template_id: test
    depends_on: [build]
`)

	_, err := svc.Import(context.Background(), doc)
	requireCode(t, err, schema.ErrCodeCycleDetected)
	assert.Contains(t, err.Error(), "cycle detected involving phases: build, test")
}

func TestImport_BuiltinCannotBeOverwritten(t *testing.T) {
	svc, _ := newTestService(t)
	builtin := `
workflow:
  id: standard
  name: Standard
  is_builtin: true
phases:
  - id: a
    phase_template_id: build
`
	_, err := svc.Import(context.Background(), decode(t, svc, builtin))
	require.NoError(t, err)

	_, err = svc.Import(context.Background(), decode(t, svc, builtin))
	requireCode(t, err, schema.ErrCodePermissionDenied)
}

// --- Layout ---

func TestSaveLayout_MixedMode(t *testing.T) {
	svc, _ := newTestService(t)
	importQA(t, svc)
	ctx := context.Background()

	rev, err := svc.SaveLayout(ctx, "qa-loop", map[string]schema.Position{"implement": {X: 500, Y: 300}})
	require.NoError(t, err)
	assert.Equal(t, store.ReasonSave, rev.Reason)

	g, err := svc.Graph(ctx, "qa-loop")
	require.NoError(t, err)
	assert.False(t, g.Node(graph.NodeID("1")).Data.Persisted, "spec position replaced by the save")
	impl := g.Node(graph.NodeID("2"))
	assert.True(t, impl.Data.Persisted)
	assert.Equal(t, schema.Position{X: 500, Y: 300}, impl.Position)
}

func TestSaveLayout_UnknownPhase(t *testing.T) {
	svc, _ := newTestService(t)
	importQA(t, svc)

	_, err := svc.SaveLayout(context.Background(), "qa-loop", map[string]schema.Position{"ghost": {}})
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestResetLayout(t *testing.T) {
	svc, _ := newTestService(t)
	importQA(t, svc)
	ctx := context.Background()

	_, err := svc.ResetLayout(ctx, "qa-loop")
	require.NoError(t, err)

	g, err := svc.Graph(ctx, "qa-loop")
	require.NoError(t, err)
	for _, n := range g.Nodes {
		assert.False(t, n.Data.Persisted, n.ID)
	}
}

func TestRestoreLayout(t *testing.T) {
	svc, _ := newTestService(t)
	importQA(t, svc)
	ctx := context.Background()

	first, err := svc.SaveLayout(ctx, "qa-loop", map[string]schema.Position{"review": {X: 1, Y: 2}})
	require.NoError(t, err)
	_, err = svc.ResetLayout(ctx, "qa-loop")
	require.NoError(t, err)

	restored, err := svc.RestoreLayout(ctx, "qa-loop", first.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ReasonRestore, restored.Reason)

	g, err := svc.Graph(ctx, "qa-loop")
	require.NoError(t, err)
	assert.Equal(t, schema.Position{X: 1, Y: 2}, g.Node(graph.NodeID("5")).Position)

	revs, err := svc.LayoutHistory(ctx, "qa-loop", 2)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, restored.ID, revs[0].ID)
}

func TestSaveLayout_LogsCorrelation(t *testing.T) {
	svc, s := newTestService(t)
	importQA(t, svc)

	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: logging.FormatJSON, Writer: &buf})
	require.NoError(t, err)
	evaluator, err := conditions.NewEvaluator(logger)
	require.NoError(t, err)
	logged, err := NewService(s, evaluator, Config{}, logger)
	require.NoError(t, err)

	ctx := logging.WithTool(context.Background(), "phasegraph.save_layout")
	_, err = logged.SaveLayout(ctx, "qa-loop", map[string]schema.Position{"review": {X: 1, Y: 2}})
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "layout saved", rec["msg"])
	assert.Equal(t, "phasegraph.save_layout", rec["tool"])
	assert.Equal(t, "qa-loop", rec["workflow_id"])
	assert.Equal(t, store.ReasonSave, rec["reason"])
}

func TestRestoreLayout_OtherWorkflow(t *testing.T) {
	svc, _ := newTestService(t)
	importQA(t, svc)
	ctx := context.Background()
	other, err := svc.Import(ctx, decode(t, svc, "phases:\n  - id: a\n    phase_template_id: spec\n"))
	require.NoError(t, err)

	rev, err := svc.ResetLayout(ctx, other.ID)
	require.NoError(t, err)

	_, err = svc.RestoreLayout(ctx, "qa-loop", rev.ID)
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestLayout_BuiltinDenied(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Import(ctx, decode(t, svc, `
workflow:
  id: standard
  is_builtin: true
phases:
  - id: a
    phase_template_id: build
  - id: b
    phase_template_id: test
`))
	require.NoError(t, err)

	_, err = svc.SaveLayout(ctx, "standard", map[string]schema.Position{"build": {X: 1, Y: 1}})
	requireCode(t, err, schema.ErrCodePermissionDenied)
	assert.Contains(t, err.Error(), "cannot modify built-in workflow layout")

	_, err = svc.ResetLayout(ctx, "standard")
	requireCode(t, err, schema.ErrCodePermissionDenied)

	_, err = svc.Connect(ctx, "standard", "build", "test")
	requireCode(t, err, schema.ErrCodePermissionDenied)
}

// --- Connections ---

func TestConnect(t *testing.T) {
	svc, s := newTestService(t)
	importQA(t, svc)
	ctx := context.Background()

	g, err := svc.Connect(ctx, "qa-loop", "qa_e2e_test", "review")
	require.NoError(t, err)
	assert.Equal(t, []string{"dep-spec-implement", "dep-qa_e2e_test-review"}, edgeIDs(g, graph.EdgeDependency))

	phases, err := s.ListPhases(ctx, "qa-loop")
	require.NoError(t, err)
	assert.Equal(t, []string{"qa_e2e_test"}, phases[4].DependsOn)
}

func TestConnect_Rejected(t *testing.T) {
	svc, _ := newTestService(t)
	importQA(t, svc)

	tests := []struct {
		name           string
		source, target string
		code           string
	}{
		{"self", "spec", "spec", schema.ErrCodeSelfConnection},
		{"duplicate", "spec", "implement", schema.ErrCodeDuplicateConnection},
		{"cycle", "implement", "spec", schema.ErrCodeCycleDetected},
		{"unknown source", "ghost", "spec", schema.ErrCodeNotFound},
		{"unknown target", "spec", "ghost", schema.ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Connect(context.Background(), "qa-loop", tt.source, tt.target)
			requireCode(t, err, tt.code)
		})
	}
}

func TestDisconnect(t *testing.T) {
	svc, _ := newTestService(t)
	importQA(t, svc)
	ctx := context.Background()

	g, err := svc.Disconnect(ctx, "qa-loop", "spec", "implement")
	require.NoError(t, err)
	assert.Empty(t, g.EdgesOfKind(graph.EdgeDependency))

	_, err = svc.Disconnect(ctx, "qa-loop", "spec", "implement")
	requireCode(t, err, schema.ErrCodeNotFound)
}

// --- Validation ---

func TestValidate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Import(ctx, decode(t, svc, `
workflow:
  id: forward
phases:
  - id: a
    phase_template_id: build
    sequence: 1
    loop_config:
      condition: "cel:size(findings) > 0"
      loop_to_phase: test
  - id: b
    phase_template_id: test
    sequence: 2
`))
	require.NoError(t, err)

	result, err := svc.Validate(ctx, "forward")
	require.NoError(t, err)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, schema.WarnForwardLoop, result.Warnings[0].Code)

	_, err = svc.Validate(ctx, "missing")
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestValidateDocument_DanglingDependency(t *testing.T) {
	svc, _ := newTestService(t)
	doc := decode(t, svc, `
phases:
  - id: a
    phase_template_id: build
    depends_on: [lint]
`)

	result := svc.ValidateDocument(doc)
	assert.False(t, result.Valid())
	require.Len(t, result.Errors, 1)
	assert.Equal(t, schema.WarnDanglingDependency, result.Errors[0].Code)
}

func TestEvaluateLoop(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	fire, err := svc.EvaluateLoop(ctx, conditions.HasFindings, conditions.Input{Phase: "review", Output: `{"findings":["x"]}`})
	require.NoError(t, err)
	assert.True(t, fire)

	fire, err = svc.EvaluateLoop(ctx, `expr:status == "needs_fix"`, conditions.Input{Output: `{"status":"ok"}`})
	require.NoError(t, err)
	assert.False(t, fire)

	_, err = svc.EvaluateLoop(ctx, "sometimes", conditions.Input{Output: "{}"})
	requireCode(t, err, schema.ErrCodeValidation)
}

func TestWorkflows(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	empty, err := svc.Workflows(ctx, store.WorkflowFilter{})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	importQA(t, svc)
	workflows, err := svc.Workflows(ctx, store.WorkflowFilter{})
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "QA loop", workflows[0].Name)
}
