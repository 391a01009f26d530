package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/phasegraph/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate applies the embedded migrations the database has not seen yet.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db, migrationFiles)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

// SaveWorkflow upserts the workflow and templates and replaces the workflow's
// phases with wf.Phases, all in one transaction. Phase order in the slice is
// kept as the tie-breaker for equal sequences.
func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *schema.Workflow, templates []*schema.PhaseTemplate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save workflow: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := saveWorkflowTx(ctx, tx, wf, templates); err != nil {
		return err
	}
	return tx.Commit()
}

// ImportWorkflow is SaveWorkflow plus an import revision holding the placed
// positions of wf.Phases. The revision is recorded even when no phase is
// placed, so the newest revision always matches the stored layout.
func (s *LibSQLStore) ImportWorkflow(ctx context.Context, wf *schema.Workflow, templates []*schema.PhaseTemplate) (*LayoutRevision, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin import workflow: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := saveWorkflowTx(ctx, tx, wf, templates); err != nil {
		return nil, err
	}
	positions := make(map[string]schema.Position)
	for _, p := range wf.Phases {
		if pos := p.StoredPosition(); pos != nil {
			positions[p.PhaseTemplateID] = *pos
		}
	}
	rev, err := insertRevision(ctx, tx, wf.ID, positions, ReasonImport)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit import workflow: %w", err)
	}
	return rev, nil
}

func saveWorkflowTx(ctx context.Context, tx *sql.Tx, wf *schema.Workflow, templates []*schema.PhaseTemplate) error {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, is_builtin, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description,
		   is_builtin=excluded.is_builtin, updated_at=excluded.updated_at`,
		wf.ID, wf.Name, nullStr(wf.Description), wf.IsBuiltin, timeOrNow(wf.CreatedAt), now,
	)
	if err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}

	for _, tpl := range templates {
		if err := upsertTemplate(ctx, tx, tpl); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_phases WHERE workflow_id = ?`, wf.ID); err != nil {
		return fmt.Errorf("clear phases: %w", err)
	}
	for _, p := range wf.Phases {
		deps, err := json.Marshal(nonNilStrings(p.DependsOn))
		if err != nil {
			return fmt.Errorf("marshal depends_on: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO workflow_phases (id, workflow_id, phase_template_id, sequence, depends_on, loop_config,
			   max_iterations_override, gate_type_override, agent_override, position_x, position_y)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, wf.ID, p.PhaseTemplateID, p.Sequence, string(deps), nullStr(p.LoopConfig),
			nullInt(p.MaxIterationsOverride), nullStr(string(p.GateTypeOverride)), nullStr(p.AgentOverride),
			nullFloat(p.PositionX), nullFloat(p.PositionY),
		)
		if isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict,
				"phase %s duplicates an id or phase_template_id in workflow %s", p.ID, wf.ID).
				WithPhase(p.ID).WithCause(err)
		}
		if err != nil {
			return fmt.Errorf("insert phase %s: %w", p.ID, err)
		}
	}
	return nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, is_builtin, created_at, updated_at FROM workflows WHERE id = ?`, id,
	).Scan(&wf.ID, &wf.Name, &desc, &wf.IsBuiltin, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	wf.Description = desc.String
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	query := "SELECT id, name, description, is_builtin, created_at, updated_at FROM workflows"
	var args []any
	if filter.Builtin != nil {
		query += " WHERE is_builtin = ?"
		args = append(args, *filter.Builtin)
	}
	query += " ORDER BY name, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*schema.Workflow
	for rows.Next() {
		wf := &schema.Workflow{}
		var desc sql.NullString
		if err := rows.Scan(&wf.ID, &wf.Name, &desc, &wf.IsBuiltin, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, err
		}
		wf.Description = desc.String
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Phase templates ---

func (s *LibSQLStore) UpsertTemplate(ctx context.Context, tpl *schema.PhaseTemplate) error {
	return upsertTemplate(ctx, s.db, tpl)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertTemplate(ctx context.Context, db execer, tpl *schema.PhaseTemplate) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO phase_templates (id, name, description, max_iterations, gate_type, agent_id, retry_from_phase)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description,
		   max_iterations=excluded.max_iterations, gate_type=excluded.gate_type, agent_id=excluded.agent_id,
		   retry_from_phase=excluded.retry_from_phase, updated_at=CURRENT_TIMESTAMP`,
		tpl.ID, nullStr(tpl.Name), nullStr(tpl.Description), tpl.MaxIterations,
		nullStr(string(tpl.GateType)), nullStr(tpl.AgentID), nullStr(tpl.RetryFromPhase),
	)
	if err != nil {
		return fmt.Errorf("upsert template %s: %w", tpl.ID, err)
	}
	return nil
}

const templateColumns = `id, name, description, max_iterations, gate_type, agent_id, retry_from_phase`

func (s *LibSQLStore) GetTemplate(ctx context.Context, id string) (*schema.PhaseTemplate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM phase_templates WHERE id = ?`, id)
	tpl, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("phase template", id)
	}
	return tpl, err
}

func (s *LibSQLStore) ListTemplates(ctx context.Context) ([]*schema.PhaseTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM phase_templates ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*schema.PhaseTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row scanner) (*schema.PhaseTemplate, error) {
	tpl := &schema.PhaseTemplate{}
	var name, desc, gate, agent, retry sql.NullString
	if err := row.Scan(&tpl.ID, &name, &desc, &tpl.MaxIterations, &gate, &agent, &retry); err != nil {
		return nil, err
	}
	tpl.Name = name.String
	tpl.Description = desc.String
	tpl.GateType = schema.GateType(gate.String)
	tpl.AgentID = agent.String
	tpl.RetryFromPhase = retry.String
	return tpl, nil
}

// --- Phases ---

// ListPhases returns the workflow's phases joined with their templates,
// ordered by sequence and then insertion order. Phases whose template is
// not stored have a nil Template.
func (s *LibSQLStore) ListPhases(ctx context.Context, workflowID string) ([]*schema.Phase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.workflow_id, p.phase_template_id, p.sequence, p.depends_on, p.loop_config,
		        p.max_iterations_override, p.gate_type_override, p.agent_override, p.position_x, p.position_y,
		        t.id, t.name, t.description, t.max_iterations, t.gate_type, t.agent_id, t.retry_from_phase
		 FROM workflow_phases p
		 LEFT JOIN phase_templates t ON t.id = p.phase_template_id
		 WHERE p.workflow_id = ?
		 ORDER BY p.sequence, p.rowid`, workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	phases := []*schema.Phase{}
	for rows.Next() {
		p := &schema.Phase{}
		var (
			depsJSON                         string
			loopCfg, gateOverride, agentOver sql.NullString
			maxIterOverride                  sql.NullInt64
			posX, posY                       sql.NullFloat64
			tplID, tplName, tplDesc          sql.NullString
			tplGate, tplAgent, tplRetry      sql.NullString
			tplMaxIter                       sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.WorkflowID, &p.PhaseTemplateID, &p.Sequence, &depsJSON, &loopCfg,
			&maxIterOverride, &gateOverride, &agentOver, &posX, &posY,
			&tplID, &tplName, &tplDesc, &tplMaxIter, &tplGate, &tplAgent, &tplRetry); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(depsJSON), &p.DependsOn); err != nil {
			return nil, fmt.Errorf("unmarshal depends_on of phase %s: %w", p.ID, err)
		}
		p.LoopConfig = loopCfg.String
		if maxIterOverride.Valid {
			v := int(maxIterOverride.Int64)
			p.MaxIterationsOverride = &v
		}
		p.GateTypeOverride = schema.GateType(gateOverride.String)
		p.AgentOverride = agentOver.String
		if posX.Valid {
			p.PositionX = &posX.Float64
		}
		if posY.Valid {
			p.PositionY = &posY.Float64
		}
		if tplID.Valid {
			p.Template = &schema.PhaseTemplate{
				ID:             tplID.String,
				Name:           tplName.String,
				Description:    tplDesc.String,
				MaxIterations:  int(tplMaxIter.Int64),
				GateType:       schema.GateType(tplGate.String),
				AgentID:        tplAgent.String,
				RetryFromPhase: tplRetry.String,
			}
		}
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

func (s *LibSQLStore) UpdatePhaseDependencies(ctx context.Context, workflowID, phaseTemplateID string, deps []string) error {
	data, err := json.Marshal(nonNilStrings(deps))
	if err != nil {
		return fmt.Errorf("marshal depends_on: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_phases SET depends_on = ? WHERE workflow_id = ? AND phase_template_id = ?`,
		string(data), workflowID, phaseTemplateID,
	)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(res, "phase", phaseTemplateID); err != nil {
		return err
	}
	return s.touchWorkflow(ctx, workflowID)
}

// --- Layout ---

// SavePositions replaces the workflow's whole layout: phases named in
// positions (by phase template ID) get those coordinates, every other phase
// gets NULL. The new layout is recorded as a revision in the same
// transaction. A position for an unknown phase fails with NOT_FOUND and
// nothing is written.
func (s *LibSQLStore) SavePositions(ctx context.Context, workflowID string, positions map[string]schema.Position, reason string) (*LayoutRevision, error) {
	if positions == nil {
		positions = map[string]schema.Position{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin save positions: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE workflow_phases SET position_x = NULL, position_y = NULL WHERE workflow_id = ?`, workflowID,
	); err != nil {
		return nil, fmt.Errorf("clear positions: %w", err)
	}

	// Sorted keys keep the statement order, and the first reported miss, stable.
	keys := make([]string, 0, len(positions))
	for k := range positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, tplID := range keys {
		pos := positions[tplID]
		res, err := tx.ExecContext(ctx,
			`UPDATE workflow_phases SET position_x = ?, position_y = ? WHERE workflow_id = ? AND phase_template_id = ?`,
			pos.X, pos.Y, workflowID, tplID,
		)
		if err != nil {
			return nil, fmt.Errorf("update position of %s: %w", tplID, err)
		}
		if err := checkRowsAffected(res, "phase", tplID); err != nil {
			return nil, err
		}
	}

	rev, err := insertRevision(ctx, tx, workflowID, positions, reason)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE workflows SET updated_at = ? WHERE id = ?`, rev.CreatedAt, workflowID,
	); err != nil {
		return nil, fmt.Errorf("touch workflow: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit save positions: %w", err)
	}
	return rev, nil
}

func insertRevision(ctx context.Context, tx *sql.Tx, workflowID string, positions map[string]schema.Position, reason string) (*LayoutRevision, error) {
	snapshot, err := json.Marshal(positions)
	if err != nil {
		return nil, fmt.Errorf("marshal positions: %w", err)
	}
	rev := &LayoutRevision{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Positions:  positions,
		Reason:     reason,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO layout_revisions (id, workflow_id, positions, reason, created_at) VALUES (?, ?, ?, ?, ?)`,
		rev.ID, rev.WorkflowID, string(snapshot), rev.Reason, rev.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert layout revision: %w", err)
	}
	return rev, nil
}

func (s *LibSQLStore) GetLayoutRevision(ctx context.Context, id string) (*LayoutRevision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, positions, reason, created_at FROM layout_revisions WHERE id = ?`, id)
	rev, err := scanRevision(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("layout revision", id)
	}
	return rev, err
}

// ListLayoutRevisions returns the workflow's revisions, newest first.
// A non-positive limit returns all of them.
func (s *LibSQLStore) ListLayoutRevisions(ctx context.Context, workflowID string, limit int) ([]*LayoutRevision, error) {
	query := `SELECT id, workflow_id, positions, reason, created_at FROM layout_revisions
		 WHERE workflow_id = ? ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revs []*LayoutRevision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		revs = append(revs, rev)
	}
	return revs, rows.Err()
}

// PruneLayoutRevisions keeps the newest keep revisions of every workflow
// and deletes the rest. It returns the number of deleted revisions.
func (s *LibSQLStore) PruneLayoutRevisions(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM layout_revisions WHERE id IN (
		   SELECT id FROM (
		     SELECT id, ROW_NUMBER() OVER (PARTITION BY workflow_id ORDER BY created_at DESC, rowid DESC) AS rn
		     FROM layout_revisions
		   ) WHERE rn > ?
		 )`, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune layout revisions: %w", err)
	}
	return res.RowsAffected()
}

func scanRevision(row scanner) (*LayoutRevision, error) {
	rev := &LayoutRevision{}
	var positions string
	if err := row.Scan(&rev.ID, &rev.WorkflowID, &positions, &rev.Reason, &rev.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(positions), &rev.Positions); err != nil {
		return nil, fmt.Errorf("unmarshal revision positions: %w", err)
	}
	if rev.Positions == nil {
		rev.Positions = map[string]schema.Position{}
	}
	return rev, nil
}

func (s *LibSQLStore) touchWorkflow(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workflows SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

var _ Store = (*LibSQLStore)(nil)

// --- Helpers ---

func storeNotFound(resource, id string) *schema.GraphError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
