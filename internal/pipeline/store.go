package pipeline

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Store loads and transactionally writes Workflow graphs, backed by the
// workflows/workflow_nodes/workflow_edges tables (spec §6.4/§6.5).
type Store struct {
	db *sql.DB
}

// NewStore wraps a *sql.DB for workflow persistence.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Load reads a workflow and its nodes/edges. Callers should call this
// once per cycle and hold the returned Workflow for the cycle's duration
// (spec §6.5: "the runtime reads the graph once per cycle").
func (s *Store) Load(workflowID string) (*Workflow, error) {
	wf := &Workflow{ID: workflowID}
	var userEdited int
	err := s.db.QueryRow(`SELECT name, is_user_edited FROM workflows WHERE id=?`, workflowID).Scan(&wf.Name, &userEdited)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	wf.UserEdited = userEdited == 1

	nodeRows, err := s.db.Query(`
		SELECT id, plugin_name, display_name, execution_order, enabled, config
		FROM workflow_nodes WHERE workflow_id=?`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow nodes: %w", err)
	}
	defer nodeRows.Close()
	for nodeRows.Next() {
		var n WorkflowNode
		var enabled int
		var configJSON string
		var displayName sql.NullString
		if err := nodeRows.Scan(&n.ID, &n.PluginName, &displayName, &n.ExecutionOrder, &enabled, &configJSON); err != nil {
			return nil, err
		}
		n.DisplayName = displayName.String
		n.Enabled = enabled == 1
		n.Config = map[string]any{}
		if configJSON != "" {
			if err := json.Unmarshal([]byte(configJSON), &n.Config); err != nil {
				return nil, fmt.Errorf("node %s config: %w", n.ID, err)
			}
		}
		wf.Nodes = append(wf.Nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, err
	}

	edgeRows, err := s.db.Query(`SELECT id, from_node, to_node, condition FROM workflow_edges WHERE workflow_id=?`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow edges: %w", err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var e WorkflowEdge
		var cond sql.NullString
		if err := edgeRows.Scan(&e.ID, &e.FromNode, &e.ToNode, &cond); err != nil {
			return nil, err
		}
		e.Condition = cond.String
		wf.Edges = append(wf.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, err
	}

	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, err)
	}
	return wf, nil
}

// Save transactionally replaces a workflow's nodes and edges (spec §6.5:
// "writes to the workflow graph are transactional"). It refuses to
// overwrite a user-edited workflow unless fromUser is true, implementing
// the plugin-auto-sync guard.
func (s *Store) Save(wf *Workflow, fromUser bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin workflow save tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if !fromUser {
		var userEdited int
		err := tx.QueryRow(`SELECT is_user_edited FROM workflows WHERE id=?`, wf.ID).Scan(&userEdited)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("check user-edit marker: %w", err)
		}
		if userEdited == 1 {
			return fmt.Errorf("workflow %s has a user-edit marker; auto-sync refused", wf.ID)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO workflows (id, name, is_user_edited) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, is_user_edited=excluded.is_user_edited, updated_at=CURRENT_TIMESTAMP
	`, wf.ID, wf.Name, boolToInt(fromUser)); err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM workflow_nodes WHERE workflow_id=?`, wf.ID); err != nil {
		return fmt.Errorf("clear workflow nodes: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM workflow_edges WHERE workflow_id=?`, wf.ID); err != nil {
		return fmt.Errorf("clear workflow edges: %w", err)
	}

	for _, n := range wf.Nodes {
		cfg, err := json.Marshal(n.Config)
		if err != nil {
			return fmt.Errorf("marshal node config: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO workflow_nodes (id, workflow_id, plugin_name, display_name, execution_order, enabled, config)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, n.ID, wf.ID, n.PluginName, n.DisplayName, n.ExecutionOrder, boolToInt(n.Enabled), string(cfg)); err != nil {
			return fmt.Errorf("insert node %s: %w", n.ID, err)
		}
	}
	for _, e := range wf.Edges {
		if _, err := tx.Exec(`
			INSERT INTO workflow_edges (id, workflow_id, from_node, to_node, condition) VALUES (?, ?, ?, ?, ?)
		`, e.ID, wf.ID, e.FromNode, e.ToNode, e.Condition); err != nil {
			return fmt.Errorf("insert edge %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
