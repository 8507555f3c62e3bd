package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/weave/internal/config"
	"github.com/roach88/weave/internal/eventlog"
	"github.com/roach88/weave/internal/merge"
	"github.com/roach88/weave/internal/pipeline"
)

// Run is a stored run's header.
type Run struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	Source     string         `json:"source"`
	Engine     string         `json:"engine"`
	Config     config.Config  `json:"config"`
	LogHash    string         `json:"log_hash"`
	ModelHash  string         `json:"model_hash"`
	Partial    bool           `json:"partial"`
	Stats      pipeline.Stats `json:"stats"`
	ErrorCount int            `json:"error_count"`
}

const runColumns = `
	r.id, r.started_at, r.source, r.engine, r.config, r.log_hash, r.model_hash, r.partial, r.stats,
	(SELECT COUNT(*) FROM run_errors e WHERE e.run_id = r.id)
`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r                 Run
		startedAt         string
		cfgJSON, statsRaw string
		partial           int
	)
	if err := row.Scan(&r.ID, &startedAt, &r.Source, &r.Engine, &cfgJSON, &r.LogHash, &r.ModelHash, &partial, &statsRaw, &r.ErrorCount); err != nil {
		return Run{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("run %s: parse started_at: %w", r.ID, err)
	}
	r.StartedAt = t
	r.Partial = partial != 0
	if err := json.Unmarshal([]byte(cfgJSON), &r.Config); err != nil {
		return Run{}, fmt.Errorf("run %s: decode config: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(statsRaw), &r.Stats); err != nil {
		return Run{}, fmt.Errorf("run %s: decode stats: %w", r.ID, err)
	}
	return r, nil
}

// ListRuns returns every run in insertion order.
// Returns an empty slice (not nil) when the store is empty.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs r ORDER BY r.seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run header.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// LatestRun returns the most recently saved run.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r ORDER BY r.seq DESC LIMIT 1`)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("latest run: %w", err)
	}
	return r, nil
}

func (s *Store) requireRun(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	return err
}

// ReadEvents returns a run's input events ordered by sequence index.
func (s *Store) ReadEvents(ctx context.Context, runID string) ([]eventlog.Event, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, seq, component_id, label, raw_timestamp
		FROM run_events
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []eventlog.Event{}
	for rows.Next() {
		var e eventlog.Event
		if err := rows.Scan(&e.TraceID, &e.Seq, &e.ComponentID, &e.Label, &e.RawTimestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// ReadGraph returns a run's merged model in exchange form.
func (s *Store) ReadGraph(ctx context.Context, runID string) (merge.Graph, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return merge.Graph{}, err
	}

	g := merge.Graph{Nodes: []merge.GraphNode{}, Edges: []merge.GraphEdge{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, component_id, is_initial, is_accepting
		FROM model_nodes
		WHERE run_id = ?
		ORDER BY ord ASC
	`, runID)
	if err != nil {
		return merge.Graph{}, fmt.Errorf("query nodes: %w", err)
	}
	for rows.Next() {
		var n merge.GraphNode
		var initial, accepting int
		if err := rows.Scan(&n.ID, &n.ComponentID, &initial, &accepting); err != nil {
			rows.Close()
			return merge.Graph{}, fmt.Errorf("scan node: %w", err)
		}
		n.IsInitial = initial != 0
		n.IsAccepting = accepting != 0
		g.Nodes = append(g.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return merge.Graph{}, fmt.Errorf("iterate nodes: %w", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT from_node, to_node, label, is_synchronization
		FROM model_edges
		WHERE run_id = ?
		ORDER BY ord ASC
	`, runID)
	if err != nil {
		return merge.Graph{}, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e merge.GraphEdge
		var sync int
		if err := rows.Scan(&e.From, &e.To, &e.Label, &sync); err != nil {
			return merge.Graph{}, fmt.Errorf("scan edge: %w", err)
		}
		e.IsSynchronization = sync != 0
		g.Edges = append(g.Edges, e)
	}
	if err := rows.Err(); err != nil {
		return merge.Graph{}, fmt.Errorf("iterate edges: %w", err)
	}
	return g, nil
}

// LoadModel rebuilds a run's GlobalModel.
func (s *Store) LoadModel(ctx context.Context, runID string) (*merge.GlobalModel, error) {
	g, err := s.ReadGraph(ctx, runID)
	if err != nil {
		return nil, err
	}
	m, err := merge.FromGraph(g)
	if err != nil {
		return nil, fmt.Errorf("run %s: stored model is inconsistent: %w", runID, err)
	}
	return m, nil
}

// ReadSyncOrigins returns, per synchronization edge ord, the witness pairs it
// was stitched from.
func (s *Store) ReadSyncOrigins(ctx context.Context, runID string) (map[int][]merge.Boundary, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ord, origins
		FROM model_edges
		WHERE run_id = ? AND is_synchronization = 1
		ORDER BY ord ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query origins: %w", err)
	}
	defer rows.Close()

	out := make(map[int][]merge.Boundary)
	for rows.Next() {
		var ord int
		var raw string
		if err := rows.Scan(&ord, &raw); err != nil {
			return nil, fmt.Errorf("scan origins: %w", err)
		}
		var b []merge.Boundary
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("decode origins of edge %d: %w", ord, err)
		}
		out[ord] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate origins: %w", err)
	}
	return out, nil
}

// ReadErrors returns a run's recovered errors in the order they were raised.
func (s *Store) ReadErrors(ctx context.Context, runID string) ([]pipeline.Classified, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, code, component_id, trace_id, sequence_index, message
		FROM run_errors
		WHERE run_id = ?
		ORDER BY ord ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query errors: %w", err)
	}
	defer rows.Close()

	out := []pipeline.Classified{}
	for rows.Next() {
		var c pipeline.Classified
		var category string
		if err := rows.Scan(&category, &c.Code, &c.Component, &c.TraceID, &c.Seq, &c.Message); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		c.Category = pipeline.Category(category)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate errors: %w", err)
	}
	return out, nil
}
