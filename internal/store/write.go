package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/weave/internal/merge"
	"github.com/roach88/weave/internal/pipeline"
)

// SaveRun records a pipeline result in one transaction. source names the
// input (usually the log path). Saving the same run id twice fails.
func (s *Store) SaveRun(ctx context.Context, source string, res *pipeline.Result) (err error) {
	if res == nil || res.Model == nil {
		return fmt.Errorf("save run: result has no model")
	}

	cfgJSON, err := json.Marshal(res.Config)
	if err != nil {
		return fmt.Errorf("save run: encode config: %w", err)
	}
	statsJSON, err := json.Marshal(res.Stats)
	if err != nil {
		return fmt.Errorf("save run: encode stats: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save run: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, source, engine, config, log_hash, model_hash, partial, stats)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		res.RunID,
		res.StartedAt.UTC().Format(time.RFC3339Nano),
		source,
		res.Engine,
		string(cfgJSON),
		res.LogHash,
		res.ModelHash,
		boolInt(res.Partial),
		string(statsJSON),
	)
	if err != nil {
		return fmt.Errorf("save run: insert run: %w", err)
	}

	if err = insertEvents(ctx, tx, res); err != nil {
		return err
	}
	if err = insertModel(ctx, tx, res); err != nil {
		return err
	}
	if err = insertErrors(ctx, tx, res); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("save run: commit: %w", err)
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sql.Tx, res *pipeline.Result) error {
	if res.Log == nil {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_events (run_id, seq, trace_id, component_id, label, raw_timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save run: prepare events: %w", err)
	}
	defer stmt.Close()

	for _, e := range res.Log.Events() {
		if _, err := stmt.ExecContext(ctx, res.RunID, e.Seq, e.TraceID, e.ComponentID, e.Label, e.RawTimestamp); err != nil {
			return fmt.Errorf("save run: insert event %d: %w", e.Seq, err)
		}
	}
	return nil
}

func insertModel(ctx context.Context, tx *sql.Tx, res *pipeline.Result) error {
	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO model_nodes (run_id, ord, id, component_id, is_initial, is_accepting, members)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save run: prepare nodes: %w", err)
	}
	defer nodeStmt.Close()

	for i, n := range res.Model.Nodes() {
		members, err := json.Marshal(n.Members)
		if err != nil {
			return fmt.Errorf("save run: encode members of %s: %w", n.ID, err)
		}
		if _, err := nodeStmt.ExecContext(ctx, res.RunID, i, n.ID, n.Component, boolInt(n.Initial), boolInt(n.Accepting), string(members)); err != nil {
			return fmt.Errorf("save run: insert node %s: %w", n.ID, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO model_edges (run_id, ord, from_node, to_node, label, is_synchronization, origins)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save run: prepare edges: %w", err)
	}
	defer edgeStmt.Close()

	for i, e := range res.Model.Edges() {
		origins := e.Origins
		if origins == nil {
			origins = []merge.Boundary{}
		}
		data, err := json.Marshal(origins)
		if err != nil {
			return fmt.Errorf("save run: encode origins of %s: %w", e, err)
		}
		if _, err := edgeStmt.ExecContext(ctx, res.RunID, i, e.From, e.To, e.Label, boolInt(e.Sync), string(data)); err != nil {
			return fmt.Errorf("save run: insert edge %s: %w", e, err)
		}
	}
	return nil
}

func insertErrors(ctx context.Context, tx *sql.Tx, res *pipeline.Result) error {
	for i, e := range res.Errors {
		c := pipeline.Classify(e)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_errors (run_id, ord, category, code, component_id, trace_id, sequence_index, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, res.RunID, i, string(c.Category), c.Code, c.Component, c.TraceID, c.Seq, c.Message)
		if err != nil {
			return fmt.Errorf("save run: insert error %d: %w", i, err)
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
