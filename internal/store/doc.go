// Package store provides SQLite-backed storage for inference runs.
//
// A run records the input events, the merged model's nodes and edges, and
// every error the run recovered from, keyed by the run id.
//
// # Ordering
//
// Runs are listed in insertion order (runs.seq). Events are read ORDER BY
// seq, and nodes, edges and errors ORDER BY ord, the order the pipeline
// produced them in, so a stored model reads back identical to the one
// written.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads while a run is written
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON: deleting a run deletes its rows
package store
