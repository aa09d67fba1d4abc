package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jConfig holds connection settings.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4jWriter runs batches in managed write transactions.
type Neo4jWriter struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jWriter creates a driver for cfg. An empty username selects no auth.
func NewNeo4jWriter(cfg Neo4jConfig) (*Neo4jWriter, error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jWriter{driver: driver, database: database}, nil
}

// VerifyConnectivity checks that the server is reachable.
func (w *Neo4jWriter) VerifyConnectivity(ctx context.Context) error {
	return w.driver.VerifyConnectivity(ctx)
}

// WriteBatch implements Writer.
func (w *Neo4jWriter) WriteBatch(ctx context.Context, cypher string, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	session := w.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: w.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"rows": rowsParam(rows)})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to write %d rows: %w", len(rows), err)
	}
	return nil
}

// rowsParam converts rows to the []any shape the driver serializes.
func rowsParam(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

// Close releases the driver.
func (w *Neo4jWriter) Close(ctx context.Context) error {
	return w.driver.Close(ctx)
}
