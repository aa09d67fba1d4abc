//go:build integration

package graph

import (
	"context"
	"os"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newNeo4jWriter(t *testing.T) *Neo4jWriter {
	t.Helper()
	ctx := context.Background()

	cfg := Neo4jConfig{URI: os.Getenv("NEO4J_URI"), Username: os.Getenv("NEO4J_USERNAME"), Password: os.Getenv("NEO4J_PASSWORD")}
	if cfg.URI == "" {
		ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "neo4j:5-community",
				ExposedPorts: []string{"7687/tcp"},
				Env:          map[string]string{"NEO4J_AUTH": "none"},
				WaitingFor:   wait.ForLog("Started."),
			},
			Started: true,
		})
		if err != nil {
			t.Skipf("neo4j container unavailable: %v", err)
		}
		t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

		endpoint, err := ctr.PortEndpoint(ctx, "7687/tcp", "bolt")
		if err != nil {
			t.Fatalf("failed to get neo4j endpoint: %v", err)
		}
		cfg.URI = endpoint
	}

	w, err := NewNeo4jWriter(cfg)
	if err != nil {
		t.Fatalf("NewNeo4jWriter() error = %v", err)
	}
	t.Cleanup(func() { w.Close(context.Background()) })
	if err := w.VerifyConnectivity(ctx); err != nil {
		t.Skipf("neo4j unreachable: %v", err)
	}
	return w
}

func TestNeo4jWriter_SyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	w := newNeo4jWriter(t)
	p := NewProjector(seedFacts(t), nil, w, Config{Logger: newTestLogger()})

	for i := 0; i < 2; i++ {
		if _, err := p.Sync(ctx); err != nil {
			t.Fatalf("Sync() #%d error = %v", i+1, err)
		}
	}

	result, err := neo4j.ExecuteQuery(ctx, w.driver,
		`MATCH (:Gene {symbol: $gene})-[r:HAS_MUTATION]->(m:Mutation) RETURN count(r) AS n, sum(r.evidence_count) AS total`,
		map[string]any{"gene": "KRAS"},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(w.database))
	if err != nil {
		t.Fatalf("ExecuteQuery() error = %v", err)
	}
	rec := result.Records[0]
	n, _ := rec.Get("n")
	total, _ := rec.Get("total")
	if n != int64(2) || total != int64(3) {
		t.Errorf("KRAS mutations = %v edges, %v evidence; want 2 and 3", n, total)
	}
}
