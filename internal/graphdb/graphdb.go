// Package graphdb loads a batch's classes, methods, inheritance and call
// edges into Neo4j with batched UNWIND upserts.
package graphdb

import (
	"context"
	"fmt"

	"classmorph/internal/callgraph"
	"classmorph/internal/classfile"
	"classmorph/internal/disasm"
	"classmorph/internal/logging"

	"github.com/charmbracelet/log"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// DefaultBatchSize is the number of rows sent per UNWIND statement.
const DefaultBatchSize = 1000

type runner func(ctx context.Context, cypher string, params map[string]any) error

// Loader writes graph rows to a Neo4j database.
type Loader struct {
	driver    neo4j.DriverWithContext
	run       runner
	log       *log.Logger
	BatchSize int
}

// NewLoader connects to Neo4j and checks connectivity.
func NewLoader(ctx context.Context, uri, user, password string, lg *log.Logger) (*Loader, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("graphdb: driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("graphdb: connect %s: %w", uri, err)
	}
	l := newLoader(func(ctx context.Context, cypher string, params map[string]any) error {
		_, err := neo4j.ExecuteQuery(ctx, driver, cypher, params, neo4j.EagerResultTransformer)
		return err
	}, lg)
	l.driver = driver
	return l, nil
}

func newLoader(run runner, lg *log.Logger) *Loader {
	if lg == nil {
		lg = logging.Discard()
	}
	return &Loader{run: run, log: lg, BatchSize: DefaultBatchSize}
}

// Close releases the driver.
func (l *Loader) Close(ctx context.Context) error {
	if l.driver == nil {
		return nil
	}
	return l.driver.Close(ctx)
}

// CleanGraph removes every node and relationship a previous load created.
func (l *Loader) CleanGraph(ctx context.Context) error {
	l.log.Info("cleaning graph")
	for _, q := range []string{
		"MATCH ()-[r:CALLS]->() DELETE r",
		"MATCH ()-[r:EXTENDS|IMPLEMENTS]->() DELETE r",
		"MATCH ()-[r:DECLARES]->() DELETE r",
		"MATCH (n:JvmMethod) DETACH DELETE n",
		"MATCH (n:JvmClass) DETACH DELETE n",
	} {
		if err := l.run(ctx, q, nil); err != nil {
			return fmt.Errorf("graphdb: clean: %w", err)
		}
	}
	return nil
}

// CreateIndexes ensures the lookup indexes exist.
func (l *Loader) CreateIndexes(ctx context.Context) error {
	for _, q := range []string{
		"CREATE INDEX jvm_class_name IF NOT EXISTS FOR (n:JvmClass) ON (n.name)",
		"CREATE INDEX jvm_method_key IF NOT EXISTS FOR (n:JvmMethod) ON (n.key)",
	} {
		if err := l.run(ctx, q, nil); err != nil {
			return fmt.Errorf("graphdb: index: %w", err)
		}
	}
	return nil
}

// ClassRow describes one class node.
type ClassRow struct {
	Name       string
	Super      string
	Interfaces []string
	Interface  bool
	Package    string
}

// Classes describes the classes of a batch.
func Classes(cs []*classfile.Class) []ClassRow {
	rows := make([]ClassRow, 0, len(cs))
	for _, c := range cs {
		rows = append(rows, ClassRow{
			Name:       c.Name(),
			Super:      c.SuperName(),
			Interfaces: c.InterfaceNames(),
			Interface:  c.IsInterface(),
			Package:    classfile.Package(c.Name()),
		})
	}
	return rows
}

// LoadClasses upserts JvmClass nodes.
func (l *Loader) LoadClasses(ctx context.Context, rows []ClassRow) error {
	l.log.Info("loading classes", "count", len(rows))
	return batched(ctx, l, rows, func(r ClassRow) map[string]any {
		return map[string]any{
			"name": r.Name, "super": r.Super, "package": r.Package,
			"interface": r.Interface, "interfaces": r.Interfaces,
		}
	}, `UNWIND $batch AS row
		 MERGE (n:JvmClass {name: row.name})
		 SET n.package = row.package, n.interface = row.interface, n.super = row.super`)
}

// LoadInherits creates EXTENDS and IMPLEMENTS relationships. Supertypes
// outside the batch get bare nodes.
func (l *Loader) LoadInherits(ctx context.Context, rows []ClassRow) error {
	type link struct{ from, to string }
	var ext, impl []link
	for _, r := range rows {
		if r.Super != "" {
			ext = append(ext, link{r.Name, r.Super})
		}
		for _, i := range r.Interfaces {
			impl = append(impl, link{r.Name, i})
		}
	}
	row := func(k link) map[string]any { return map[string]any{"from": k.from, "to": k.to} }
	if err := batched(ctx, l, ext, row, `UNWIND $batch AS row
		 MATCH (c:JvmClass {name: row.from})
		 MERGE (s:JvmClass {name: row.to})
		 MERGE (c)-[:EXTENDS]->(s)`); err != nil {
		return err
	}
	return batched(ctx, l, impl, row, `UNWIND $batch AS row
		 MATCH (c:JvmClass {name: row.from})
		 MERGE (s:JvmClass {name: row.to})
		 MERGE (c)-[:IMPLEMENTS]->(s)`)
}

// LoadMethods upserts JvmMethod nodes and DECLARES edges from their classes.
func (l *Loader) LoadMethods(ctx context.Context, methods []disasm.MethodRecord) error {
	l.log.Info("loading methods", "count", len(methods))
	return batched(ctx, l, methods, func(m disasm.MethodRecord) map[string]any {
		return map[string]any{
			"key": m.Class + "." + m.Name + m.Desc, "class": m.Class,
			"name": m.Name, "desc": m.Desc, "access": m.Access,
			"code_size": m.CodeSize, "blocks": m.Blocks,
		}
	}, `UNWIND $batch AS row
		 MERGE (n:JvmMethod {key: row.key})
		 SET n.name = row.name, n.desc = row.desc, n.access = row.access,
		     n.code_size = row.code_size, n.blocks = row.blocks
		 WITH n, row
		 MATCH (c:JvmClass {name: row.class})
		 MERGE (c)-[:DECLARES]->(n)`)
}

// LoadCalls upserts CALLS relationships. Callees outside the batch become
// external JvmMethod nodes.
func (l *Loader) LoadCalls(ctx context.Context, edges []disasm.CallEdgeRecord) error {
	l.log.Info("loading call edges", "count", len(edges))
	return batched(ctx, l, edges, func(e disasm.CallEdgeRecord) map[string]any {
		return map[string]any{
			"caller": e.FromMethod, "callee": e.Target,
			"kind": e.Kind, "offset": e.Offset,
		}
	}, `UNWIND $batch AS row
		 MATCH (a:JvmMethod {key: row.caller})
		 MERGE (b:JvmMethod {key: row.callee})
		 ON CREATE SET b.external = true
		 MERGE (a)-[r:CALLS {offset: row.offset}]->(b)
		 SET r.kind = row.kind`)
}

// Export cleans the graph and loads classes, inheritance, methods and calls
// in dependency order.
func (l *Loader) Export(ctx context.Context, classes []*classfile.Class, rec *callgraph.Records) error {
	rows := Classes(classes)
	steps := []func(context.Context) error{
		l.CleanGraph,
		l.CreateIndexes,
		func(ctx context.Context) error { return l.LoadClasses(ctx, rows) },
		func(ctx context.Context) error { return l.LoadInherits(ctx, rows) },
		func(ctx context.Context) error { return l.LoadMethods(ctx, rec.Methods) },
		func(ctx context.Context) error { return l.LoadCalls(ctx, rec.Edges) },
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// batched sends rows in chunks of BatchSize as $batch.
func batched[T any](ctx context.Context, l *Loader, rows []T, conv func(T) map[string]any, cypher string) error {
	size := l.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		batch := make([]map[string]any, 0, end-start)
		for _, r := range rows[start:end] {
			batch = append(batch, conv(r))
		}
		if err := l.run(ctx, cypher, map[string]any{"batch": batch}); err != nil {
			return fmt.Errorf("graphdb: load: %w", err)
		}
	}
	return nil
}
