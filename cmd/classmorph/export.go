package main

import (
	"cmp"
	"os"

	"classmorph/internal/callgraph"
	"classmorph/internal/graphdb"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export <input>",
	Short: "Load classes, methods and calls into Neo4j",
	Long: `Replace the graph in a Neo4j database with the classes of the input:
JvmClass nodes with EXTENDS and IMPLEMENTS relationships, JvmMethod nodes
declared by their classes and CALLS relationships between methods.
The password defaults to $NEO4J_PASSWORD.`,
	Example: `
classmorph export app.jar --uri bolt://localhost:7687 --user neo4j
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uri, _ := cmd.Flags().GetString("uri")
		user, _ := cmd.Flags().GetString("user")
		password, _ := cmd.Flags().GetString("password")
		batch, _ := cmd.Flags().GetInt("batch")
		password = cmp.Or(password, os.Getenv("NEO4J_PASSWORD"))

		classes, err := loadClasses(args[0])
		if err != nil {
			return err
		}
		rec, _ := callgraph.Extract(classes)

		ctx := cmd.Context()
		l, err := graphdb.NewLoader(ctx, uri, user, password, logger.Logger)
		if err != nil {
			return err
		}
		defer l.Close(ctx)
		l.BatchSize = batch
		if err := l.Export(ctx, classes, rec); err != nil {
			return err
		}
		logger.Info("exported", "classes", len(classes), "methods", len(rec.Methods), "calls", len(rec.Edges))
		return nil
	},
}

func init() {
	f := exportCmd.Flags()
	f.String("uri", "bolt://localhost:7687", "Neo4j URI")
	f.String("user", "neo4j", "Neo4j user")
	f.String("password", "", "Neo4j password")
	f.Int("batch", graphdb.DefaultBatchSize, "Rows per UNWIND statement")
	rootCmd.AddCommand(exportCmd)
}
