package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"classmorph/internal/callgraph"
	"classmorph/internal/classfile"
	"classmorph/internal/disasm"
	"classmorph/internal/output"
	"classmorph/internal/render"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"
	"github.com/zboralski/lattice"
	lrender "github.com/zboralski/lattice/render"
)

var graphCmd = &cobra.Command{
	Use:   "graph <input>",
	Short: "Write call graphs and control-flow graphs as DOT",
	Long: `Extract methods, call edges and string references from the input and
write them as JSONL records plus Graphviz views:

  callgraph.dot      methods clustered by class, edges colored by invoke kind
  classgraph.dot     aggregated calls between classes
  reachable.dot      methods reachable from entry points
  lattice_cg.dot     the same call graph through lattice
  cfg/<method>.dot   basic blocks of each method matching --method`,
	Example: `
classmorph graph app.jar -o graphs --method 'com/example/Main.*'
dot -Tsvg graphs/callgraph.dot > callgraph.svg
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		maxNodes, _ := cmd.Flags().GetInt("max-nodes")
		classes, err := loadClasses(args[0])
		if err != nil {
			return err
		}
		rec, funcs := callgraph.Extract(classes)
		if err := output.WriteRecords(out, rec); err != nil {
			return err
		}

		title := filepath.Base(args[0])
		entries := render.FindEntryPoints(rec.Methods, rec.Edges)
		reach := render.ReachableSet(entries, rec.Edges)
		files := map[string]string{
			"callgraph.dot":  render.CallgraphDOT(rec.Methods, rec.Edges, title, render.NASA, maxNodes),
			"classgraph.dot": render.ClassgraphDOT(rec.Methods, rec.Edges, title, render.NASA, maxNodes),
			"reachable.dot":  render.ReachabilityDOT(rec.Methods, rec.Edges, reach, entries, title, render.NASA),
			"lattice_cg.dot": lrender.DOT(callgraph.BuildCallGraph(funcs), title),
		}
		for name, dot := range files {
			if err := os.WriteFile(filepath.Join(out, name), []byte(dot), 0o644); err != nil {
				return err
			}
		}

		if pat, _ := cmd.Flags().GetString("method"); pat != "" {
			n, err := writeCFGs(filepath.Join(out, "cfg"), pat, classes, funcs)
			if err != nil {
				return err
			}
			logger.Info("cfg", "methods", n)
		}

		st := render.ComputeStats(rec.Methods, rec.Edges)
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%d methods in %d classes, %d call edges (%d internal, %d external), %d entry points, %d reachable\n",
			st.TotalMethods, st.UniqueClasses, st.TotalEdges, st.InternalEdges, st.ExternalEdges, len(entries), len(reach))
		for _, nc := range st.TopCallees[:min(5, len(st.TopCallees))] {
			fmt.Fprintf(w, "  %5d  %s\n", nc.Count, nc.Name)
		}
		return nil
	},
}

// writeCFGs renders the CFG of every method whose owner.name+desc matches
// pat, both through the local renderer and through lattice.
func writeCFGs(dir, pat string, classes []*classfile.Class, funcs []callgraph.FuncInfo) (int, error) {
	match, err := glob.Compile(pat)
	if err != nil {
		return 0, fmt.Errorf("--method: %w", err)
	}
	pools := make(map[string]*classfile.Pool, len(classes))
	for _, c := range classes {
		pools[c.Name()] = c.Pool
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	n := 0
	for _, f := range funcs {
		if !match.Match(f.Name) {
			continue
		}
		cfg, err := disasm.BuildCFG(f.Name, f.Code.Insts, f.Code.Handlers)
		if err != nil {
			logger.Warn("cfg", "method", f.Name, "err", err)
			continue
		}
		pool := pools[f.Class]
		base := filepath.Join(dir, fileName(f.Name))
		if err := os.WriteFile(base+".dot", []byte(render.CFGDOT(cfg, pool.Text, render.NASA)), 0o644); err != nil {
			return n, err
		}
		strs := callgraph.StringRefs(f, func(idx int) (string, bool) {
			s, err := pool.String(idx)
			return s, err == nil
		})
		lcfg, _, err := callgraph.BuildFuncCFG(f, strs)
		if err != nil {
			continue
		}
		one := &lattice.CFGGraph{Funcs: []*lattice.FuncCFG{lcfg}}
		if err := os.WriteFile(base+".lattice.dot", []byte(lrender.DOTCFG(one, f.Name)), 0o644); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// fileName flattens a method name into a file name.
func fileName(method string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '(', ')', ';', '<', '>', '[', ':':
			return '_'
		}
		return r
	}, method)
}

func init() {
	graphCmd.Flags().StringP("out", "o", "", "Output directory")
	graphCmd.Flags().String("method", "", "Glob over owner.name+desc of methods to draw CFGs for")
	graphCmd.Flags().Int("max-nodes", 0, "Limit rendered call graph nodes (0 = all)")
	_ = graphCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(graphCmd)
}
