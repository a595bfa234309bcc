package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"classmorph/internal/callgraph"
	"classmorph/internal/disasm"
	"classmorph/internal/render"
	"classmorph/internal/signal"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit <input>",
	Short: "Find code that obfuscation may break or hide",
	Long: `List methods using reflection, class loaders, serialization, native code
or processes, and string literals naming batch classes or carrying URLs,
keys and credentials. Classes named by literals are printed as suggested
exclusions: renaming them breaks the lookup that uses the literal.`,
	Example: `
classmorph audit app.jar
classmorph audit app.jar --json > audit.json
classmorph audit app.jar --dot signal.dot --hops 2
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hops, _ := cmd.Flags().GetInt("hops")
		asJSON, _ := cmd.Flags().GetBool("json")
		dotPath, _ := cmd.Flags().GetString("dot")

		classes, err := loadClasses(args[0])
		if err != nil {
			return err
		}
		names := make(map[string]bool, len(classes))
		for _, c := range classes {
			names[c.Name()] = true
		}
		rec, _ := callgraph.Extract(classes)
		entries := make(map[string]bool)
		for _, e := range render.FindEntryPoints(rec.Methods, rec.Edges) {
			entries[e] = true
		}
		g := signal.BuildSignalGraph(rec, names, hops, entries)

		if dotPath != "" {
			var keep []disasm.MethodRecord
			roles := make(map[string]string, len(g.Methods))
			for _, m := range g.Methods {
				roles[m.Name] = m.Role
			}
			for _, m := range rec.Methods {
				if roles[render.MethodName(m)] != "" {
					keep = append(keep, m)
				}
			}
			dot := render.CallgraphDOT(keep, signal.EdgeRecords(g), "signal: "+args[0], render.NASA, 0)
			if err := os.WriteFile(dotPath, []byte(dot), 0o644); err != nil {
				return err
			}
		}

		w := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				*signal.SignalGraph
				Exclusions []string `json:"suggested_exclusions"`
			}{g, signal.SuggestExclusions(g)})
		}

		fmt.Fprintf(w, "%d of %d methods carry signal, %d context\n",
			g.Stats.SignalMethods, g.Stats.TotalMethods, g.Stats.ContextMethods)
		for _, m := range g.Methods {
			if m.Role != "signal" {
				break
			}
			fmt.Fprintf(w, "%-6s %s [%s]\n", m.Severity, m.Name, strings.Join(m.Categories, ","))
			for _, c := range m.Calls {
				fmt.Fprintf(w, "         calls %s\n", c)
			}
			for _, s := range m.StringRefs {
				fmt.Fprintf(w, "         %q [%s]\n", truncate(s.Value, 60), strings.Join(s.Categories, ","))
			}
		}
		if ex := signal.SuggestExclusions(g); len(ex) > 0 {
			fmt.Fprintln(w, "\nsuggested exclusions:")
			for _, e := range ex {
				fmt.Fprintf(w, "  - %s\n", e)
			}
		}
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	auditCmd.Flags().Int("hops", 1, "Call graph hops of context around signal methods")
	auditCmd.Flags().Bool("json", false, "Print the signal graph as JSON")
	auditCmd.Flags().String("dot", "", "Write the signal and context methods as a DOT call graph")
	rootCmd.AddCommand(auditCmd)
}
