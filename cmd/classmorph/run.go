package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"classmorph/internal/callgraph"
	"classmorph/internal/classfile"
	"classmorph/internal/output"
	"classmorph/internal/pipeline"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <input>",
	Short: "Obfuscate a jar, class file or class directory",
	Long: `Run every enabled pass over the input batch and write the result.
The output is a jar when its name ends in .jar or .zip, a directory
otherwise. Units that fail are reported and left out; the command then
exits non-zero after writing everything else.`,
	Example: `
classmorph run app.jar -o app-obf.jar
classmorph run app.jar -o out/ --exclude 'com.example.api.**' --listing out/asm
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")
		inputs, err := pipeline.Load(args[0])
		if err != nil {
			return err
		}
		logger.Info("loaded", "path", args[0], "files", len(inputs))

		res, err := pipeline.Run(cmd.Context(), inputs, cfg, pipeline.WithLogger(logger.Logger))
		if err != nil {
			return err
		}

		switch strings.ToLower(filepath.Ext(out)) {
		case ".jar", ".zip":
			err = output.WriteJar(out, res)
		default:
			err = output.WriteDir(out, res)
		}
		if err != nil {
			return err
		}
		if p, _ := cmd.Flags().GetString("mappings"); p != "" {
			if err := output.WriteMappings(p, res.Mappings); err != nil {
				return err
			}
		}
		if dir, _ := cmd.Flags().GetString("listing"); dir != "" {
			if err := output.WriteListings(dir, emitted(res)); err != nil {
				return err
			}
		}
		if dir, _ := cmd.Flags().GetString("records"); dir != "" {
			rec, _ := callgraph.Extract(emitted(res))
			if err := output.WriteRecords(dir, rec); err != nil {
				return err
			}
		}
		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			output.Report(cmd.OutOrStdout(), res)
		}
		if res.Stats.Failed > 0 {
			return fmt.Errorf("%d of %d units failed", res.Stats.Failed, res.Stats.Units)
		}
		return nil
	},
}

// emitted parses the class files of a result back.
func emitted(res *pipeline.Result) []*classfile.Class {
	var out []*classfile.Class
	for _, u := range res.Units {
		if u.Err != nil || !strings.HasSuffix(u.OutputName, ".class") {
			continue
		}
		c, err := classfile.Parse(u.OutputName, u.Data)
		if err != nil {
			// module-info and other non-class payloads
			continue
		}
		out = append(out, c)
	}
	return out
}

func init() {
	f := runCmd.Flags()
	f.StringP("out", "o", "", "Output jar or directory")
	f.StringP("mappings", "m", "", "Write rename mappings (.yaml/.yml or JSON)")
	f.String("listing", "", "Write per-class listings of the output to this directory")
	f.String("records", "", "Write JSONL method, call and string records of the output to this directory")
	f.Int64("seed", 0, "Random seed (overrides the configuration)")
	f.Int("parallelism", 0, "Concurrent units, 0 for every CPU")
	f.String("prefix", "", "Watermark prepended to generated names")
	f.StringSlice("exclude", nil, "Exclusion patterns, e.g. com.example.Api or com.example.**")
	f.StringSlice("classpath", nil, "Library jars or directories")
	f.BoolP("quiet", "q", false, "Do not print the summary")
	_ = runCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(runCmd)
}
