package main

import (
	"fmt"
	"strings"

	"classmorph/internal/output"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <input>",
	Short: "Print bytecode listings",
	Long: `Print a listing of every class in the input: one block per method with
pool operands resolved and source lines noted.`,
	Example: `
classmorph dump app.jar --class 'com/example/**'
CLASSMORPH_NO_COLOR=1 classmorph dump Hello.class > Hello.txt
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		classes, err := loadClasses(args[0])
		if err != nil {
			return err
		}
		var match glob.Glob
		if pat, _ := cmd.Flags().GetString("class"); pat != "" {
			if match, err = glob.Compile(pat, '/'); err != nil {
				return fmt.Errorf("--class: %w", err)
			}
		}
		plain, _ := cmd.Flags().GetBool("no-color")
		w := cmd.OutOrStdout()
		var b strings.Builder
		for _, c := range classes {
			if match != nil && !match.Match(c.Name()) {
				continue
			}
			b.WriteString(output.Listing(c))
			b.WriteByte('\n')
		}
		text := b.String()
		if !plain {
			text = colorize(text)
		}
		_, err = fmt.Fprint(w, text)
		return err
	},
}

func init() {
	dumpCmd.Flags().String("class", "", "Only classes whose internal name matches this glob")
	dumpCmd.Flags().Bool("no-color", false, "Disable highlighting")
	rootCmd.AddCommand(dumpCmd)
}
