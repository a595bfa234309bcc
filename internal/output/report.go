package output

import (
	"fmt"
	"io"
	"time"

	"classmorph/internal/pipeline"

	"github.com/dustin/go-humanize"
)

// Report prints a human-readable summary of a run.
func Report(w io.Writer, res *pipeline.Result) {
	st := res.Stats
	fmt.Fprintf(w, "units      %s emitted, %s excluded, %s failed, %s resources\n",
		humanize.Comma(int64(st.Emitted)), humanize.Comma(int64(st.Excluded)),
		humanize.Comma(int64(st.Failed)), humanize.Comma(int64(st.Resources)))
	fmt.Fprintf(w, "renamed    %s classes, %s fields, %s methods\n",
		humanize.Comma(int64(st.Classes)), humanize.Comma(int64(st.Fields)), humanize.Comma(int64(st.Methods)))
	fmt.Fprintf(w, "layout     %s methods, %s widened branches, %s unreachable, %d max iterations\n",
		humanize.Comma(int64(st.Layout.Methods)), humanize.Comma(int64(st.Layout.Widened)),
		humanize.Comma(int64(st.Layout.Unreachable)), st.Layout.Iterations)
	fmt.Fprintf(w, "size       %s → %s", humanize.Bytes(uint64(st.InBytes)), humanize.Bytes(uint64(st.OutBytes)))
	if st.InBytes > 0 {
		fmt.Fprintf(w, " (%s%%)", humanize.FtoaWithDigits(100*float64(st.OutBytes)/float64(st.InBytes), 1))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "elapsed    %s\n", st.Elapsed.Round(time.Millisecond))
	if st.Declined > 0 {
		fmt.Fprintf(w, "declined   %s method/pass pairs\n", humanize.Comma(int64(st.Declined)))
		for _, e := range res.Skipped {
			fmt.Fprintf(w, "  %v\n", e)
		}
	}
	for _, u := range res.Units {
		if u.Err != nil {
			fmt.Fprintf(w, "failed     %v\n", u.Err)
		}
	}
}
