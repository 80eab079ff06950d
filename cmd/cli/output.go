package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/tphakala/pendant-go/internal/datastore/entities"
)

// PrintRuns writes one line per run.
func PrintRuns(w io.Writer, runs []*entities.ProcessingRun) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tUSER\tDATE\tTRIGGER\tSTATUS\tWINDOWS\tEVENTS\tDUPLICATES\tDURATION\tERROR")
	for _, r := range runs {
		if r == nil {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.UserID, r.CalendarDate, r.TriggerType, r.Status,
			r.WindowsFetched, r.EventsFound, r.DuplicatesSkipped(),
			(time.Duration(r.DurationSeconds * float64(time.Second))).Round(time.Millisecond),
			r.ErrorMessage)
	}
	return tw.Flush()
}

// PrintDetections writes one line per detection.
func PrintDetections(w io.Writer, detections []entities.Detection) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIMESTAMP\tCLASS\tPROBABILITY\tCLIP\tNOTES")
	for i := range detections {
		d := &detections[i]
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%s\t%s\n",
			d.ID, d.TimestampUTC.UTC().Format(time.RFC3339Nano), d.ClassName, d.Probability, d.ClipStoragePath, d.Notes)
	}
	return tw.Flush()
}

// PrintUsers writes one line per user.
func PrintUsers(w io.Writer, users []entities.UserProcessingState) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tTIMEZONE\tWATERMARK")
	for i := range users {
		u := &users[i]
		watermark := "-"
		if u.LatestProcessedUTC != nil {
			watermark = u.LatestProcessedUTC.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", u.UserID, u.Timezone, watermark)
	}
	return tw.Flush()
}

// Pointers adapts a slice of runs for PrintRuns.
func Pointers(runs []entities.ProcessingRun) []*entities.ProcessingRun {
	out := make([]*entities.ProcessingRun, len(runs))
	for i := range runs {
		out[i] = &runs[i]
	}
	return out
}
