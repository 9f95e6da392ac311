package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/client/models"
	"github.com/dmitrijs2005/ledgersync/internal/client/services"
	"github.com/fatih/color"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

func stateLabel(s models.RecordState) string {
	switch s {
	case models.StateConfirmed:
		return okColor.Sprint(s)
	case models.StateOptimistic, models.StateDrafted:
		return warnColor.Sprint(s)
	case models.StateRejected:
		return errColor.Sprint(s)
	default:
		return dimColor.Sprint(s)
	}
}

func statusLabel(s models.OperationStatus) string {
	switch s {
	case models.OperationPending:
		return warnColor.Sprint(s)
	default:
		return errColor.Sprint(s)
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func fieldSummary(f models.Fields) string {
	parts := make([]string, 0, len(f))
	for _, k := range slices.Sorted(maps.Keys(f)) {
		parts = append(parts, k+"="+formatValue(f[k]))
	}
	return strings.Join(parts, " ")
}

func printRecords(w io.Writer, recs []models.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no records")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tUPDATED\tFIELDS")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, stateLabel(r.State), r.UpdatedAt.Local().Format(time.DateTime), fieldSummary(r.Fields))
	}
	_ = tw.Flush()
}

func printRecord(w io.Writer, r models.Record) {
	fmt.Fprintf(w, "%s/%s [%s]\n", r.Table, r.ID, stateLabel(r.State))
	fmt.Fprintf(w, "  owner:      %s\n", r.Owner)
	fmt.Fprintf(w, "  updated at: %s\n", r.UpdatedAt.Local().Format(time.RFC3339))
	if r.SyncedAt != nil {
		fmt.Fprintf(w, "  synced at:  %s\n", r.SyncedAt.Local().Format(time.RFC3339))
	}
	if r.DeletedAt != nil {
		fmt.Fprintf(w, "  deleted at: %s\n", r.DeletedAt.Local().Format(time.RFC3339))
	}
	for _, k := range slices.Sorted(maps.Keys(r.Fields)) {
		fmt.Fprintf(w, "  %s: %s\n", k, formatValue(r.Fields[k]))
	}
}

// printResult reports the outcome of a mutation.
func printResult(w io.Writer, verb string, res services.Result) {
	switch {
	case res.Conflict != nil:
		fmt.Fprintln(w, warnColor.Sprintf("%s %s/%s: a newer remote version was kept", verb, res.Record.Table, res.Record.ID))
	case res.Optimistic:
		fmt.Fprintln(w, warnColor.Sprintf("%s %s/%s offline, queued for sync", verb, res.Record.Table, res.Record.ID))
	default:
		fmt.Fprintln(w, okColor.Sprintf("%s %s/%s", verb, res.Record.Table, res.Record.ID))
	}
}

func printOperations(w io.Writer, ops []models.PendingOperation) {
	if len(ops) == 0 {
		fmt.Fprintln(w, "queue is empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTRY\tTABLE\tRECORD\tKIND\tSTATUS\tATTEMPTS\tLAST ERROR")
	for _, op := range ops {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n", op.EntryID, op.TargetTable, op.RecordID, op.Kind, statusLabel(op.Status), op.Attempts, op.LastError)
	}
	_ = tw.Flush()
}

func printFlushResult(w io.Writer, res services.FlushResult) {
	succeeded, failed := res.Counts()
	line := fmt.Sprintf("flushed: %d succeeded, %d failed", succeeded, failed)
	if failed > 0 {
		fmt.Fprintln(w, errColor.Sprint(line))
	} else {
		fmt.Fprintln(w, okColor.Sprint(line))
	}
	for _, op := range res.Conflicts {
		fmt.Fprintln(w, warnColor.Sprintf("  conflict on %s/%s resolved by last write", op.TargetTable, op.RecordID))
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(w, "  %d waiting behind a failed operation or not yet due\n", len(res.Skipped))
	}
	for _, op := range res.Parked {
		fmt.Fprintln(w, errColor.Sprintf("  %s %s/%s (%s): %s", op.Kind, op.TargetTable, op.RecordID, op.Status, op.LastError))
	}
}
