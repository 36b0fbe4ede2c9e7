package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hashicorp/go-multierror"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"

	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/bulkinsert"
)

// reportRow is one strategy's line in the report.
type reportRow struct {
	RunID         string `json:"run_id"`
	Strategy      string `json:"strategy"`
	Count         int    `json:"count"`
	ElapsedMillis int64  `json:"elapsed_ms"`
	FirstID       int64  `json:"first_id"`
	LastID        int64  `json:"last_id"`
}

// report is the complete benchmark outcome as written to stdout.
type report struct {
	Engine  string      `json:"engine"`
	Adapter string      `json:"adapter"`
	Count   int         `json:"count"`
	Results []reportRow `json:"results"`
	Errors  []string    `json:"errors,omitempty"`
}

func buildReport(cfg Config, results []bulkinsert.BenchmarkResult, runErr error) report {
	rows := lo.Map(results, func(result bulkinsert.BenchmarkResult, _ int) reportRow {
		row := reportRow{
			RunID:         result.RunID.String(),
			Strategy:      result.Strategy.String(),
			Count:         result.Count,
			ElapsedMillis: result.ElapsedMillis,
		}

		if len(result.PersistedIDs) > 0 {
			row.FirstID = result.PersistedIDs[0]
			row.LastID = result.PersistedIDs[len(result.PersistedIDs)-1]
		}

		return row
	})

	return report{
		Engine:  cfg.Engine,
		Adapter: adapterLabel(cfg),
		Count:   cfg.Count,
		Results: rows,
		Errors:  errorMessages(runErr),
	}
}

func errorMessages(err error) []string {
	if err == nil {
		return nil
	}

	var merr *multierror.Error
	if errors.As(err, &merr) {
		return lo.Map(merr.Errors, func(e error, _ int) string { return e.Error() })
	}

	return []string{err.Error()}
}

func writeReport(w io.Writer, cfg Config, results []bulkinsert.BenchmarkResult, runErr error) error {
	r := buildReport(cfg, results, runErr)

	if cfg.Output == outputJSON {
		return writeJSONReport(w, r)
	}

	return writeTextReport(w, r)
}

func writeJSONReport(w io.Writer, r report) error {
	encoder := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(r)
}

func writeTextReport(w io.Writer, r report) error {
	if _, err := fmt.Fprintf(w, "engine=%s adapter=%s count=%d\n", r.Engine, r.Adapter, r.Count); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STRATEGY\tRECORDS\tELAPSED_MS\tFIRST_ID\tLAST_ID\tRUN_ID")

	for _, row := range r.Results {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n",
			row.Strategy, row.Count, row.ElapsedMillis, row.FirstID, row.LastID, row.RunID)
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	for _, msg := range r.Errors {
		if _, err := fmt.Fprintf(w, "FAILED: %s\n", msg); err != nil {
			return err
		}
	}

	return nil
}
