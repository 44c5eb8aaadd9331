package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/miradorstack/mirador-changepoint/internal/models"
	"github.com/miradorstack/mirador-changepoint/internal/utils"
)

func validateFormat(format string) error {
	switch format {
	case "table", "json", "csv":
		return nil
	default:
		return fmt.Errorf("unsupported format %q (want table, json or csv)", format)
	}
}

func render(w io.Writer, format string, result models.DetectionResult) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "csv":
		return renderCSV(w, result.Table)
	default:
		return renderTable(w, result)
	}
}

// renderCSV writes one row per regime in the column order used by the dashboard export.
func renderCSV(w io.Writer, table models.RegimeTable) error {
	out := csv.NewWriter(w)
	if err := out.Write([]string{"Regime", "Start_Date", "End_Date", "Observations", "Mean_Price", "Volatility"}); err != nil {
		return err
	}
	for _, r := range table.Records {
		if err := out.Write([]string{
			strconv.Itoa(r.Regime),
			utils.FormatDate(r.StartDate),
			utils.FormatDate(r.EndDate),
			strconv.Itoa(r.Observations),
			strconv.FormatFloat(r.MeanPrice, 'f', 4, 64),
			strconv.FormatFloat(r.Volatility, 'f', 4, 64),
		}); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}

func renderTable(w io.Writer, result models.DetectionResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Run %s  (%d observations, %d change points, %s)\n",
		result.RunID, result.Observations, result.NumChangePoints, result.Duration.Round(time.Millisecond))
	if result.Transform != "" && result.Transform != "none" {
		fmt.Fprintf(tw, "Values are %s of the input series\n", result.Transform)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "REGIME\tSTART\tEND\tOBS\tMEAN\tVOLATILITY")
	for _, r := range result.Table.Records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%.4f\t%.4f\n",
			r.Regime, utils.FormatDate(r.StartDate), utils.FormatDate(r.EndDate), r.Observations, r.MeanPrice, r.Volatility)
	}

	if len(result.Table.ChangePoints) > 0 {
		fmt.Fprintf(tw, "\nCHANGE POINT\tDATE\tINDEX\t%.0f%% INTERVAL\n", 100*result.Config.CredibleMass)
		for _, cp := range result.Table.ChangePoints {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s .. %s\n",
				cp.Ordinal, utils.FormatDate(cp.Date), cp.Index, utils.FormatDate(cp.LowerDate), utils.FormatDate(cp.UpperDate))
		}
	}

	diag := result.Diagnostics
	verdict := "converged"
	if !diag.Converged {
		verdict = "NOT converged"
	}
	fmt.Fprintf(tw, "\nDiagnostics: %s, max R-hat %.3f, min ESS %.0f\n", verdict, diag.MaxRHat, diag.MinESS)
	if len(diag.Outliers) > 0 {
		fmt.Fprintf(tw, "  %d isolated spikes at indices %v\n", len(diag.Outliers), diag.Outliers)
	}
	for _, warning := range diag.Warnings {
		fmt.Fprintf(tw, "  warning: %s\n", warning)
	}
	for _, c := range result.Chains {
		line := fmt.Sprintf("  chain %d\t%s\t%d draws\tacceptance %.2f", c.Index, c.Status, c.Draws, c.AcceptanceRate)
		if c.Error != "" {
			line += "\t" + c.Error
		}
		fmt.Fprintln(tw, line)
	}
	return tw.Flush()
}
