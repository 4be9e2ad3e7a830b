package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"

	"github.com/Kubendra2004/HealthForesight/forecast"
)

const ruleWidth = 80

// trendMarker flags days whose probability of increase crosses the alert threshold.
func trendMarker(prob, threshold float64) string {
	switch {
	case prob > threshold:
		return "▲"
	case prob < 1-threshold:
		return "▼"
	}
	return ""
}

func renderForecastReport(w io.Writer, res *forecast.ForecastResult, threshold float64) {
	fmt.Fprintf(w, "Forecast for %d days starting %s\n", res.Days, res.Start)
	for _, m := range forecast.AllMetrics {
		points, ok := res.Series[m]
		if !ok {
			continue
		}
		vm := res.Metrics[m]
		rule := strings.Repeat("=", ruleWidth)
		fmt.Fprintf(w, "\n%s\n %s FORECAST | Model Accuracy: %.2f%% (MAPE: %.2f%%) | Current: %.2f\n%s\n",
			rule, strings.ToUpper(string(m)), vm.AccuracyScore*100, vm.MAPE*100, res.Current[m], rule)

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "Date\tPredicted\tLower CI\tUpper CI\tProb. Increase\t")
		for _, p := range points {
			fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%.1f%% %s\t\n",
				p.Date.Format("2006-01-02"), p.Yhat, p.YhatLower, p.YhatUpper, p.ProbIncrease*100,
				trendMarker(p.ProbIncrease, threshold))
		}
		tw.Flush()
	}
}

func renderChart(res *forecast.ForecastResult, m forecast.Metric) string {
	points := res.Series[m]
	yhat := make([]float64, len(points))
	lower := make([]float64, len(points))
	upper := make([]float64, len(points))
	for i, p := range points {
		yhat[i] = p.Yhat
		lower[i] = p.YhatLower
		upper[i] = p.YhatUpper
	}
	return asciigraph.PlotMany([][]float64{upper, yhat, lower},
		asciigraph.Height(10),
		asciigraph.Precision(1),
		asciigraph.SeriesColors(asciigraph.Default, asciigraph.Blue, asciigraph.Default),
		asciigraph.Caption(fmt.Sprintf("%s: yhat with 95%% interval from %s", m, res.Start)),
	)
}

func renderTrainReport(w io.Writer, report *forecast.TrainReport, observations int) {
	fmt.Fprintf(w, "Training run %s on %d observations (%s)\n\n", report.RunID, observations,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Metric\tStatus\tFolds\tMAE\tRMSE\tMAPE\tAccuracy\tNote\t")
	for _, m := range forecast.AllMetrics {
		r, ok := report.Results[m]
		if !ok {
			continue
		}
		note := r.Error
		if note == "" {
			note = r.CVError
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.3f\t%.3f\t%.2f%%\t%.2f%%\t%s\t\n",
			m, r.Status, r.Folds, r.Metrics.MAE, r.Metrics.RMSE, r.Metrics.MAPE*100, r.Metrics.AccuracyScore*100, note)
	}
	tw.Flush()
}

func renderMetrics(w io.Writer, all map[forecast.Metric]forecast.ValidationMetrics) {
	if len(all) == 0 {
		fmt.Fprintln(w, "No metrics stored.")
		return
	}
	names := make([]string, 0, len(all))
	for m := range all {
		names = append(names, string(m))
	}
	sort.Strings(names)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Metric\tMAE\tRMSE\tMAPE\tAccuracy\t")
	for _, n := range names {
		vm := all[forecast.Metric(n)]
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.2f%%\t%.2f%%\t\n", n, vm.MAE, vm.RMSE, vm.MAPE*100, vm.AccuracyScore*100)
	}
	tw.Flush()
}
