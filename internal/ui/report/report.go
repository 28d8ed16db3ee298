// Package report renders the summary of a benchmark run for the terminal.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/janpfeifer/fusebench/internal/benchmark"
	"golang.org/x/term"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("13")).
			Padding(0, 2)
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("13")).
			Padding(1, 2)
)

// Rows returns the key/value pairs of the summary, in display order.
func Rows(r *benchmark.Report) [][2]string {
	return [][2]string{
		{"Model", fmt.Sprintf("%s (%s)", r.Config.InferModel, r.Layout)},
		{"Dataset", r.Config.InferData},
		{"Depthwise convolutions replaced", fmt.Sprint(r.Rewritten)},
		{"Batch size", fmt.Sprint(r.Config.BatchSize)},
		{"Batches", fmt.Sprintf("%d measured + %d warm-up", r.MeasuredBatches(), len(r.Batches)-r.MeasuredBatches())},
		{"Samples measured", fmt.Sprint(r.Samples)},
		{"Avg top-1 accuracy", fmt.Sprintf("%.4f", r.Acc1Avg)},
		{"Avg top-5 accuracy", fmt.Sprintf("%.4f", r.Acc5Avg)},
		{"Avg latency", fmt.Sprintf("%.4f ms", r.LatencyAvg)},
		{"Avg fps", fmt.Sprintf("%.2f", r.FPSAvg)},
		{"Total time", r.TotalTime.String()},
	}
}

// Render the summary box.
func Render(r *benchmark.Report) string {
	rows := Rows(r)
	var keyWidth int
	for _, row := range rows {
		keyWidth = max(keyWidth, lipgloss.Width(row[0]))
	}
	var lines []string
	for _, row := range rows {
		key := keyStyle.Render(row[0] + ":" + strings.Repeat(" ", keyWidth-lipgloss.Width(row[0])))
		lines = append(lines, key+"  "+valueStyle.Render(row[1]))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Inference benchmark"), "", strings.Join(lines, "\n")))
}

// Print the summary to w, centered if w is a terminal. It returns false, printing nothing, if w is not a terminal:
// the summary is already in the logs.
func Print(w io.Writer, r *benchmark.Report) bool {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return false
	}
	terminalWidth, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		terminalWidth = 0
	}
	printCentered(w, Render(r), terminalWidth)
	return true
}

// printCentered prints each line of block indented so the block is centered in width.
func printCentered(w io.Writer, block string, width int) {
	indent := max(0, (width-lipgloss.Width(block))/2)
	for _, line := range strings.Split(block, "\n") {
		if len(line) == 0 {
			_, _ = fmt.Fprintln(w)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s%s\n", strings.Repeat(" ", indent), line)
	}
}
