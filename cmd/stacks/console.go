package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"stacks/internal/budget"
	"stacks/internal/queue"
)

// statusTone drives the label and color of a console status line.
type statusTone int

const (
	toneNeutral statusTone = iota
	toneGood
	toneWarn
	toneBad
)

const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorBlue   = "\x1b[34m"
)

// consolePrinter writes the sectioned status layout, coloring only when the
// destination is a terminal.
type consolePrinter struct {
	out      io.Writer
	colorize bool
}

func newConsolePrinter(out io.Writer) *consolePrinter {
	return &consolePrinter{out: out, colorize: isTerminal(out)}
}

func (p *consolePrinter) section(title string) {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if p.colorize {
		line = colorBlue + line + colorReset
		rule = colorBlue + rule + colorReset
	}
	fmt.Fprintln(p.out, line)
	fmt.Fprintln(p.out, rule)
}

func (p *consolePrinter) blank() {
	fmt.Fprintln(p.out)
}

func (p *consolePrinter) line(label string, tone statusTone, format string, args ...any) {
	body := fmt.Sprintf("[%s] %s", toneLabel(tone), fmt.Sprintf(format, args...))
	rendered := fmt.Sprintf("  %-20s %s", label+":", body)
	if p.colorize {
		if color := toneColor(tone); color != "" {
			rendered = color + rendered + colorReset
		}
	}
	fmt.Fprintln(p.out, rendered)
}

func toneLabel(tone statusTone) string {
	switch tone {
	case toneGood:
		return "OK"
	case toneWarn:
		return "WARN"
	case toneBad:
		return "ERROR"
	default:
		return "INFO"
	}
}

func toneColor(tone statusTone) string {
	switch tone {
	case toneGood:
		return colorGreen
	case toneWarn:
		return colorYellow
	case toneBad:
		return colorRed
	case toneNeutral:
		return colorBlue
	default:
		return ""
	}
}

// queueTone flags attention while entries sit parked for review.
func queueTone(health queue.HealthSummary) statusTone {
	if health.Review > 0 {
		return toneWarn
	}
	return toneGood
}

func downloadTone(stats map[queue.JobState]int) statusTone {
	if stats[queue.JobAbandoned] > 0 {
		return toneWarn
	}
	return toneNeutral
}

func signalTone(signal budget.Signal) statusTone {
	if signal == budget.SignalConstrained {
		return toneWarn
	}
	return toneGood
}

// expiryTone warns once the membership window drops inside a week.
func expiryTone(daysRemaining int) statusTone {
	if daysRemaining <= 7 {
		return toneWarn
	}
	return toneGood
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
