package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ANSI color codes for terminal styling.
const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiCyan  = "\033[96m"
)

type welcomeBannerOptions struct {
	Version string
	Tools   []string
}

func printWelcomeBanner(w io.Writer, opts welcomeBannerOptions) {
	width := terminalWidth(w)
	useANSI := isTerminalWriter(w)

	fmt.Fprintln(w)
	fmt.Fprintln(w, centerWithAnsi(styleTitle("N E S T O R", useANSI), width))
	fmt.Fprintln(w, center("at your service", width))
	fmt.Fprintln(w)
	if version := strings.TrimSpace(opts.Version); version != "" {
		fmt.Fprintln(w, center(fmt.Sprintf("Version: %s", version), width))
	}
	if len(opts.Tools) > 0 {
		fmt.Fprintln(w, center(fmt.Sprintf("Tools: %s", strings.Join(opts.Tools, ", ")), width))
	}
	fmt.Fprintln(w, center("Type /start for help, /quit to leave.", width))
	fmt.Fprintln(w)
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return 0
	}
	return width
}

func styleTitle(s string, enabled bool) string {
	if !enabled {
		return s
	}
	return ansiBold + ansiCyan + s + ansiReset
}

func center(text string, width int) string {
	if width <= 0 {
		// Fallback for non-interactive outputs.
		return "  " + text
	}

	textLen := len([]rune(text))
	if textLen >= width {
		return text
	}

	padding := (width - textLen) / 2
	return strings.Repeat(" ", padding) + text
}

func stripAnsi(s string) string {
	return strings.NewReplacer(ansiReset, "", ansiBold, "", ansiCyan, "").Replace(s)
}

func centerWithAnsi(text string, width int) string {
	if width <= 0 {
		return "  " + text
	}

	textLen := len([]rune(stripAnsi(text)))
	if textLen >= width {
		return text
	}

	padding := (width - textLen) / 2
	return strings.Repeat(" ", padding) + text
}
