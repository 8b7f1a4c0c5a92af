// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the Pactoria CLI.
package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Pactoria color palette
var (
	ColorBrand     = lipgloss.Color("#4F46E5") // Indigo - titles, highlights
	ColorBrandSoft = lipgloss.Color("#818CF8") // Soft indigo - subtitles
	ColorBorder    = lipgloss.Color("#6366F1") // Borders, accents

	ColorSuccess = lipgloss.Color("#10B981") // Green for success
	ColorWarning = lipgloss.Color("#F59E0B") // Amber for warnings
	ColorError   = lipgloss.Color("#EF4444") // Red for errors
	ColorMuted   = lipgloss.Color("#6B7280") // Gray for muted text
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Header   lipgloss.Style
	Box      lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(ColorBrand),
	Subtitle: lipgloss.NewStyle().Foreground(ColorBrandSoft),
	Bold:     lipgloss.NewStyle().Bold(true),
	Muted:    lipgloss.NewStyle().Foreground(ColorMuted),
	Success:  lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:  lipgloss.NewStyle().Foreground(ColorWarning),
	Error:    lipgloss.NewStyle().Foreground(ColorError),
	Header:   lipgloss.NewStyle().Bold(true).Foreground(ColorBrandSoft),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Mode controls how a Printer renders.
type Mode int

const (
	// ModeStyled uses colors, icons and boxes.
	ModeStyled Mode = iota

	// ModePlain writes unstyled text, for pipes and dumb terminals.
	ModePlain

	// ModeJSON writes only machine-readable JSON from Print calls.
	// Status lines go to the error writer.
	ModeJSON
)

// DetectMode returns ModeStyled when f is a terminal, else ModePlain.
func DetectMode(f *os.File) Mode {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return ModeStyled
	}
	return ModePlain
}

// Printer writes CLI output in one Mode.
type Printer struct {
	Out  io.Writer
	Err  io.Writer
	Mode Mode
}

// NewPrinter returns a Printer writing to out and errOut. jsonOut forces
// ModeJSON; otherwise the mode follows whether out is a terminal.
func NewPrinter(out, errOut io.Writer, jsonOut bool) *Printer {
	mode := ModePlain
	if f, ok := out.(*os.File); ok {
		mode = DetectMode(f)
	}
	if jsonOut {
		mode = ModeJSON
	}
	return &Printer{Out: out, Err: errOut, Mode: mode}
}

func (p *Printer) render(style lipgloss.Style, s string) string {
	if p.Mode != ModeStyled {
		return s
	}
	return style.Render(s)
}

func (p *Printer) icon(i Icon, style lipgloss.Style) string {
	if p.Mode != ModeStyled {
		return string(i)
	}
	return style.Render(string(i))
}

// status lines never pollute JSON output.
func (p *Printer) status() io.Writer {
	if p.Mode == ModeJSON {
		return p.Err
	}
	return p.Out
}

// Title prints a styled title. Suppressed in JSON mode.
func (p *Printer) Title(text string) {
	if p.Mode == ModeJSON {
		return
	}
	fmt.Fprintln(p.Out, p.render(Styles.Title, text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	fmt.Fprintf(p.status(), "%s %s\n", p.icon(IconSuccess, Styles.Success), p.render(Styles.Success, text))
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	fmt.Fprintf(p.Err, "%s %s\n", p.icon(IconWarning, Styles.Warning), p.render(Styles.Warning, text))
}

// Error prints an error message
func (p *Printer) Error(text string) {
	fmt.Fprintf(p.Err, "%s %s\n", p.icon(IconError, Styles.Error), p.render(Styles.Error, text))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.Mode == ModeStyled {
		fmt.Fprintf(p.Out, "%s %s\n", Styles.Muted.Render("│"), text)
		return
	}
	fmt.Fprintln(p.status(), text)
}

// Box prints titled key-value content in a rounded box.
func (p *Printer) Box(title string, rows [][2]string) {
	if p.Mode == ModeJSON {
		return
	}
	var b strings.Builder
	width := 0
	for _, r := range rows {
		width = max(width, len(r[0]))
	}
	for i, r := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s  %s", p.render(Styles.Muted, fmt.Sprintf("%-*s", width, r[0])), r[1])
	}
	if p.Mode == ModePlain {
		fmt.Fprintf(p.Out, "%s\n%s\n", title, b.String())
		return
	}
	fmt.Fprintln(p.Out, Styles.Box.Render(Styles.Title.Render(title)+"\n"+b.String()))
}

// Table prints rows under headers with aligned columns.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.Mode == ModeJSON {
		return
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i := range min(len(r), len(widths)) {
			widths[i] = max(widths[i], len([]rune(r[i])))
		}
	}

	line := func(cells []string, style *lipgloss.Style) {
		parts := make([]string, len(widths))
		for i := range widths {
			var c string
			if i < len(cells) {
				c = cells[i]
			}
			pad := c + strings.Repeat(" ", widths[i]-len([]rune(c)))
			if style != nil {
				pad = p.render(*style, pad)
			}
			parts[i] = pad
		}
		fmt.Fprintln(p.Out, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	line(headers, &Styles.Header)
	for _, r := range rows {
		line(r, nil)
	}
}

// JSON writes v as indented JSON to Out.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Print writes v as JSON in ModeJSON, otherwise calls human.
func (p *Printer) Print(v any, human func()) error {
	if p.Mode == ModeJSON {
		return p.JSON(v)
	}
	human()
	return nil
}

// Summary prints a summary line with counts
func (p *Printer) Summary(succeeded, failed, total int) {
	if p.Mode == ModeJSON {
		return
	}
	fmt.Fprintf(p.Out, "\n%s %s  %s %s  %s %s\n",
		p.render(Styles.Success, fmt.Sprintf("%d", succeeded)), p.render(Styles.Muted, "succeeded"),
		p.render(Styles.Error, fmt.Sprintf("%d", failed)), p.render(Styles.Muted, "failed"),
		p.render(Styles.Bold, fmt.Sprintf("%d", total)), p.render(Styles.Muted, "total"),
	)
}
