// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#4B0082")).
			Padding(0, 1)
	headerRowStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("#E0E0FF"))
	oddRowStyle    = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("#C0C0C0"))
	evenRowStyle   = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("#A0A0FF"))
	plainCellStyle = lipgloss.NewStyle().Padding(0, 1)
)

// isPlain reports whether w can't render colors: not a terminal, or NO_COLOR is set.
func isPlain(w io.Writer) bool {
	return termenv.NewOutput(w).EnvColorProfile() == termenv.Ascii
}

// newTable returns a table styled for w: colored when w is a terminal, plain ASCII otherwise.
func newTable(w io.Writer, headers ...string) *lgtable.Table {
	if isPlain(w) {
		return lgtable.New().
			Border(lipgloss.ASCIIBorder()).
			StyleFunc(func(row, col int) lipgloss.Style { return plainCellStyle }).
			Headers(headers...)
	}
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row < 0:
				return headerRowStyle
			case row%2 == 0:
				return evenRowStyle
			default:
				return oddRowStyle
			}
		}).
		Headers(headers...)
}

// title renders a section title for w.
func title(w io.Writer, text string) string {
	if isPlain(w) {
		return text
	}
	return titleStyle.Render(text)
}
