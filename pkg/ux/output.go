// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the CLI: status
// lines, event rendering, and a lightweight spinner.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Styles used across the CLI. They degrade to plain text when stdout is
// not a terminal.
var (
	styleHeading = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	styleStage   = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
	styleTool    = lipgloss.NewStyle().Foreground(lipgloss.Color("110"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleError   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	styleAnswer  = lipgloss.NewStyle().Bold(true)
	styleDim     = lipgloss.NewStyle().Faint(true)
)

// Output writes styled lines to a terminal, or plain lines elsewhere.
//
// Thread Safety: Output is not synchronized; the CLI writes from one
// goroutine.
type Output struct {
	w       io.Writer
	colored bool
}

// NewOutput creates an Output for w. Color is enabled only when w is an
// *os.File attached to a TTY.
func NewOutput(w io.Writer) *Output {
	colored := false
	if f, ok := w.(*os.File); ok {
		colored = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Output{w: w, colored: colored}
}

func (o *Output) render(style lipgloss.Style, text string) string {
	if !o.colored {
		return text
	}
	return style.Render(text)
}

// Heading prints a bold section heading.
func (o *Output) Heading(format string, args ...any) {
	fmt.Fprintln(o.w, o.render(styleHeading, fmt.Sprintf(format, args...)))
}

// Stage prints a loop stage transition.
func (o *Output) Stage(format string, args ...any) {
	fmt.Fprintln(o.w, o.render(styleStage, "» "+fmt.Sprintf(format, args...)))
}

// Tool prints a sandbox command line.
func (o *Output) Tool(format string, args ...any) {
	fmt.Fprintln(o.w, o.render(styleTool, "$ "+fmt.Sprintf(format, args...)))
}

// Detail prints dimmed supporting output, indented.
func (o *Output) Detail(text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintln(o.w, o.render(styleDim, "  "+line))
	}
}

// Warn prints a warning line.
func (o *Output) Warn(format string, args ...any) {
	fmt.Fprintln(o.w, o.render(styleWarn, "! "+fmt.Sprintf(format, args...)))
}

// Error prints an error line.
func (o *Output) Error(format string, args ...any) {
	fmt.Fprintln(o.w, o.render(styleError, "✗ "+fmt.Sprintf(format, args...)))
}

// Answer prints the final report block.
func (o *Output) Answer(text string) {
	fmt.Fprintln(o.w)
	fmt.Fprintln(o.w, o.render(styleAnswer, text))
}

// Token streams one model token without a newline.
func (o *Output) Token(token string) {
	fmt.Fprint(o.w, token)
}

// Newline terminates a token stream.
func (o *Output) Newline() {
	fmt.Fprintln(o.w)
}
