package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	titleColor     = color.New(color.FgMagenta, color.Bold)
	userColor      = color.New(color.FgWhite)
	assistantColor = color.New(color.FgCyan)
	statusColor    = color.New(color.FgHiYellow)
	noticeColor    = color.New(color.FgRed)
	dimColor       = color.New(color.FgHiBlack)
	promptColor    = color.New(color.FgHiBlue)
)

// ui prints to the terminal
type ui struct {
	out io.Writer
}

func (u ui) title(format string, args ...any) {
	titleColor.Fprintf(u.out, format+"\n", args...)
}

func (u ui) info(format string, args ...any) {
	fmt.Fprintf(u.out, format+"\n", args...)
}

func (u ui) dim(format string, args ...any) {
	dimColor.Fprintf(u.out, format+"\n", args...)
}

func (u ui) status(text string) {
	statusColor.Fprintf(u.out, "… %s\n", text)
}

func (u ui) notice(text string) {
	noticeColor.Fprintf(u.out, "! %s\n", text)
}

func (u ui) user(text string) {
	userColor.Fprintln(u.out, text)
}

// assistant prints a fragment of a reply without a trailing newline
func (u ui) assistant(text string) {
	assistantColor.Fprint(u.out, text)
}

func (u ui) separator() {
	dimColor.Fprintln(u.out, strings.Repeat("-", 40))
}
