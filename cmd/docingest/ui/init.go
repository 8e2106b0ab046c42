// Package ui provides terminal output for the docingest CLI.
package ui

import (
	"io"
	"os"

	"github.com/fatih/color"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Init applies the color setting.
func Init(noColor bool) {
	if noColor {
		color.NoColor = true
	}
}

// SetOutput redirects UI output, mainly for tests.
func SetOutput(out, errOut io.Writer) {
	stdout = out
	stderr = errOut
	color.Output = out
	color.Error = errOut
}
