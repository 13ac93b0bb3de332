package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/zoobzio/replica"
)

var (
	keyColor    = color.New(color.FgCyan, color.Bold)
	userColor   = color.New(color.FgGreen)
	remoteColor = color.New(color.FgYellow)
	storeColor  = color.New(color.FgMagenta)
	errorColor  = color.New(color.FgRed, color.Bold)
)

func sourceColor(source replica.Source) *color.Color {
	switch source {
	case replica.SourceUser:
		return userColor
	case replica.SourceStorage:
		return storeColor
	default:
		return remoteColor
	}
}

// formatValue renders v as compact JSON.
func formatValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// printChange writes one change event line.
func printChange(w io.Writer, c replica.Change) {
	fmt.Fprintf(w, "%s %s = %s\n",
		sourceColor(c.Source).Sprintf("[%s]", c.Source),
		keyColor.Sprint(c.Key),
		formatValue(c.Value),
	)
}

// printError writes a highlighted error line.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", errorColor.Sprint("error:"), err)
}
