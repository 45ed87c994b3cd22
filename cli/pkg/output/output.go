// Package output renders CLI results as colored messages, tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// ANSI attributes
const (
	reset  = "\033[0m"
	bold   = "1"
	red    = "31"
	green  = "32"
	yellow = "33"
	cyan   = "36"
	white  = "37"
)

func paint(attrs ...string) string {
	if os.Getenv("NO_COLOR") != "" {
		return ""
	}
	return "\033[" + strings.Join(attrs, ";") + "m"
}

func colored(w io.Writer, prefix, format string, a []interface{}, attrs ...string) {
	start, end := paint(attrs...), reset
	if start == "" {
		end = ""
	}
	fmt.Fprintf(w, start+prefix+format+end+"\n", a...)
}

func Success(format string, a ...interface{}) {
	colored(os.Stdout, "✓ ", format, a, green, bold)
}

func Error(format string, a ...interface{}) {
	colored(os.Stderr, "✗ ", format, a, red, bold)
}

func Info(format string, a ...interface{}) {
	colored(os.Stdout, "", format, a, cyan)
}

func Warn(format string, a ...interface{}) {
	colored(os.Stdout, "⚠ ", format, a, yellow)
}

func JSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// YAML writes v to stdout. Values are round-tripped through JSON first so
// the keys match the API's field names.
func YAML(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(generic)
}

// Print renders v as JSON or YAML, or calls table for the table format.
func Print(format string, v interface{}, table func()) error {
	switch strings.ToLower(format) {
	case FormatJSON:
		return JSON(v)
	case FormatYAML:
		return YAML(v)
	case FormatTable, "":
		table()
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers []string) *Table {
	return &Table{
		headers: headers,
		rows:    [][]string{},
	}
}

func (t *Table) AddRow(row []string) {
	t.rows = append(t.rows, row)
}

// Render writes the table to stdout.
func (t *Table) Render() {
	t.RenderTo(os.Stdout)
}

// RenderTo writes the table to w. Cells beyond the header count are dropped.
func (t *Table) RenderTo(w io.Writer) {
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	start, end := paint(white, bold), reset
	if start == "" {
		end = ""
	}
	for i, header := range t.headers {
		fmt.Fprintf(w, "%s%-*s%s  ", start, widths[i], header, end)
	}
	fmt.Fprintln(w)

	for i := range t.headers {
		fmt.Fprint(w, strings.Repeat("-", widths[i])+"  ")
	}
	fmt.Fprintln(w)

	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(w, "%-*s  ", widths[i], cell)
			}
		}
		fmt.Fprintln(w)
	}
}
