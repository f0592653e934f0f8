package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Format represents the output format type
type Format string

const (
	// FormatText is the default human-readable text format
	FormatText Format = "text"
	// FormatJSON is the JSON output format
	FormatJSON Format = "json"
	// FormatYAML is the YAML output format
	FormatYAML Format = "yaml"
)

const flagName = "format"

// Formatter handles different output formats
type Formatter struct {
	format Format
	writer io.Writer
}

// New creates a new Formatter with the specified format
func New(format Format) *Formatter {
	return &Formatter{
		format: format,
		writer: os.Stdout,
	}
}

// SetWriter sets a custom writer for output (useful for testing)
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// Output writes the data in the configured format. In text format a
// fmt.Stringer is written as is and a slice of them is separated by blank
// lines.
func (f *Formatter) Output(data interface{}) error {
	switch f.format {
	case FormatJSON:
		encoder := json.NewEncoder(f.writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	case FormatYAML:
		encoder := yaml.NewEncoder(f.writer)
		encoder.SetIndent(2)
		if err := encoder.Encode(data); err != nil {
			return err
		}
		return encoder.Close()
	case FormatText:
		return f.outputText(data)
	default:
		return fmt.Errorf("unsupported output format: %s", f.format)
	}
}

func (f *Formatter) outputText(data interface{}) error {
	var text string
	switch v := data.(type) {
	case fmt.Stringer:
		text = v.String()
	case []fmt.Stringer:
		parts := make([]string, len(v))
		for i, s := range v {
			parts[i] = strings.TrimSuffix(s.String(), "\n")
		}
		text = strings.Join(parts, "\n\n")
	default:
		text = fmt.Sprintf("%v", data)
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	_, err := io.WriteString(f.writer, text)
	return err
}

// AddFormatFlag adds a --format flag to a cobra command
func AddFormatFlag(cmd *cobra.Command) {
	cmd.Flags().String(flagName, string(FormatText), "Output format for -G (text|json|yaml)")
}

// GetFormatFromCmd extracts the output format from a cobra command's flags
func GetFormatFromCmd(cmd *cobra.Command) (Format, error) {
	formatStr, err := cmd.Flags().GetString(flagName)
	if err != nil {
		return FormatText, err
	}

	format := Format(formatStr)
	switch format {
	case FormatText, FormatJSON, FormatYAML:
		return format, nil
	default:
		return FormatText, fmt.Errorf("invalid output format: %s (must be 'text', 'json' or 'yaml')", formatStr)
	}
}
