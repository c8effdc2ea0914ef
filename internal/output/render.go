package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/itchyny/gojq"
	"gopkg.in/yaml.v3"
)

// Response is the success envelope.
type Response struct {
	OK      bool   `json:"ok" yaml:"ok"`
	Data    any    `json:"data,omitempty" yaml:"data,omitempty"`
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// ErrorResponse is the error envelope.
type ErrorResponse struct {
	OK    bool   `json:"ok" yaml:"ok"`
	Error string `json:"error" yaml:"error"`
	Code  string `json:"code" yaml:"code"`
	Hint  string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// Format specifies the output format.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
	FormatQuiet
)

// ParseFormat maps a --format flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "json":
		return FormatJSON, nil
	case "yaml":
		return FormatYAML, nil
	case "quiet":
		return FormatQuiet, nil
	default:
		return FormatJSON, ErrUsage(fmt.Sprintf("unknown format: %s", s))
	}
}

// Options controls output behavior.
type Options struct {
	Format Format
	Filter string // gojq expression applied to the data payload
	Writer io.Writer
}

// Writer renders success and error envelopes.
type Writer struct {
	opts  Options
	query *gojq.Query
}

// New creates a new output writer. An invalid filter expression is reported
// immediately rather than on first use.
func New(opts Options) (*Writer, error) {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	w := &Writer{opts: opts}
	if opts.Filter != "" {
		q, err := gojq.Parse(opts.Filter)
		if err != nil {
			return nil, ErrUsageHint("invalid --jq expression", err.Error())
		}
		w.query = q
	}
	return w, nil
}

// OK renders a success envelope around data.
func (w *Writer) OK(data any, summary string) error {
	if w.opts.Format == FormatQuiet {
		return nil
	}
	if w.query != nil {
		return w.filtered(data)
	}
	return w.render(&Response{OK: true, Data: data, Summary: summary})
}

// Err renders an error envelope. It never fails; rendering errors during
// error reporting go to stderr.
func (w *Writer) Err(err error) {
	e := AsError(err)
	resp := &ErrorResponse{OK: false, Error: e.Message, Code: e.Code, Hint: e.Hint}
	if renderErr := w.render(resp); renderErr != nil {
		fmt.Fprintf(os.Stderr, "atlas: %s\n", e.Error())
	}
}

func (w *Writer) render(v any) error {
	switch w.opts.Format {
	case FormatYAML:
		enc := yaml.NewEncoder(w.opts.Writer)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w.opts.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// filtered runs the jq expression over the data payload and prints each
// result on its own line, the way jq itself would.
func (w *Writer) filtered(data any) error {
	// Round-trip through JSON so gojq sees plain maps and slices.
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var plain any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return err
	}

	iter := w.query.Run(plain)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return ErrUsageHint("jq filter failed", err.Error())
		}
		if s, isStr := v.(string); isStr {
			if _, err := fmt.Fprintln(w.opts.Writer, s); err != nil {
				return err
			}
			continue
		}
		out, err := gojq.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w.opts.Writer, "%s\n", out); err != nil {
			return err
		}
	}
	return nil
}
