// internal/format/formatter.go
package format

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"eink-power-cli/internal/model"
)

// Formatter renders command outcomes onto a stream
type Formatter interface {
	Outcome(outcome *model.Outcome) error
	Error(command string, err error) error
	Flush() error
}

// Options control what each renderer includes
type Options struct {
	// Raw appends the unparsed controller text in human output
	Raw bool
	// Quiet suppresses decoration in human output
	Quiet bool
}

// New returns the renderer for a configured format name
func New(name string, w io.Writer, opts Options) (Formatter, error) {
	switch strings.ToLower(name) {
	case "", "human":
		return &humanFormatter{w: w, opts: opts}, nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		return &jsonFormatter{enc: enc}, nil
	case "csv":
		return &csvFormatter{w: csv.NewWriter(w)}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", name)
	}
}

type humanFormatter struct {
	w    io.Writer
	opts Options
}

func (f *humanFormatter) Outcome(outcome *model.Outcome) error {
	var b strings.Builder

	if outcome.Result != nil {
		b.WriteString(outcome.Result.String())
		b.WriteByte('\n')
	}

	if m, ok := outcome.Result.(*model.Measurement); ok && !f.opts.Quiet {
		for _, d := range Derive(m) {
			fmt.Fprintf(&b, "   %s\n", d)
		}
	}

	if f.opts.Raw && outcome.Raw != nil {
		b.WriteString("--- raw response ---\n")
		for _, line := range outcome.Raw.Lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	_, err := io.WriteString(f.w, b.String())
	return err
}

func (f *humanFormatter) Error(command string, err error) error {
	_, werr := fmt.Fprintf(f.w, "Error: %s: %v\n", command, err)
	return werr
}

func (f *humanFormatter) Flush() error { return nil }

// jsonFormatter writes one envelope per line
type jsonFormatter struct {
	enc *json.Encoder
}

func (f *jsonFormatter) Outcome(outcome *model.Outcome) error {
	return f.enc.Encode(NewEnvelope(outcome))
}

func (f *jsonFormatter) Error(command string, err error) error {
	return f.enc.Encode(ErrorEnvelope(command, err))
}

func (f *jsonFormatter) Flush() error { return nil }

// csvFormatter writes timestamp, command, status, the data columns and an
// error column. Failed records leave the data columns empty and never change
// them; a successful record with fields outside the current columns starts a
// new header block.
type csvFormatter struct {
	w       *csv.Writer
	fields  []string
	columns map[string]bool
	header  bool
}

func (f *csvFormatter) Outcome(outcome *model.Outcome) error {
	env := NewEnvelope(outcome)
	if rerr := model.ResultError(outcome.Result); rerr != nil {
		return f.write(env, nil, rerr.Error())
	}
	return f.write(env, env.Data, "")
}

func (f *csvFormatter) Error(command string, err error) error {
	return f.write(ErrorEnvelope(command, err), nil, err.Error())
}

func (f *csvFormatter) write(env *Envelope, data map[string]any, errText string) error {
	if !f.header || !f.fits(data) {
		if data != nil {
			f.fields = SortedKeys(data)
		}
		f.columns = make(map[string]bool, len(f.fields))
		for _, key := range f.fields {
			f.columns[key] = true
		}

		header := append([]string{"timestamp", "command", "status"}, f.fields...)
		header = append(header, "error")
		if err := f.w.Write(header); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
		f.header = true
	}

	row := []string{env.Timestamp.Format(time.RFC3339), env.Command, env.Status}
	for _, key := range f.fields {
		row = append(row, cell(data[key]))
	}
	row = append(row, errText)
	if err := f.w.Write(row); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	f.w.Flush()
	return f.w.Error()
}

// fits reports whether every key of data has a column
func (f *csvFormatter) fits(data map[string]any) bool {
	for key := range data {
		if !f.columns[key] {
			return false
		}
	}
	return true
}

func (f *csvFormatter) Flush() error {
	f.w.Flush()
	return f.w.Error()
}

// SortedKeys returns the keys of data in lexical order
func SortedKeys(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cell(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
