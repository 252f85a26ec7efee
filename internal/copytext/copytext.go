// Package copytext encodes and decodes rows in the PostgreSQL COPY text
// format: one row per line, tab-separated columns, \N for NULL and
// backslash escapes for special characters.
package copytext

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Null is the encoded form of a NULL column.
const Null = `\N`

// EncodeValue renders v as a single escaped COPY text column.
func EncodeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return Null
	case string:
		return escape(x)
	case *string:
		if x == nil {
			return Null
		}
		return escape(*x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case *float64:
		if x == nil {
			return Null
		}
		return strconv.FormatFloat(*x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case bool:
		if x {
			return "t"
		}
		return "f"
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return escape(string(x))
	default:
		return escape(fmt.Sprint(x))
	}
}

var escaper = strings.NewReplacer(
	`\`, `\\`,
	"\t", `\t`,
	"\n", `\n`,
	"\r", `\r`,
)

func escape(s string) string { return escaper.Replace(s) }

// Writer writes rows to an underlying io.Writer. Call Flush when done.
type Writer struct {
	w    *bufio.Writer
	rows int
}

// NewWriter returns a Writer buffering into w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteRow encodes one row.
func (w *Writer) WriteRow(values []any) error {
	for i, v := range values {
		if i > 0 {
			if err := w.w.WriteByte('\t'); err != nil {
				return err
			}
		}
		if _, err := w.w.WriteString(EncodeValue(v)); err != nil {
			return err
		}
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Rows returns how many rows have been written.
func (w *Writer) Rows() int { return w.rows }

// Flush writes any buffered data.
func (w *Writer) Flush() error { return w.w.Flush() }

// ErrColumnCount is returned by Reader when a row's width differs from the
// expected column count.
var ErrColumnCount = errors.New("copytext: wrong number of columns")

// Reader decodes rows. Non-NULL columns come back as strings, NULL as nil.
type Reader struct {
	r    *bufio.Reader
	cols int
	line int
}

// NewReader returns a Reader over r. cols > 0 enforces the row width.
func NewReader(r io.Reader, cols int) *Reader {
	return &Reader{r: bufio.NewReader(r), cols: cols}
}

// Read returns the next row, or io.EOF after the last one. A "\." end
// marker line also ends the stream.
func (r *Reader) Read() ([]any, error) {
	line, err := r.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, err
	}
	r.line++
	line = strings.TrimSuffix(line, "\n")
	if line == `\.` {
		return nil, io.EOF
	}

	fields := strings.Split(line, "\t")
	if r.cols > 0 && len(fields) != r.cols {
		return nil, fmt.Errorf("%w: line %d has %d, want %d", ErrColumnCount, r.line, len(fields), r.cols)
	}
	out := make([]any, len(fields))
	for i, f := range fields {
		if f == Null {
			out[i] = nil
			continue
		}
		out[i] = unescape(f)
	}
	return out, nil
}

func unescape(s string) string {
	if strings.IndexByte(s, '\\') < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
