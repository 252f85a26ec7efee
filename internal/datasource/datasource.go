// Package datasource resolves the input argument of a load run into a byte
// stream: a local path, "-" for stdin, or an http(s) URL.
package datasource

import (
	"context"
	"io"
	"strings"

	"catalogetl/internal/datasource/file"
	"catalogetl/internal/datasource/httpds"
)

// Source is something a run can read products from.
type Source interface {
	// Name identifies the source in logs and error messages.
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Resolve maps arg onto a Source. stdin backs "-"; client serves URLs and
// may be nil, in which case a default client is built.
func Resolve(arg string, stdin io.Reader, client *httpds.Client) Source {
	switch {
	case arg == "-":
		return readerSource{name: "stdin", r: stdin}
	case strings.HasPrefix(arg, "http://"), strings.HasPrefix(arg, "https://"):
		if client == nil {
			client = httpds.NewClient(httpds.Config{})
		}
		return client.Source(arg)
	default:
		return file.NewLocal(arg)
	}
}

type readerSource struct {
	name string
	r    io.Reader
}

func (s readerSource) Name() string { return s.name }

func (s readerSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return io.NopCloser(s.r), nil
}
