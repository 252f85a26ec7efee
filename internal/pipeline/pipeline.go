// Package pipeline drives one ingestion run: decoder -> normalizer ->
// batcher -> upsert strategy, strictly in sequence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"catalogetl/internal/batch"
	"catalogetl/internal/logx"
	"catalogetl/internal/metrics"
	jsonparser "catalogetl/internal/parser/json"
	"catalogetl/internal/registry"
	"catalogetl/internal/skiplog"
	"catalogetl/internal/storage"
	"catalogetl/internal/transformer"
	"catalogetl/internal/upsert"
)

// DefaultJob is the metrics job label when Options.Job is empty.
const DefaultJob = "catalogetl"

// Options tunes a run. The zero value is usable; DefaultOptions spells the
// defaults out.
type Options struct {
	Strategy        upsert.Mode
	BatchSize       int
	LeadingFlush    bool
	MinCompleteness float64
	// Aliases overrides the decoder's key aliases; nil keeps the defaults.
	Aliases map[string]string
	// Limit stops the run once this many records were accepted; the rest of
	// the input is left unread. Zero means no limit.
	Limit int

	// SkipLog, when set, receives one row per dropped record. The caller
	// owns it and closes it.
	SkipLog *skiplog.Log

	Job string
	// ProgressEvery logs a progress line every N windows at info level.
	// Zero logs progress at debug level only.
	ProgressEvery int
	Logger        *zerolog.Logger
}

// DefaultOptions returns the options Ingest uses.
func DefaultOptions() Options {
	return Options{
		Strategy:        upsert.ModeAuto,
		BatchSize:       batch.DefaultSize,
		MinCompleteness: transformer.DefaultMinCompleteness,
		Job:             DefaultJob,
		ProgressEvery:   100,
	}
}

// Result summarizes a run. It is filled in as far as the run got, also when
// Run returns an error.
type Result struct {
	RunID    uuid.UUID
	Strategy string
	// Accepted counts records that passed normalization.
	Accepted int
	// Skipped counts dropped records per skip reason, including
	// below_completeness.
	Skipped map[string]int
	Windows int
	Bytes   int64
	Digest  string
	// Truncated is set when Options.Limit ended the run early. Bytes and
	// Digest then cover only the consumed prefix.
	Truncated bool
	Stats     upsert.Stats
	Duration  time.Duration
}

// Dropped returns the total number of skipped records.
func (r Result) Dropped() int {
	n := 0
	for _, c := range r.Skipped {
		n += c
	}
	return n
}

// Ingest runs the pipeline with DefaultOptions and returns the number of
// accepted records.
func Ingest(ctx context.Context, r io.Reader, store storage.Store) (int, error) {
	res, err := Run(ctx, r, store, DefaultOptions())
	return res.Accepted, err
}

// Run ingests one JSON array from r into store.
//
// The first fatal error stops the run: a decode error (wrapping
// *json.MalformedInputError), a store error, or context cancellation.
// Windows committed before the error stay committed; a bulk strategy is
// aborted without merging.
func Run(ctx context.Context, r io.Reader, store storage.Store, opts Options) (Result, error) {
	if opts.Job == "" {
		opts.Job = DefaultJob
	}
	lg := logx.Component("pipeline")
	if opts.Logger != nil {
		lg = *opts.Logger
	}

	run := &runner{
		opts:  opts,
		start: time.Now(),
		hash:  xxh3.New(),
		res:   Result{RunID: uuid.New(), Skipped: make(map[string]int)},
	}
	run.log = lg.With().Str("run_id", run.res.RunID.String()).Logger()
	run.in = &countingReader{r: io.TeeReader(r, run.hash)}

	err := run.run(ctx, store)
	run.finish(err)
	return run.res, err
}

type runner struct {
	opts  Options
	log   zerolog.Logger
	start time.Time

	in       *countingReader
	hash     *xxh3.Hasher
	strategy upsert.Strategy
	res      Result
}

func (p *runner) run(ctx context.Context, store storage.Store) error {
	// The registry loads before a bulk session can pin a connection.
	reg, err := registry.Load(ctx, store)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	strat, err := upsert.Select(store, p.opts.Strategy, reg)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	p.strategy = strat
	p.res.Strategy = strat.Name()

	p.log.Info().
		Str("store", store.Kind()).
		Str("strategy", strat.Name()).
		Int("countries", reg.Len()).
		Msg("pipeline: started")

	if err := p.step("begin", func() error { return strat.Begin(ctx) }); err != nil {
		return p.abort(ctx, err)
	}

	dec := jsonparser.NewArrayDecoder(p.in, jsonparser.Options{Aliases: p.opts.Aliases})
	norm := transformer.NewNormalizer(transformer.Config{MinCompleteness: p.opts.MinCompleteness})
	var bopts []batch.Option
	if p.opts.LeadingFlush {
		bopts = append(bopts, batch.WithLeadingFlush())
	}
	b := batch.NewBatcher(p.opts.BatchSize, bopts...)

	for {
		if err := ctx.Err(); err != nil {
			return p.abort(ctx, fmt.Errorf("pipeline: %w", err))
		}
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return p.abort(ctx, fmt.Errorf("pipeline: decode: %w", err))
		}

		out := norm.Normalize(rec)
		if !out.OK() {
			p.skipped(dec.Index()-1, out.Skip)
			continue
		}
		p.res.Accepted++
		if w, ok := b.Add(out.Product); ok {
			if err := p.apply(ctx, w); err != nil {
				return p.abort(ctx, err)
			}
		}
		if p.opts.Limit > 0 && p.res.Accepted >= p.opts.Limit {
			p.res.Truncated = true
			p.log.Info().Int("limit", p.opts.Limit).Msg("pipeline: record limit reached")
			break
		}
	}
	if w, ok := b.Flush(); ok {
		if err := p.apply(ctx, w); err != nil {
			return p.abort(ctx, err)
		}
	}

	if err := p.step("finish", func() error { return strat.Finish(ctx) }); err != nil {
		return p.abort(ctx, fmt.Errorf("pipeline: finish %s: %w", strat.Name(), err))
	}
	return nil
}

func (p *runner) apply(ctx context.Context, w batch.Window) error {
	err := p.step("apply", func() error { return p.strategy.Apply(ctx, w) })
	if err != nil {
		return fmt.Errorf("pipeline: window %d (%d records): %w", w.Seq, w.Len(), err)
	}
	p.res.Windows++
	metrics.RecordWindows(p.opts.Job, 1)

	elapsed := time.Since(p.start)
	ev := p.log.Debug()
	if p.opts.ProgressEvery > 0 && p.res.Windows%p.opts.ProgressEvery == 0 {
		ev = p.log.Info()
	}
	ev.Int("window", w.Seq).
		Int("records", w.Len()).
		Int("accepted", p.res.Accepted).
		Int64("rps", rate(p.res.Accepted, elapsed)).
		Dur("elapsed", elapsed.Truncate(time.Millisecond)).
		Msg("pipeline: window applied")
	return nil
}

func (p *runner) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(p.opts.Job, p.strategy.Name(), name, err, time.Since(start))
	return err
}

func (p *runner) abort(ctx context.Context, err error) error {
	p.strategy.Abort(context.WithoutCancel(ctx))
	return err
}

func (p *runner) skipped(element int, s *transformer.Skip) {
	p.res.Skipped[string(s.Reason)]++
	p.log.Debug().
		Int("element", element).
		Str("reason", string(s.Reason)).
		Str("code", s.Code).
		Str("field", s.Field).
		Str("detail", s.Detail).
		Msg("pipeline: record skipped")

	if p.opts.SkipLog == nil {
		return
	}
	if err := p.opts.SkipLog.Add(string(s.Reason), element, s.Code, s.Field, s.Detail); err != nil {
		p.log.Warn().Err(err).Msg("pipeline: skip log write failed")
	}
}

// finish fills in the result and emits the summary line and metrics.
func (p *runner) finish(err error) {
	p.res.Duration = time.Since(p.start)
	p.res.Bytes = p.in.n
	p.res.Digest = fmt.Sprintf("%016x", p.hash.Sum64())
	if p.strategy != nil {
		p.res.Stats = p.strategy.Stats()
	}

	var skipped, filtered int
	for reason, n := range p.res.Skipped {
		metrics.RecordSkip(p.opts.Job, reason, int64(n))
		if transformer.SkipReason(reason).Filtered() {
			filtered += n
		} else {
			skipped += n
		}
	}
	metrics.RecordRecords(p.opts.Job, metrics.KindAccepted, int64(p.res.Accepted))
	metrics.RecordRecords(p.opts.Job, metrics.KindSkipped, int64(skipped))
	metrics.RecordRecords(p.opts.Job, metrics.KindFiltered, int64(filtered))
	metrics.RecordBytes(p.opts.Job, p.res.Bytes)

	ev := p.log.Info()
	if err != nil {
		ev = p.log.Error().Err(err)
	}
	ev.Str("strategy", p.res.Strategy).
		Int("accepted", p.res.Accepted).
		Int("skipped", skipped).
		Int("filtered", filtered).
		Str("skip_reasons", summarize(p.res.Skipped)).
		Int("windows", p.res.Windows).
		Str("bytes", humanize.Bytes(uint64(p.res.Bytes))).
		Str("digest", p.res.Digest).
		Bool("truncated", p.res.Truncated).
		Int64("rps", rate(p.res.Accepted, p.res.Duration)).
		Dur("elapsed", p.res.Duration.Truncate(time.Millisecond)).
		Msg("pipeline: summary")
}

func rate(n int, d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(float64(n) / d.Seconds())
}

func summarize(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
