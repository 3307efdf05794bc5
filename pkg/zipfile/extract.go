package zipfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/alec-rabold/zipspy/pkg/reader"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrPartialFailure is matched by the error ExtractAll returns when at least
// one entry failed.
var ErrPartialFailure = errors.New("zip: partial extraction failure")

// Extractor extracts & decompresses entries of an opened archive
type Extractor struct {
	archive *reader.Archive
	log     log.FieldLogger
	workers int
	reads   singleflight.Group
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithWorkers sets how many entries ExtractAll writes in parallel.
// Values <= 0 select runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(x *Extractor) {
		x.workers = n
	}
}

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(l log.FieldLogger) Option {
	return func(x *Extractor) {
		x.log = l
	}
}

// NewExtractor creates a new instance of Extractor
func NewExtractor(a *reader.Archive, opts ...Option) *Extractor {
	x := &Extractor{archive: a}
	for _, opt := range opts {
		opt(x)
	}
	if x.workers <= 0 {
		x.workers = runtime.GOMAXPROCS(0)
	}
	if x.log == nil {
		x.log = log.StandardLogger()
	}
	return x
}

// Archive returns the archive being extracted.
func (x *Extractor) Archive() *reader.Archive { return x.archive }

// Result is the outcome of extracting one entry.
type Result struct {
	Path  string
	Bytes int64
	Err   error
}

// Summary describes a whole-archive extraction.
type Summary struct {
	Files   int
	Dirs    int
	Bytes   int64
	Results []Result
}

// Failure pairs an entry path with the error that stopped its extraction.
type Failure struct {
	Path string
	Err  error
}

// PartialFailure lists the entries ExtractAll could not extract.
type PartialFailure struct {
	Failures []Failure
}

func (e *PartialFailure) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d entries failed", ErrPartialFailure, len(e.Failures))
	for i, f := range e.Failures {
		if i == 3 {
			fmt.Fprintf(&sb, "; and %d more", len(e.Failures)-i)
			break
		}
		fmt.Fprintf(&sb, "; %s: %v", f.Path, f.Err)
	}
	return sb.String()
}

// Unwrap lets errors.Is match ErrPartialFailure as well as the kind of any
// individual failure.
func (e *PartialFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, ErrPartialFailure)
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// ReadFile returns the decompressed contents of the named entry. Concurrent
// calls for the same name share one decode; every caller gets its own copy.
func (x *Extractor) ReadFile(ctx context.Context, name string) ([]byte, error) {
	ch := x.reads.DoChan(name, func() (interface{}, error) {
		return x.archive.ReadFile(ctx, name)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if isContextErr(res.Err) && ctx.Err() == nil {
				// The shared read was cancelled by another caller.
				return x.archive.ReadFile(ctx, name)
			}
			return nil, res.Err
		}
		b := res.Val.([]byte)
		if res.Shared {
			b = bytes.Clone(b)
		}
		return b, nil
	}
}

// ExtractFile streams the named entry into sink and finishes it, returning
// the number of bytes written.
//
// If the entry cannot be resolved the sink is left exactly as the caller
// created it. Once the entry is resolved the sink is always finished, even
// when the entry cannot be decoded or writing fails part way.
func (x *Extractor) ExtractFile(ctx context.Context, name string, sink Sink) (int64, error) {
	e, err := x.archive.Find(name)
	if err != nil {
		x.log.WithField("path", name).WithError(err).Warn("entry not extracted")
		return 0, err
	}
	return x.extractEntry(ctx, e, sink)
}

// ExtractFileTo extracts the named entry into dest under its own name,
// creating parent directories first.
func (x *Extractor) ExtractFileTo(ctx context.Context, name string, dest Destination) (int64, error) {
	e, err := x.archive.Find(name)
	if err != nil {
		x.log.WithField("path", name).WithError(err).Warn("entry not extracted")
		return 0, err
	}
	p, err := cleanPath(e.Name)
	if err != nil {
		return 0, err
	}
	if p == "" || e.IsDir() {
		return 0, reader.NewError(reader.ErrSink, "extract", name, errors.New("entry is a directory"))
	}
	for _, dir := range parents(p) {
		if err := dest.CreateDir(dir); err != nil {
			return 0, reader.NewError(reader.ErrSink, "create directory", dir, err)
		}
	}
	return x.extractTo(ctx, e, p, dest)
}

// ExtractAll extracts every entry into dest.
//
// Directory records (names ending in "/") become directories, and the
// parents of every file are created from its path prefixes whether or not
// the archive records them. Directories are created before any file is
// written; files are then written by up to the configured number of
// workers. Entries that fail are collected and reported together as a
// *PartialFailure once every entry has finished. When a name appears more
// than once, only its first occurrence is extracted.
//
// If ctx is cancelled no further entries are started, entries in flight stop
// at their next read, and their files are left truncated.
func (x *Extractor) ExtractAll(ctx context.Context, dest Destination) (Summary, error) {
	var summary Summary
	entries, err := x.archive.Entries()
	if err != nil {
		return summary, err
	}

	type job struct {
		entry reader.Entry
		path  string
	}
	var (
		jobs     []job
		failures []Failure
		dirs     = make(map[string]bool)
		files    = make(map[string]bool)
	)
	mkdir := func(p string) error {
		if p == "" || dirs[p] {
			return nil
		}
		if err := dest.CreateDir(p); err != nil {
			return reader.NewError(reader.ErrSink, "create directory", p, err)
		}
		dirs[p] = true
		summary.Dirs++
		return nil
	}

	for _, e := range entries {
		p, err := cleanPath(e.Name)
		if err == nil {
			for _, dir := range parents(p) {
				if err = mkdir(dir); err != nil {
					break
				}
			}
		}
		if err == nil && e.IsDir() {
			err = mkdir(p)
		}
		if err != nil {
			x.log.WithField("path", e.Name).WithError(err).Warn("entry not extracted")
			failures = append(failures, Failure{Path: e.Name, Err: err})
			continue
		}
		if e.IsDir() || p == "" {
			continue
		}
		if files[p] {
			x.log.WithField("path", e.Name).Warn("skipping duplicate entry")
			continue
		}
		files[p] = true
		jobs = append(jobs, job{entry: e, path: p})
	}

	results := make([]Result, len(jobs))
	var g errgroup.Group
	g.SetLimit(x.workers)
	for i, j := range jobs {
		if err := ctx.Err(); err != nil {
			results[i] = Result{Path: j.entry.Name, Err: err}
			continue
		}
		i, j := i, j
		g.Go(func() error {
			n, err := x.extractTo(ctx, j.entry, j.path, dest)
			results[i] = Result{Path: j.entry.Name, Bytes: n, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Err != nil {
			failures = append(failures, Failure{Path: r.Path, Err: r.Err})
			continue
		}
		summary.Files++
		summary.Bytes += r.Bytes
	}
	summary.Results = results

	x.log.WithFields(log.Fields{
		"files":  summary.Files,
		"dirs":   summary.Dirs,
		"bytes":  summary.Bytes,
		"failed": len(failures),
	}).Info("extraction finished")

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if len(failures) > 0 {
		return summary, &PartialFailure{Failures: failures}
	}
	return summary, nil
}

func (x *Extractor) extractTo(ctx context.Context, e reader.Entry, p string, dest Destination) (int64, error) {
	sink, err := dest.CreateFile(p)
	if err != nil {
		err = reader.NewError(reader.ErrSink, "create file", e.Name, err)
		x.log.WithField("path", e.Name).WithError(err).Warn("entry not extracted")
		return 0, err
	}
	return x.extractEntry(ctx, e, sink)
}

func (x *Extractor) extractEntry(ctx context.Context, e reader.Entry, sink Sink) (int64, error) {
	logger := x.log.WithField("path", e.Name)
	rc, err := x.archive.OpenEntry(ctx, e)
	if err != nil {
		if ferr := sink.Finish(); ferr != nil {
			logger.WithError(ferr).Warn("finishing sink")
		}
		logger.WithError(err).Warn("entry not extracted")
		return 0, err
	}
	defer rc.Close()

	n, err := io.Copy(sinkWriter{sink: sink, name: e.Name}, rc)
	if ferr := sink.Finish(); ferr != nil && err == nil {
		err = reader.NewError(reader.ErrSink, "finish", e.Name, ferr)
	}
	if err != nil {
		logger.WithError(err).WithField("written", n).Warn("entry extraction failed")
		return n, err
	}
	logger.WithField("bytes", n).Debug("entry extracted")
	return n, nil
}

// sinkWriter tags write failures as ErrSink so they stay distinct from
// source and decode failures.
type sinkWriter struct {
	sink Sink
	name string
}

func (w sinkWriter) Write(p []byte) (int, error) {
	n, err := w.sink.Write(p)
	if err != nil {
		err = reader.NewError(reader.ErrSink, "write", w.name, err)
	}
	return n, err
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
