package zipfile

import (
	"context"

	"github.com/alec-rabold/zipspy/pkg/reader"
	"github.com/alec-rabold/zipspy/pkg/source"
)

// Future is the pending result of an operation running in its own goroutine.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go runs fn in a new goroutine and returns a Future for its result.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.val, f.err = fn(ctx)
	}()
	return f
}

// Done is closed once the operation has completed.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the operation completes or ctx is done. Giving up on the
// wait does not stop the operation; cancel the context it was started with.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OpenAsync opens and parses an archive over src in the background.
func OpenAsync(ctx context.Context, src source.ByteSource, opts ...reader.Option) *Future[*reader.Archive] {
	return Go(ctx, func(ctx context.Context) (*reader.Archive, error) {
		return reader.Open(ctx, src, opts...)
	})
}

// ReadFileAsync is the asynchronous form of ReadFile.
func (x *Extractor) ReadFileAsync(ctx context.Context, name string) *Future[[]byte] {
	return Go(ctx, func(ctx context.Context) ([]byte, error) {
		return x.ReadFile(ctx, name)
	})
}

// ExtractFileAsync is the asynchronous form of ExtractFile.
func (x *Extractor) ExtractFileAsync(ctx context.Context, name string, sink Sink) *Future[int64] {
	return Go(ctx, func(ctx context.Context) (int64, error) {
		return x.ExtractFile(ctx, name, sink)
	})
}

// ExtractAllAsync is the asynchronous form of ExtractAll.
func (x *Extractor) ExtractAllAsync(ctx context.Context, dest Destination) *Future[Summary] {
	return Go(ctx, func(ctx context.Context) (Summary, error) {
		return x.ExtractAll(ctx, dest)
	})
}
