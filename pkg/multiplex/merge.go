// Package multiplex merges two frame sources into one ordered sequence.
//
// The merge is fair: whenever the favored source yields an item the favor
// moves to the other source, so neither side of an interactive session can
// starve the other. It ends as soon as either source ends; there is no
// half-duplex continuation.
package multiplex

import (
	"context"
	"errors"
)

// ErrDone is returned once either source has ended.
var ErrDone = errors.New("multiplex: source ended")

// Result is an item or an error produced by a source.
type Result[T any] struct {
	Value T
	Err   error
}

// Source identifies one side of the merge.
type Source int

const (
	Source1 Source = iota
	Source2
)

func (s Source) other() Source {
	if s == Source1 {
		return Source2
	}
	return Source1
}

func (s Source) String() string {
	if s == Source1 {
		return "source1"
	}
	return "source2"
}

// Status is the outcome of a single Poll.
type Status int

const (
	// NotReady means neither source had anything to offer.
	NotReady Status = iota
	// Ready means an item was returned.
	Ready
	// Done means the merged sequence has ended.
	Done
)

// Merge is a fair two-source merge. A closed channel marks the end of a
// source. Merge is not safe for concurrent use; one driver owns it.
type Merge[T any] struct {
	sources [2]<-chan Result[T]
	favor   Source
	err     error
	done    bool
}

// New creates a merge that polls s1 first.
func New[T any](s1, s2 <-chan Result[T]) *Merge[T] {
	return &Merge[T]{
		sources: [2]<-chan Result[T]{s1, s2},
		favor:   Source1,
	}
}

// Favor reports which source will be tried first on the next poll.
func (m *Merge[T]) Favor() Source {
	return m.favor
}

// Poll tries the favored source and then the other one without blocking.
// It returns the source the item came from together with the status.
// Errors and the end of either source are sticky.
func (m *Merge[T]) Poll() (T, Source, Status, error) {
	var zero T
	if m.err != nil {
		return zero, m.favor, Done, m.err
	}
	if m.done {
		return zero, m.favor, Done, nil
	}

	first := m.favor
	for _, src := range []Source{first, first.other()} {
		select {
		case r, ok := <-m.sources[src]:
			return m.accept(src, r, ok)
		default:
		}
	}
	return zero, m.favor, NotReady, nil
}

// Next returns the next merged item, blocking until one of the sources
// is ready or ctx is cancelled. It returns ErrDone after the merged
// sequence has ended.
func (m *Merge[T]) Next(ctx context.Context) (T, Source, error) {
	v, src, status, err := m.Poll()
	switch {
	case err != nil:
		return v, src, err
	case status == Done:
		return v, src, ErrDone
	case status == Ready:
		return v, src, nil
	}

	var (
		r  Result[T]
		ok bool
	)
	select {
	case r, ok = <-m.sources[m.favor]:
		src = m.favor
	case r, ok = <-m.sources[m.favor.other()]:
		src = m.favor.other()
	case <-ctx.Done():
		var zero T
		return zero, m.favor, ctx.Err()
	}

	v, src, status, err = m.accept(src, r, ok)
	if err != nil {
		return v, src, err
	}
	if status == Done {
		return v, src, ErrDone
	}
	return v, src, nil
}

func (m *Merge[T]) accept(src Source, r Result[T], ok bool) (T, Source, Status, error) {
	var zero T
	if !ok {
		m.done = true
		return zero, src, Done, nil
	}
	if r.Err != nil {
		m.err = r.Err
		return zero, src, Done, r.Err
	}
	if src == m.favor {
		m.favor = m.favor.other()
	}
	return r.Value, src, Ready, nil
}
