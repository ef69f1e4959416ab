package signer

import (
	"context"
	"io"

	"github.com/freehandle/signon/util"
)

// OnlineClient is the shared handle to a backend connection. The first
// caller dials; callers arriving meanwhile wait for the same dial. A failed
// dial is retried by the next caller. It is passed to signers explicitly so
// tests can supply their own.
type OnlineClient[T any] struct {
	lazy *util.Lazy[T]
}

func NewOnlineClient[T any](dial func(ctx context.Context) (T, error)) *OnlineClient[T] {
	return &OnlineClient[T]{lazy: util.NewLazy(dial)}
}

func (o *OnlineClient[T]) Get(ctx context.Context) (T, error) {
	client, err := o.lazy.Get(ctx)
	if err != nil {
		return client, Wrap(KindBackendUnavailable, "connect", err)
	}
	return client, nil
}

// Peek returns the client if one is connected, without dialing.
func (o *OnlineClient[T]) Peek() (T, bool) {
	return o.lazy.Peek()
}

// Reset drops the client, closing it when it is an io.Closer.
func (o *OnlineClient[T]) Reset() {
	client, ok := o.lazy.Reset()
	if !ok {
		return
	}
	if closer, isCloser := any(client).(io.Closer); isCloser {
		closer.Close()
	}
}
