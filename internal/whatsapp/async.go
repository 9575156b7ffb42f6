package whatsapp

import "context"

// Result carries the outcome of a call started with Async.
type Result[T any] struct {
	Value T
	Err   error
}

// Async runs fn in its own goroutine and delivers its single result on the
// returned channel. The channel is buffered, so abandoning it does not leak the goroutine.
//
//	res := <-whatsapp.Async(ctx, func(ctx context.Context) (*whatsapp.SendResponse, error) {
//		return client.SendText(ctx, to, "hi")
//	})
func Async[T any](ctx context.Context, fn func(context.Context) (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		v, err := fn(ctx)
		ch <- Result[T]{Value: v, Err: err}
	}()
	return ch
}

// SendTextAsync is the non-blocking form of SendText.
func (c *Client) SendTextAsync(ctx context.Context, to, body string, opts ...SendOption) <-chan Result[*SendResponse] {
	return Async(ctx, func(ctx context.Context) (*SendResponse, error) {
		return c.SendText(ctx, to, body, opts...)
	})
}

// SendInteractiveAsync is the non-blocking form of SendInteractive.
func (c *Client) SendInteractiveAsync(ctx context.Context, to, body string, markup Markup, opts ...SendOption) <-chan Result[*SendResponse] {
	return Async(ctx, func(ctx context.Context) (*SendResponse, error) {
		return c.SendInteractive(ctx, to, body, markup, opts...)
	})
}
