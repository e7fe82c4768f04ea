package controller

import (
	"context"
	"encoding/json"
	"time"
)

// The Async variants run the operation on a new goroutine and deliver its
// Result on a buffered channel, so the goroutine never blocks if the caller
// stops waiting. Semantics are identical to the blocking forms; cancel ctx to
// abandon the database work.

// ListAsync is the asynchronous form of List.
func (c *Controller[T]) ListAsync(ctx context.Context) <-chan Result {
	return c.async("list_async", func() Result { return c.list(ctx) })
}

// GetAsync is the asynchronous form of Get.
func (c *Controller[T]) GetAsync(ctx context.Context, key string) <-chan Result {
	return c.async("get_async", func() Result { return c.get(ctx, key) })
}

// CreateAsync is the asynchronous form of Create.
func (c *Controller[T]) CreateAsync(ctx context.Context, input *T) <-chan Result {
	return c.async("create_async", func() Result { return c.create(ctx, input) })
}

// UpdateAsync is the asynchronous form of Update.
func (c *Controller[T]) UpdateAsync(ctx context.Context, key string, input *T) <-chan Result {
	return c.async("update_async", func() Result { return c.update(ctx, key, input) })
}

// PatchAsync is the asynchronous form of Patch.
func (c *Controller[T]) PatchAsync(ctx context.Context, key string, raw json.RawMessage) <-chan Result {
	return c.async("patch_async", func() Result { return c.patch(ctx, key, raw) })
}

// DeleteAsync is the asynchronous form of Delete.
func (c *Controller[T]) DeleteAsync(ctx context.Context, key string) <-chan Result {
	return c.async("delete_async", func() Result { return c.delete(ctx, key) })
}

func (c *Controller[T]) async(op string, fn func() Result) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		start := time.Now()
		ch <- c.observe(op, start, fn())
	}()
	return ch
}
