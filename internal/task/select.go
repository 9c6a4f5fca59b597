package task

import (
	"context"
	"reflect"
	"time"
)

// Select waits on several awaitables (receive-only channels of any element
// type) and returns the 1-based index of the first one ready, matching the
// spec's select(A, B, …) combinator. The losing channels are not drained;
// callers that need cancellation semantics beyond "stop waiting" should
// cancel the context that feeds the losing awaitable's producer.
//
// Select also honors ctx: if ctx is done before any channel is ready, it
// returns index 0 and ctx.Err().
func Select(ctx context.Context, awaitables ...any) (int, any, error) {
	cases := make([]reflect.SelectCase, 0, len(awaitables)+1)
	for _, a := range awaitables {
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(a),
		})
	}
	cases = append(cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})

	chosen, recv, ok := reflect.Select(cases)
	if chosen == len(awaitables) {
		return 0, nil, ctx.Err()
	}
	if !ok {
		// Closed channel counts as a ready (zero-value) result, same as a
		// fired timer channel.
		return chosen + 1, reflect.Zero(recv.Type()).Interface(), nil
	}
	return chosen + 1, recv.Interface(), nil
}

// Sleep returns a channel that becomes ready once after d elapses, for use
// as one arm of Select (spec's sleep(time) primitive). It is context-free:
// callers race it against ctx via Select, or simply let it be garbage
// collected once abandoned — a fired, unread timer channel holds no
// resources beyond the channel itself.
func Sleep(d time.Duration) <-chan time.Time {
	return time.After(d)
}
