// Package commandqueue serializes work per key.
//
// Each key owns a lane. Work submitted to one lane runs in submission order
// and, at the default concurrency of one, never overlaps. Lanes are
// independent of each other. Agent runs that share a session key go through
// the same lane so one conversation never has two runs in flight.
//
// Work whose context is done before it reaches the head of its lane is
// dropped without running. Work that has started is always waited for.
//
//	q := commandqueue.New()
//	defer q.Close()
//	v, err := q.EnqueueWithContext(ctx, "session:abc", func(ctx context.Context) (interface{}, error) {
//		return runner.Execute(ctx, question, history)
//	})
package commandqueue
