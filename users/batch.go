package users

import "iter"

// Batch partitions a lazy subscriber stream into slices of size batchSize.
// Every batch is full except possibly the last, which holds the remainder
// and is omitted entirely when there is none. Input order is preserved
// within and across batches, and no batch is produced before its
// subscribers have been pulled from the source, so the full stream is never
// materialized.
//
// An error from the source stream is yielded with whatever partial batch
// had accumulated discarded, and ends the sequence. batchSize must be
// positive; Batch panics otherwise, since a non-positive size is a
// programming error.
func Batch(src iter.Seq2[Subscriber, error], batchSize int) iter.Seq2[[]Subscriber, error] {
	if batchSize <= 0 {
		panic("users: batch size must be positive")
	}
	return func(yield func([]Subscriber, error) bool) {
		batch := make([]Subscriber, 0, batchSize)
		for sub, err := range src {
			if err != nil {
				yield(nil, err)
				return
			}
			batch = append(batch, sub)
			if len(batch) == batchSize {
				if !yield(batch, nil) {
					return
				}
				batch = make([]Subscriber, 0, batchSize)
			}
		}
		if len(batch) > 0 {
			yield(batch, nil)
		}
	}
}
