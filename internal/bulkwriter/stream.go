package bulkwriter

import "context"

// InsertStream consumes an asynchronous producer of record batches over
// batches, applying the same chunking/bisect discipline as Insert to each
// batch in turn. There is no host UI thread to yield to in a Go binary, so
// "stay responsive" becomes: never hold the store's single connection
// across more than one transaction at a time, which Insert already
// guarantees per chunk — InsertStream's own contribution is simply not
// buffering the whole producer before writing.
func (w *Writer) InsertStream(ctx context.Context, table string, batches <-chan []Record, opts Options) (Result, error) {
	opts = opts.normalize()
	var total Result

	for {
		select {
		case <-ctx.Done():
			total.Aborted = true
			return total, ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				return total, nil
			}
			res, err := w.Insert(ctx, table, batch, opts)
			if err != nil {
				return total, err
			}
			total.InsertedRecords += res.InsertedRecords
			total.FailedRecords += res.FailedRecords
			total.FailedIDs = append(total.FailedIDs, res.FailedIDs...)
			total.Failures = append(total.Failures, res.Failures...)
			total.ChunksBisected += res.ChunksBisected
			total.ChunksTotal += res.ChunksTotal
			if res.Aborted {
				total.Aborted = true
				return total, nil
			}
		}
	}
}
