package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"
)

var ErrInvalidBatchSize = errors.New("export batch size must be positive")

// Export streams every record created after since to w as JSON lines,
// paging through the ledger in batches. It returns the number of records
// written and the cursor of the last one, to resume a later export from.
func Export(ctx context.Context, l Ledger, w io.Writer, since time.Time, batch int) (int, Cursor, error) {
	cursor := Cursor{CreatedAt: since}
	if batch <= 0 {
		return 0, cursor, ErrInvalidBatchSize
	}

	enc := json.NewEncoder(w)
	written := 0
	for {
		recs, err := l.ListSince(ctx, cursor, batch)
		if err != nil {
			return written, cursor, err
		}
		for _, rec := range recs {
			if err := enc.Encode(rec); err != nil {
				return written, cursor, err
			}
			written++
			cursor = Cursor{CreatedAt: rec.CreatedAt, ID: rec.ID}
		}
		if len(recs) < batch {
			return written, cursor, nil
		}
	}
}
