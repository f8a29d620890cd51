package query

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/zeebo/blake3"

	"github.com/kilianp07/griddispatch/core/errs"
	"github.com/kilianp07/griddispatch/core/model"
)

// cursorChecksumLen is the number of BLAKE3 bytes prepended to the
// cursor body so mangled tokens fail fast instead of decoding into
// garbage positions.
const cursorChecksumLen = 16

// cursorPayload is the resume position: the sort order it was taken
// under and the last-seen key value and id. The position survives
// deletion of the anchor dispatch since it only names an order point,
// not a record.
type cursorPayload struct {
	Key        string `json:"key"`
	Descending bool   `json:"desc"`
	Value      string `json:"value,omitempty"`
	ID         uint64 `json:"id"`
}

func encodeCursor(d *model.Dispatch, key SortKey, descending bool) string {
	p := cursorPayload{
		Key:        key.String(),
		Descending: descending,
		ID:         uint64(d.ID),
	}
	if key != SortID {
		p.Value = keyTime(d, key).UTC().Format(time.RFC3339Nano)
	}
	body, _ := json.Marshal(p)
	sum := blake3.Sum256(body)
	token := make([]byte, 0, cursorChecksumLen+len(body))
	token = append(token, sum[:cursorChecksumLen]...)
	token = append(token, body...)
	return base64.RawURLEncoding.EncodeToString(token)
}

func decodeCursor(token string, key SortKey, descending bool) (cursorPayload, error) {
	var p cursorPayload
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return p, errs.InvalidArgf("pagination cursor is not valid base64")
	}
	if len(raw) <= cursorChecksumLen {
		return p, errs.InvalidArgf("pagination cursor is truncated")
	}
	body := raw[cursorChecksumLen:]
	sum := blake3.Sum256(body)
	for i := 0; i < cursorChecksumLen; i++ {
		if raw[i] != sum[i] {
			return p, errs.InvalidArgf("pagination cursor is corrupted")
		}
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return p, errs.InvalidArgf("pagination cursor is malformed")
	}
	if p.Key != key.String() || p.Descending != descending {
		return p, errs.InvalidArgf("pagination cursor was issued under a different sort order")
	}
	if key != SortID {
		if _, err := time.Parse(time.RFC3339Nano, p.Value); err != nil {
			return p, errs.InvalidArgf("pagination cursor carries a bad %s value", p.Key)
		}
	}
	return p, nil
}

// afterCursor reports whether d sorts strictly after the cursor
// position, i.e. belongs on a later page.
func afterCursor(p cursorPayload, d *model.Dispatch, key SortKey, descending bool) bool {
	var c int
	if key == SortID {
		switch {
		case uint64(d.ID) < p.ID:
			c = -1
		case uint64(d.ID) > p.ID:
			c = 1
		}
	} else {
		anchor, _ := time.Parse(time.RFC3339Nano, p.Value)
		c = compareTime(keyTime(d, key), anchor)
	}
	if c == 0 {
		// Same key value: the id tiebreak is ascending in both
		// directions, and the anchor itself is never "after".
		return uint64(d.ID) > p.ID
	}
	if descending {
		return c < 0
	}
	return c > 0
}
