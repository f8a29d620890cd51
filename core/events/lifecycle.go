package events

import (
	"encoding/json"
	"fmt"

	"github.com/kilianp07/griddispatch/core/model"
)

// Kind discriminates lifecycle events. The zero value is reserved so an
// uninitialized event can never be mistaken for a real one; the bus
// only ever carries Created, Updated or Deleted.
type Kind int

const (
	KindUnspecified Kind = iota
	KindCreated
	KindUpdated
	KindDeleted
)

var kindNames = map[Kind]string{
	KindCreated: "created",
	KindUpdated: "updated",
	KindDeleted: "deleted",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unspecified"
}

// MarshalJSON encodes the kind as its wire name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a wire name back into the kind.
func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for kk, n := range kindNames {
		if n == s {
			*k = kk
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", s)
}

// Event is one dispatch lifecycle change. Dispatch is the record after
// the change, nil for deletions. Seq orders the events of one microgrid
// for the lifetime of the process.
type Event struct {
	Kind        Kind              `json:"kind"`
	MicrogridID model.MicrogridID `json:"microgrid_id"`
	ID          model.DispatchID  `json:"dispatch_id"`
	Dispatch    *model.Dispatch   `json:"dispatch,omitempty"`
	Seq         uint64            `json:"seq"`
}
