package models

import "time"

// Document is one record of the collection. Key is the store's immutable,
// monotonically assigned row key; ID is the identity used for write-back.
type Document struct {
	Key  int64          `json:"key"`
	ID   string         `json:"id"`
	Body map[string]any `json:"body"`
}

// Sort fields with a unique, stable ordering.
const (
	SortByKey = "key"
	SortByID  = "id"
)

// Sort orders a windowed scan.
type Sort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Stable reports whether the ordering is total over the collection.
func (s Sort) Stable() bool {
	return s.Field == SortByKey || s.Field == SortByID
}

// Query selects documents for a scan or count.
type Query struct {
	// Populated lists offset paths that must all hold a non-null value.
	Populated []string `json:"populated,omitempty"`
	// IDFrom and IDTo bound document identities to [IDFrom, IDTo). Empty means open.
	IDFrom string `json:"id_from,omitempty"`
	IDTo   string `json:"id_to,omitempty"`
	// AfterKey restricts to keys strictly greater than it. Zero means unset.
	AfterKey int64 `json:"after_key,omitempty"`
}

// Window is one page of an ordered scan.
type Window struct {
	Skip  int `json:"skip"`
	Limit int `json:"limit"`
}

// Checkpoint is the durable progress marker of a recommit run.
type Checkpoint struct {
	RunID   string `json:"run_id"`
	Query   Query  `json:"query"`
	Skip    int    `json:"skip"`
	LastKey int64  `json:"last_key"`
	// Keyset marks a run that walks by key cursor; resuming it stays on LastKey.
	Keyset    bool      `json:"keyset"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	UpdatedAt time.Time `json:"updated_at"`
}
