package coordinator

import "encoding/json"

// BatchItem is the outcome of one date or one weekday in a batch.
type BatchItem struct {
	Key     string
	Skipped bool
	Err     error
}

func (i BatchItem) MarshalJSON() ([]byte, error) {
	type view struct {
		Key     string `json:"key"`
		OK      bool   `json:"ok"`
		Skipped bool   `json:"skipped,omitempty"`
		Error   string `json:"error,omitempty"`
	}
	v := view{Key: i.Key, OK: i.Err == nil, Skipped: i.Skipped}
	if i.Err != nil {
		v.Error = i.Err.Error()
	}
	return json.Marshal(v)
}

// BatchResult aggregates per-item outcomes; one failure does not stop the rest.
type BatchResult struct {
	Success bool        `json:"success"`
	Items   []BatchItem `json:"items"`
}

func (r *BatchResult) add(key string, skipped bool, err error) {
	r.Items = append(r.Items, BatchItem{Key: key, Skipped: skipped, Err: err})
	if err != nil {
		r.Success = false
	}
}

// Failed returns the items that ended with an error.
func (r *BatchResult) Failed() []BatchItem {
	var out []BatchItem
	for _, it := range r.Items {
		if it.Err != nil {
			out = append(out, it)
		}
	}
	return out
}

func newBatch() *BatchResult {
	return &BatchResult{Success: true}
}
