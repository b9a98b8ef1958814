package api

import "encoding/json"

// optional records whether a nullable JSON field was present and, if so,
// its value. It lets PATCH tell "absent" from "null".
type optional[T any] struct {
	Set   bool
	Value *T
}

func (o *optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// apply copies the field into dst when it was present.
func (o optional[T]) apply(dst **T) {
	if o.Set {
		*dst = o.Value
	}
}
