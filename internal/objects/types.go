package objects

import "strings"

// CreateRevision passed as the expected revision means "create if absent".
const CreateRevision int64 = 0

// Object is one versioned state bucket of a device.
//
// Value is stored and returned byte-for-byte; it is conventionally a JSON
// document but the store never parses it.
type Object struct {
	Serial    string `json:"serial"`
	Key       string `json:"object_key"`
	Value     string `json:"value"`
	Revision  int64  `json:"object_revision"`
	UpdatedAt int64  `json:"object_timestamp"`
}

// Type returns the bucket type of the object, e.g. "shared" for
// "shared.09AA01AC31170EFK".
func (o Object) Type() string {
	return TypeOf(o.Key)
}

// TypeOf returns the part of an object key before the first dot.
func TypeOf(key string) string {
	typ, _, _ := strings.Cut(key, ".")
	return typ
}
