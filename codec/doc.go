// Package codec serializes job arguments, keyword arguments and record
// references as JSON with a closed set of tagged variants.
//
// Plain JSON values (null, bool, numbers, strings, arrays, objects) are
// written as is. time.Time, [Date] and [RecordRef] are written as objects
// carrying a "_type" tag:
//
//	{"_type": "datetime_isoformat", "value": "2024-05-01T10:00:00Z"}
//	{"_type": "date_isoformat", "value": "2024-05-01"}
//	{"_type": "record_ref", "model": "res.partner", "ids": [1, 2], "uid": 2}
//
// Any other Go type fails to encode with queuejob.ErrUnsupportedType.
// Decoding yields the canonical forms: int64 for integral numbers, float64
// for the others, []any and map[string]any for containers.
package codec
