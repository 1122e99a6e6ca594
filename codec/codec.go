package codec

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
)

const naiveDatetime = "2006-01-02T15:04:05.999999999"

// Marshal encodes v into JSON. Unsupported types fail with
// queuejob.ErrUnsupportedType.
func Marshal(v any) ([]byte, error) {
	plain, err := toJSON(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(plain)
}

// Unmarshal decodes data produced by Marshal. Empty input decodes to nil.
func Unmarshal(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "codec: decode")
	}
	return fromJSON(raw)
}

// MarshalArgs encodes positional arguments. nil encodes as [].
func MarshalArgs(args []any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	return Marshal(args)
}

// UnmarshalArgs decodes positional arguments.
func UnmarshalArgs(data []byte) ([]any, error) {
	v, err := Unmarshal(data)
	if err != nil || v == nil {
		return nil, err
	}
	args, ok := v.([]any)
	if !ok {
		return nil, errors.Newf("codec: args: expected array, got %T", v)
	}
	return args, nil
}

// MarshalKwargs encodes keyword arguments. nil encodes as {}.
func MarshalKwargs(kwargs map[string]any) ([]byte, error) {
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return Marshal(kwargs)
}

// UnmarshalKwargs decodes keyword arguments.
func UnmarshalKwargs(data []byte) (map[string]any, error) {
	v, err := Unmarshal(data)
	if err != nil || v == nil {
		return nil, err
	}
	kwargs, ok := v.(map[string]any)
	if !ok {
		return nil, errors.Newf("codec: kwargs: expected object, got %T", v)
	}
	return kwargs, nil
}

// MarshalRecords encodes a record reference.
func MarshalRecords(r RecordRef) ([]byte, error) {
	return Marshal(r)
}

// UnmarshalRecords decodes a record reference. Empty input yields the zero
// RecordRef.
func UnmarshalRecords(data []byte) (RecordRef, error) {
	v, err := Unmarshal(data)
	if err != nil || v == nil {
		return RecordRef{}, err
	}
	r, ok := v.(RecordRef)
	if !ok {
		return RecordRef{}, errors.Newf("codec: records: expected %s, got %T", TagRecordRef, v)
	}
	return r, nil
}

func unsupported(v any) error {
	return errors.WithDetailf(errors.Wrapf(queuejob.ErrUnsupportedType, "codec: %T", v), "value: %v", v)
}

func toJSON(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, int64, json.Number:
		return x, nil
	case float64:
		return floatNumber(x)
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float32:
		return floatNumber(float64(x))
	case time.Time:
		return map[string]any{typeKey: TagDatetime, "value": x.Format(time.RFC3339Nano)}, nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return toJSON(*x)
	case Date:
		return map[string]any{typeKey: TagDate, "value": x.String()}, nil
	case RecordRef:
		out := map[string]any{typeKey: TagRecordRef, "model": x.Model, "ids": x.IDs}
		if x.IDs == nil {
			out["ids"] = []int64{}
		}
		if x.UID != 0 {
			out["uid"] = x.UID
		}
		if ctx := FilterContext(x.Context); ctx != nil {
			enc, err := toJSON(ctx)
			if err != nil {
				return nil, err
			}
			out["context"] = enc
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			enc, err := toJSON(e)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case map[string]any:
		if _, tagged := x[typeKey]; tagged {
			return nil, errors.Wrapf(queuejob.ErrUnsupportedType, "codec: map with reserved key %q", typeKey)
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			enc, err := toJSON(e)
			if err != nil {
				return nil, err
			}
			out[k] = enc
		}
		return out, nil
	}
	return reflectJSON(v)
}

// floatNumber keeps a fraction or exponent in the encoding of f so that
// integral floats decode back to float64.
func floatNumber(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, unsupported(f)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return json.Number(s), nil
}

// reflectJSON handles typed slices and string-keyed maps such as []int64 or
// map[string]string.
func reflectJSON(v any) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, unsupported(v)
		}
		out := make([]any, rv.Len())
		for i := range out {
			enc, err := toJSON(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, unsupported(v)
		}
		if rv.IsNil() {
			return nil, nil
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return toJSON(m)
	}
	return nil, unsupported(v)
}

func fromJSON(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if !strings.ContainsAny(string(x), ".eE") {
			if i, err := x.Int64(); err == nil {
				return i, nil
			}
		}
		f, err := x.Float64()
		if err != nil {
			return nil, errors.Wrapf(err, "codec: number %q", x)
		}
		return f, nil
	case []any:
		for i, e := range x {
			dec, err := fromJSON(e)
			if err != nil {
				return nil, err
			}
			x[i] = dec
		}
		return x, nil
	case map[string]any:
		tag, ok := x[typeKey].(string)
		if !ok {
			for k, e := range x {
				dec, err := fromJSON(e)
				if err != nil {
					return nil, err
				}
				x[k] = dec
			}
			return x, nil
		}
		return decodeTagged(tag, x)
	}
	return v, nil
}

func decodeTagged(tag string, obj map[string]any) (any, error) {
	switch tag {
	case TagDatetime:
		s, _ := obj["value"].(string)
		return parseDatetime(s)
	case TagDate:
		s, _ := obj["value"].(string)
		d, err := ParseDate(s)
		if err != nil {
			return nil, errors.Wrapf(err, "codec: %s", TagDate)
		}
		return d, nil
	case TagRecordRef:
		return decodeRecordRef(obj)
	}
	return nil, errors.Wrapf(queuejob.ErrUnsupportedType, "codec: unknown tag %q", tag)
}

func parseDatetime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(naiveDatetime, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "codec: %s", TagDatetime)
	}
	return t.UTC(), nil
}

func decodeRecordRef(obj map[string]any) (RecordRef, error) {
	var r RecordRef
	r.Model, _ = obj["model"].(string)
	if r.Model == "" {
		return RecordRef{}, errors.Newf("codec: %s without model", TagRecordRef)
	}
	rawIDs, _ := obj["ids"].([]any)
	r.IDs = make([]int64, 0, len(rawIDs))
	for _, raw := range rawIDs {
		n, err := toInt64(raw)
		if err != nil {
			return RecordRef{}, errors.Wrapf(err, "codec: %s ids", TagRecordRef)
		}
		r.IDs = append(r.IDs, n)
	}
	if raw, ok := obj["uid"]; ok && raw != nil {
		uid, err := toInt64(raw)
		if err != nil {
			return RecordRef{}, errors.Wrapf(err, "codec: %s uid", TagRecordRef)
		}
		r.UID = uid
	}
	if raw, ok := obj["context"].(map[string]any); ok {
		ctx, err := fromJSON(raw)
		if err != nil {
			return RecordRef{}, err
		}
		r.Context = FilterContext(ctx.(map[string]any))
	}
	return r, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, errors.Newf("non-integral id %v", n)
		}
		return int64(n), nil
	}
	return 0, errors.Newf("expected integer, got %T", v)
}
