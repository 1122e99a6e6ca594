package codec_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	queuejob "github.com/xraph/queuejob"
	"github.com/xraph/queuejob/codec"
)

func TestRoundTripCanonicalValues(t *testing.T) {
	when := time.Date(2024, 5, 1, 10, 30, 0, 123000000, time.UTC)
	in := []any{
		nil,
		true,
		"hello",
		int64(42),
		3.5,
		2.0,
		1e21,
		[]any{int64(1), "two", 4.0},
		map[string]any{"nested": map[string]any{"x": int64(1)}},
		codec.Date{Year: 2024, Month: time.February, Day: 29},
		codec.RecordRef{Model: "res.partner", IDs: []int64{3, 1}, UID: 2},
	}

	data, err := codec.MarshalArgs(in)
	require.NoError(t, err)
	out, err := codec.UnmarshalArgs(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	data, err = codec.Marshal(when)
	require.NoError(t, err)
	got, err := codec.Unmarshal(data)
	require.NoError(t, err)
	gotTime, ok := got.(time.Time)
	require.True(t, ok, "got %T", got)
	assert.True(t, when.Equal(gotTime), "got %v want %v", gotTime, when)
}

func TestIntegralFloatsStayFloat(t *testing.T) {
	data, err := codec.MarshalKwargs(map[string]any{"qty": 2.0, "ratio": float32(1)})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"qty":2.0`)

	kwargs, err := codec.UnmarshalKwargs(data)
	require.NoError(t, err)
	assert.Equal(t, 2.0, kwargs["qty"])
	assert.Equal(t, 1.0, kwargs["ratio"])

	// Documents written by other producers keep their number syntax.
	v, err := codec.Unmarshal([]byte(`[3, 3.0, 3e0]`))
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), 3.0, 3.0}, v)
}

func TestIntegersNormalizeToInt64(t *testing.T) {
	data, err := codec.MarshalKwargs(map[string]any{"n": 7, "ids": []int{1, 2}})
	require.NoError(t, err)
	kwargs, err := codec.UnmarshalKwargs(data)
	require.NoError(t, err)
	assert.Equal(t, int64(7), kwargs["n"])
	assert.Equal(t, []any{int64(1), int64(2)}, kwargs["ids"])
}

func TestUnsupportedTypeFails(t *testing.T) {
	tests := []struct {
		name string
		v    any
	}{
		{"struct", struct{ A int }{1}},
		{"channel", make(chan int)},
		{"func", func() {}},
		{"bytes", []byte("raw")},
		{"int keys", map[int]string{1: "a"}},
		{"nested", []any{1, struct{}{}}},
		{"reserved key", map[string]any{"_type": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Marshal(tt.v)
			require.Error(t, err)
			assert.True(t, errors.Is(err, queuejob.ErrUnsupportedType), "err = %v", err)
		})
	}
}

func TestDecodeFiltersRecordContext(t *testing.T) {
	raw := []byte(`{"_type":"record_ref","model":"res.users","ids":[5],"uid":1,
		"context":{"lang":"fr_FR","tz":"Europe/Paris","uid":99,"force_company":3}}`)
	r, err := codec.UnmarshalRecords(raw)
	require.NoError(t, err)
	assert.Equal(t, "res.users", r.Model)
	assert.Equal(t, []int64{5}, r.IDs)
	assert.Equal(t, int64(1), r.UID)
	assert.Equal(t, map[string]any{"lang": "fr_FR", "tz": "Europe/Paris"}, r.Context)
}

func TestDecodeNaiveDatetime(t *testing.T) {
	got, err := codec.Unmarshal([]byte(`{"_type":"datetime_isoformat","value":"2017-03-01T12:00:00.5"}`))
	require.NoError(t, err)
	want := time.Date(2017, 3, 1, 12, 0, 0, 500000000, time.UTC)
	assert.True(t, want.Equal(got.(time.Time)))
}

func TestDecodeUnknownTag(t *testing.T) {
	_, err := codec.Unmarshal([]byte(`{"_type":"pickle","value":"x"}`))
	assert.True(t, errors.Is(err, queuejob.ErrUnsupportedType))
}

func TestEmptyInput(t *testing.T) {
	args, err := codec.UnmarshalArgs(nil)
	require.NoError(t, err)
	assert.Nil(t, args)

	r, err := codec.UnmarshalRecords([]byte("  "))
	require.NoError(t, err)
	assert.Equal(t, codec.RecordRef{}, r)
}

func TestRecordRefSlice(t *testing.T) {
	r := codec.RecordRef{Model: "m", IDs: []int64{1, 2, 3, 4}, UID: 7}
	s := r.Slice(1, 3)
	assert.Equal(t, []int64{2, 3}, s.IDs)
	assert.Equal(t, int64(7), s.UID)
	s.IDs[0] = 99
	assert.Equal(t, int64(2), r.IDs[1], "slice must not alias")
}
