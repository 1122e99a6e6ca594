// Package id defines TypeID identifiers for the secondary queue entities.
//
// Batches, cron entries, runner instances and failure messages carry a
// prefix-qualified, K-sortable identifier in the format "prefix_suffix".
// Jobs are keyed by plain UUIDs instead, because the uuid travels in the
// runjob URL and in NOTIFY payloads.
package id

import (
	"database/sql/driver"

	"github.com/cockroachdb/errors"
	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

const (
	PrefixBatch   Prefix = "batch"
	PrefixCron    Prefix = "cron"
	PrefixRunner  Prefix = "rnr"
	PrefixMessage Prefix = "msg"
)

// ID wraps a TypeID. The zero value is Nil.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates an ID with the given prefix. It panics on an invalid prefix.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(errors.Wrapf(err, "id: invalid prefix %q", prefix))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string such as "batch_01h2xcejqtf2nbrexx3vqjhp41".
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, errors.Newf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, errors.Wrapf(err, "id: parse %q", s)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and checks its prefix.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, errors.Newf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return parsed
}

// ──────────────────────────────────────────────────
// Constructors and parsers
// ──────────────────────────────────────────────────

func NewBatchID() ID   { return New(PrefixBatch) }
func NewCronID() ID    { return New(PrefixCron) }
func NewRunnerID() ID  { return New(PrefixRunner) }
func NewMessageID() ID { return New(PrefixMessage) }

func ParseBatchID(s string) (ID, error)   { return ParseWithPrefix(s, PrefixBatch) }
func ParseCronID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixCron) }
func ParseRunnerID(s string) (ID, error)  { return ParseWithPrefix(s, PrefixRunner) }
func ParseMessageID(s string) (ID, error) { return ParseWithPrefix(s, PrefixMessage) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the prefix component.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}
	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return errors.Newf("id: cannot scan %T into ID", src)
	}
}
