package job

import (
	"time"

	"github.com/cockroachdb/errors"

	queuejob "github.com/xraph/queuejob"
)

// WriteToken authorizes writes to protected fields. Only in-process code
// can obtain it.
type WriteToken struct{ _ byte }

var protectedWrites = &WriteToken{}

// ProtectedWrites returns the in-process write token. Handlers of remote
// update requests must pass nil instead.
func ProtectedWrites() *WriteToken { return protectedWrites }

// ProtectedFields cannot change after creation without the write token.
var ProtectedFields = []string{
	"uuid", "model", "method", "args", "kwargs", "records", "description", "date_created",
}

// Patch is a field name to value update, as received from a generic
// update endpoint.
type Patch map[string]any

// ApplyPatch writes patch into j. Protected fields are refused with
// ErrProtectedField unless token is the in-process write token. Nothing is
// written when any field is refused.
func ApplyPatch(j *Job, patch Patch, token *WriteToken) error {
	allowed := token != nil && token == protectedWrites
	for field := range patch {
		if isProtected(field) && !allowed {
			return errors.Wrapf(queuejob.ErrProtectedField, "%s", field)
		}
	}
	next := *j
	for field, value := range patch {
		if err := setField(&next, field, value); err != nil {
			return err
		}
	}
	*j = next
	return nil
}

func isProtected(field string) bool {
	for _, f := range ProtectedFields {
		if f == field {
			return true
		}
	}
	return false
}

func setField(j *Job, field string, value any) error {
	switch field {
	case "priority", "max_retries":
		n, err := asInt(field, value)
		if err != nil {
			return err
		}
		if field == "priority" {
			j.Priority = n
			return nil
		}
		if n < 0 {
			return errors.Newf("job: max_retries must not be negative, got %d", n)
		}
		j.MaxRetries = n
		return nil
	case "eta":
		if value == nil {
			j.ETA = nil
			return nil
		}
		s, err := asString(field, value)
		if err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return errors.Wrap(err, "job: eta")
		}
		t = t.UTC()
		j.ETA = &t
		return nil
	case "channel", "identity_key", "description", "uuid", "model", "method":
		s, err := asString(field, value)
		if err != nil {
			return err
		}
		*stringField(j, field) = s
		return nil
	case "args", "kwargs", "records", "date_created":
		return errors.Newf("job: field %q can only be set at build time", field)
	}
	return errors.Newf("job: unknown field %q", field)
}

func stringField(j *Job, field string) *string {
	switch field {
	case "channel":
		return &j.Channel
	case "identity_key":
		return &j.IdentityKey
	case "description":
		return &j.Description
	case "uuid":
		return &j.UUID
	case "model":
		return &j.Model
	default:
		return &j.Method
	}
}

func asInt(field string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, errors.Newf("job: field %q expects an integer, got %T", field, v)
}

func asString(field string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errors.Newf("job: field %q expects a string, got %T", field, v)
	}
	return s, nil
}
