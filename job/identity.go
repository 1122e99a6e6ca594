package job

import (
	"crypto/sha1" //nolint:gosec // identity hash, not a security boundary
	"encoding/hex"
	"fmt"

	"github.com/xraph/queuejob/codec"
)

// IdentityExact derives an identity key from the model, method, sorted
// record ids, args and kwargs of j. Two jobs calling the same method with
// the same arguments share the key.
func IdentityExact(j *Job) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(j.Model))
	h.Write([]byte(j.Method))
	fmt.Fprint(h, j.Records.SortedIDs())
	// Marshal errors are impossible here: Build already encoded both.
	args, _ := codec.MarshalArgs(j.Args)
	h.Write(args)
	kwargs, _ := codec.MarshalKwargs(j.Kwargs)
	h.Write(kwargs)
	return hex.EncodeToString(h.Sum(nil))
}
