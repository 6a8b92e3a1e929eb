// Package optime implements the totally ordered log position used to track
// fetch progress against a remote oplog.
package optime

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OpTime is a position in the oplog: a per-term monotonic timestamp paired
// with the election term it was written under. It is ordered lexicographically
// by term then timestamp.
type OpTime struct {
	Timestamp primitive.Timestamp
	Term      int64
}

// New builds an OpTime from a BSON timestamp and a term.
func New(ts primitive.Timestamp, term int64) OpTime {
	return OpTime{Timestamp: ts, Term: term}
}

// IsZero reports whether ot is the zero-value OpTime.
func (ot OpTime) IsZero() bool {
	return ot.Timestamp.T == 0 && ot.Timestamp.I == 0 && ot.Term == 0
}

// Equal reports whether ot and other identify the same log position.
func (ot OpTime) Equal(other OpTime) bool {
	return ot.Timestamp.T == other.Timestamp.T &&
		ot.Timestamp.I == other.Timestamp.I &&
		ot.Term == other.Term
}

// Less reports whether ot strictly precedes other.
func (ot OpTime) Less(other OpTime) bool {
	if ot.Term != other.Term {
		return ot.Term < other.Term
	}
	if ot.Timestamp.T != other.Timestamp.T {
		return ot.Timestamp.T < other.Timestamp.T
	}
	return ot.Timestamp.I < other.Timestamp.I
}

// Greater reports whether ot strictly follows other.
func (ot OpTime) Greater(other OpTime) bool {
	return other.Less(ot)
}

func (ot OpTime) String() string {
	return fmt.Sprintf("{ts: %d.%d, t: %d}", ot.Timestamp.T, ot.Timestamp.I, ot.Term)
}

// GTEPredicate returns the `{ts: {$gte: ot.Timestamp}}`-shaped find predicate
// fragment used to start (or resume) tailing at ot.
func (ot OpTime) GTEPredicate() bson.D {
	return bson.D{{Key: "ts", Value: bson.D{{Key: "$gte", Value: ot.Timestamp}}}}
}

// FromDocument extracts an OpTime from a raw oplog entry's `ts` and `t`
// fields. Both fields are required; a missing or mistyped field is reported
// as an error so the caller can classify it (spec: NoSuchKey).
func FromDocument(doc bson.Raw) (OpTime, error) {
	tsVal, err := doc.LookupErr("ts")
	if err != nil {
		return OpTime{}, fmt.Errorf("missing required field %q: %w", "ts", err)
	}

	t, i, ok := tsVal.TimestampOK()
	if !ok {
		return OpTime{}, fmt.Errorf("field %q is not a timestamp, got %s", "ts", tsVal.Type)
	}

	tVal, err := doc.LookupErr("t")
	if err != nil {
		return OpTime{}, fmt.Errorf("missing required field %q: %w", "t", err)
	}

	term, ok := tVal.Int64OK()
	if !ok {
		// Term is frequently encoded as an int32 on the wire.
		term32, ok32 := tVal.Int32OK()
		if !ok32 {
			return OpTime{}, fmt.Errorf("field %q is not an integer, got %s", "t", tVal.Type)
		}
		term = int64(term32)
	}

	return OpTime{Timestamp: primitive.Timestamp{T: t, I: i}, Term: term}, nil
}
