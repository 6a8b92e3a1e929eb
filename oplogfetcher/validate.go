package oplogfetcher

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/artie-labs/oplogfetcher/optime"
)

// StartingPoint controls whether the first document of the initial batch on
// a cursor — expected to equal the cursor's starting LastFetched — is
// dropped before enqueue or passed through (spec.md §3).
type StartingPoint int

const (
	// SkipFirstDoc drops the sentinel first document from the to-apply set.
	SkipFirstDoc StartingPoint = iota
	// EnqueueFirstDoc includes it.
	EnqueueFirstDoc
)

// DocumentsInfo is the per-batch bookkeeping produced by validate (spec.md
// §3 "BatchStats"). It is created fresh per batch and consumed by the
// enqueue callback.
type DocumentsInfo struct {
	NetworkDocumentCount int
	NetworkDocumentBytes int
	ToApplyDocumentCount int
	ToApplyDocumentBytes int
	LastDocument         optime.OpTime
}

// validate applies the pre-enqueue invariants from spec.md §4.3 to one
// batch. begin/end index into entries and describe the half-open range that
// should actually be enqueued (excluding any skipped sentinel first
// document). On any invariant violation it returns a *FetchError with
// Code == CodeSemantic.
func validate(entries []bson.Raw, isFirst bool, lastTS optime.OpTime, startingPoint StartingPoint, requireFresherSyncSource bool) (info DocumentsInfo, begin int, end int, err error) {
	if len(entries) == 0 {
		if isFirst && requireFresherSyncSource {
			return DocumentsInfo{}, 0, 0, newSemanticError(fmt.Errorf("%w: empty first batch with requireFresherSyncSource set", ErrInvalidSyncSource))
		}
		return DocumentsInfo{}, 0, 0, nil
	}

	begin = 0
	if isFirst {
		firstOpTime, ferr := optime.FromDocument(entries[0])
		if ferr != nil {
			return DocumentsInfo{}, 0, 0, newSemanticError(fmt.Errorf("%w: %v", ErrNoSuchKey, ferr))
		}

		if !firstOpTime.Equal(lastTS) {
			return DocumentsInfo{}, 0, 0, newSemanticError(fmt.Errorf("%w: first entry optime %s != last fetched %s", ErrOplogStartMissing, firstOpTime, lastTS))
		}

		if startingPoint == SkipFirstDoc {
			begin = 1
		}

		if requireFresherSyncSource && len(entries) == 1 {
			return DocumentsInfo{}, 0, 0, newSemanticError(fmt.Errorf("%w: sync source has no ops newer than %s", ErrInvalidSyncSource, lastTS))
		}
	}

	var prev optime.OpTime
	havePrev := false
	for i, raw := range entries {
		ot, ferr := optime.FromDocument(raw)
		if ferr != nil {
			return DocumentsInfo{}, 0, 0, newSemanticError(fmt.Errorf("%w: entry %d: %v", ErrNoSuchKey, i, ferr))
		}

		if havePrev && !prev.Less(ot) {
			return DocumentsInfo{}, 0, 0, newSemanticError(fmt.Errorf("%w: entry %d (%s) does not follow entry %d (%s)", ErrOplogOutOfOrder, i, ot, i-1, prev))
		}
		prev = ot
		havePrev = true

		if i == len(entries)-1 {
			info.LastDocument = ot
		}
	}

	end = len(entries)
	for i, raw := range entries {
		info.NetworkDocumentCount++
		info.NetworkDocumentBytes += len(raw)
		if i >= begin && i < end {
			info.ToApplyDocumentCount++
			info.ToApplyDocumentBytes += len(raw)
		}
	}

	return info, begin, end, nil
}
