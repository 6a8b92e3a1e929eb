// Package replconfig models the replica-set configuration store collaborator
// (spec.md §1, §3 "Config snapshot"): the current term, the member set, and
// the sync-source eligibility predicate. Selecting a sync source and
// maintaining the live config are both out of scope for oplogfetcher; this
// package only carries the immutable snapshot a Fetcher is constructed
// with.
package replconfig

// Member describes one node in the replica set config snapshot.
type Member struct {
	Host     string
	Voting   bool
	Priority int
}

// Snapshot is an immutable replica-set configuration taken at Fetcher
// construction time (spec.md §3). A configuration change requires
// constructing a new Fetcher with a new Snapshot.
type Snapshot struct {
	term    int64
	members []Member
	// eligible reports whether member is currently an acceptable sync
	// source under this config's chaining/priority rules.
	eligible func(member Member) bool
}

// New returns a Snapshot with the given term and members. eligible may be
// nil, in which case every member is considered eligible.
func New(term int64, members []Member, eligible func(Member) bool) Snapshot {
	if eligible == nil {
		eligible = func(Member) bool { return true }
	}
	return Snapshot{term: term, members: members, eligible: eligible}
}

// Term implements oplogfetcher.ConfigSnapshot.
func (s Snapshot) Term() int64 {
	return s.term
}

// Members returns the configured member set.
func (s Snapshot) Members() []Member {
	return s.members
}

// SyncSourceEligible reports whether member is an acceptable sync source
// under this snapshot.
func (s Snapshot) SyncSourceEligible(member Member) bool {
	return s.eligible(member)
}
