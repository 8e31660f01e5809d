package ledger

// Baseline carries the fingerprints recorded at the last successful sync of
// one record. A nil baseline means the record has never completed a sync.
type Baseline struct {
	Local  string
	Remote string
}

// Classify compares the current fingerprints of both sides against the
// stored baseline and reports which side drifted.
//
// The decision table is exhaustive:
//
//	baseline missing                      -> FIRST_SYNC
//	local == base.Local, remote == base.Remote -> NO_CHANGE
//	local != base.Local, remote == base.Remote -> LOCAL_ONLY
//	local == base.Local, remote != base.Remote -> REMOTE_ONLY
//	local != base.Local, remote != base.Remote -> BOTH_CHANGED
//
// Classify is a pure function. It never consults clocks or modification
// timestamps; drift is defined by content alone.
func Classify(localFingerprint, remoteFingerprint string, baseline *Baseline) ChangeClass {
	if baseline == nil || (baseline.Local == "" && baseline.Remote == "") {
		return ChangeFirstSync
	}

	localChanged := localFingerprint != baseline.Local
	remoteChanged := remoteFingerprint != baseline.Remote

	switch {
	case !localChanged && !remoteChanged:
		return ChangeNone
	case localChanged && !remoteChanged:
		return ChangeLocalOnly
	case !localChanged && remoteChanged:
		return ChangeRemoteOnly
	default:
		return ChangeBoth
	}
}

// Convergent reports whether a BOTH_CHANGED pair actually carries the same
// content on both sides. Both sides were edited to the identical value, so
// the record can be re-baselined without raising a conflict.
func Convergent(localFingerprint, remoteFingerprint string) bool {
	return localFingerprint != "" && localFingerprint == remoteFingerprint
}
