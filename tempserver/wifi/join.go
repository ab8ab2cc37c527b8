package wifi

// JoinState tracks a blocking join for radios whose driver only reports
// whether the link is up. The zero value is LinkDown.
type JoinState struct {
	joining bool
	joined  bool
	failed  bool
}

// Begin marks the start of a join.
func (j *JoinState) Begin() {
	j.joining, j.joined, j.failed = true, false, false
}

// End records the outcome of the join started by Begin.
func (j *JoinState) End(err error) {
	j.joining = false
	j.joined = err == nil
	j.failed = err != nil
}

// Leave forgets a completed join.
func (j *JoinState) Leave() { j.joined = false }

// Up reports whether a join completed and the driver still reports the
// link. A link dropped by the access point is not up even though the
// join completed.
func (j *JoinState) Up(linkUp bool) bool { return j.joined && linkUp }

// Status maps the join and the driver link state onto a LinkStatus.
func (j *JoinState) Status(linkUp bool) LinkStatus {
	switch {
	case j.joining:
		return LinkJoining
	case j.joined && linkUp:
		return LinkUp
	case j.joined:
		// Dropped by the access point after a good join.
		return LinkDown
	case j.failed:
		return LinkFailed
	}
	return LinkDown
}
