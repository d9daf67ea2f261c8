package gitproc

import "fmt"

// Identity is the deterministic author/committer pair stamped on
// every commit the core creates: name "ci", email "ci@local", UTC
// timestamp T (a merge-step index, or an offset past the last merge
// step for the post-merge hook and local patches).
type Identity struct {
	Name  string
	Email string
	Epoch int64
}

// NewIdentity builds the fixed ci/ci@local identity for timestamp T.
func NewIdentity(t int64) Identity {
	return Identity{Name: "ci", Email: "ci@local", Epoch: t}
}

// Env renders the identity as the GIT_AUTHOR_*/GIT_COMMITTER_*
// environment variables git subprocesses read, UTC throughout.
func (id Identity) Env() []string {
	date := fmt.Sprintf("%d +0000", id.Epoch)
	return []string{
		"GIT_AUTHOR_NAME=" + id.Name,
		"GIT_AUTHOR_EMAIL=" + id.Email,
		"GIT_AUTHOR_DATE=" + date,
		"GIT_COMMITTER_NAME=" + id.Name,
		"GIT_COMMITTER_EMAIL=" + id.Email,
		"GIT_COMMITTER_DATE=" + date,
	}
}
