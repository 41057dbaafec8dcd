package gitx

// Argument vectors for every git operation the engine issues. Keeping the
// builders in one file makes the full command grammar auditable in one spot;
// nothing else in the package constructs git arguments inline.

// cloneArgs produces a shallow, single-branch clone of branch from url into
// dest. Depth 1 is deliberate: the vault never needs full history.
func cloneArgs(branch, url, dest string) []string {
	return []string{"clone", "--branch", branch, "--single-branch", "--depth", "1", url, dest}
}

// fetchArgs refreshes knowledge of the remote branch.
func fetchArgs(branch string) []string {
	return []string{"fetch", "origin", branch}
}

// pullRebaseArgs rebases local commits onto the remote branch tip.
func pullRebaseArgs(branch string) []string {
	return []string{"pull", "--rebase", "origin", branch}
}

// pushArgs publishes local commits to the remote branch.
func pushArgs(branch string) []string {
	return []string{"push", "origin", branch}
}

// statusPorcelainArgs lists uncommitted changes in machine-readable form.
// Empty output means a clean working tree.
func statusPorcelainArgs() []string {
	return []string{"status", "--porcelain"}
}

// addAllArgs stages every change, including deletions.
func addAllArgs() []string {
	return []string{"add", "-A"}
}

// diffCachedQuietArgs exits 0 when the staged diff is empty, 1 otherwise.
func diffCachedQuietArgs() []string {
	return []string{"diff", "--cached", "--quiet"}
}

// commitArgs creates a commit with the given message.
func commitArgs(message string) []string {
	return []string{"commit", "-m", message}
}

// stashPushArgs shelves uncommitted changes, untracked files included, so
// the working tree can be rebased safely.
func stashPushArgs() []string {
	return []string{"stash", "push", "--include-untracked"}
}

// stashPopArgs restores the most recently shelved changes.
func stashPopArgs() []string {
	return []string{"stash", "pop"}
}

// revListUnpushedArgs lists local commits not reachable from the remote
// branch tip. Non-empty output after a push means the remote did not
// actually accept it.
func revListUnpushedArgs(branch string) []string {
	return []string{"rev-list", "origin/" + branch + "..HEAD"}
}

// revListCountArgs counts commits reachable from "to" but not from "from".
func revListCountArgs(from, to string) []string {
	return []string{"rev-list", "--count", from + ".." + to}
}

// currentBranchArgs resolves the checked-out branch name.
func currentBranchArgs() []string {
	return []string{"rev-parse", "--abbrev-ref", "HEAD"}
}

// lastCommitArgs summarizes the most recent commit.
func lastCommitArgs() []string {
	return []string{"log", "-1", "--format=%h %s"}
}

// remotesArgs lists configured remotes with their URLs.
func remotesArgs() []string {
	return []string{"remote", "-v"}
}

// configGetArgs reads a repository-local configuration value.
func configGetArgs(key string) []string {
	return []string{"config", key}
}

// configSetArgs writes a repository-local configuration value.
func configSetArgs(key, value string) []string {
	return []string{"config", key, value}
}
