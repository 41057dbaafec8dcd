package gitx

// Action identifies what an engine operation actually did.
type Action string

const (
	// ActionClone indicates a fresh shallow clone was attempted.
	ActionClone Action = "clone"

	// ActionPull indicates local state was reconciled from the remote.
	ActionPull Action = "pull"

	// ActionPush indicates local commits were published to the remote.
	ActionPush Action = "push"

	// ActionSync indicates a combined pull-then-push operation.
	ActionSync Action = "sync"

	// ActionNoChanges indicates a push found nothing to commit. This is a
	// successful no-op, distinct from success-with-changes.
	ActionNoChanges Action = "no_changes"
)

// Step identifies where inside a multi-step operation a failure occurred.
type Step string

const (
	StepAdd    Step = "add"
	StepCommit Step = "commit"
	StepPush   Step = "push"
	StepVerify Step = "verify"
	StepPull   Step = "pull"
)

// Outcome is the result of every engine-level operation. Engine methods are
// total: they always return an Outcome and never propagate expected git
// failures as errors, so callers can distinguish "nothing to do" from
// "succeeded" from "failed at step X".
type Outcome struct {
	Success bool   `json:"success"`
	Action  Action `json:"action"`

	// Step names the step that failed. Empty on success.
	Step Step `json:"step,omitempty"`

	// Error is the failure detail, typically captured git stderr.
	Error string `json:"error,omitempty"`

	// Path is the local root, set on a successful clone.
	Path string `json:"path,omitempty"`

	// ChangesPushed is true when a push actually published new commits.
	ChangesPushed bool `json:"changes_pushed"`

	// Pull and Push carry the sub-results of a combined sync for
	// diagnostic inspection.
	Pull *Outcome `json:"pull,omitempty"`
	Push *Outcome `json:"push,omitempty"`
}

// succeeded builds a success Outcome for the given action.
func succeeded(action Action) Outcome {
	return Outcome{Success: true, Action: action}
}

// failed builds a failure Outcome pinned to the step that broke.
func failed(action Action, step Step, detail string) Outcome {
	return Outcome{Success: false, Action: action, Step: step, Error: detail}
}
