package reconcile

import "fmt"

// snapshotBaseRef is the ref where a plan records the snapshot base, the
// commit of the target branch its working snapshot was last reconciled
// against.
const snapshotBaseRef = "refs/loom/snapshot-base"

const precheckTemplate = `You are the snapshot validation gate for this plan. Every other node has finished; your job is to bring the plan's working snapshot up to date with %[1]s before anything merges.

Read the recorded snapshot base from %[2]s, then read the current head of %[1]s.

If the head equals the recorded base, nothing moved underneath the plan. Report success and stop.

If %[1]s has advanced, rebase the working snapshot onto the new head:

1. Start the rebase against the new head of %[1]s.
2. If it completes cleanly, update %[2]s to the new head and report success.
3. If files conflict, resolve each conflicted file by reconciling the intent of both sides rather than picking one wholesale. Stage every resolved file and continue the rebase until it completes. Then update %[2]s to the new head and report success.

If the rebase cannot proceed at all, for example because %[1]s carries uncommitted or broken state, do not attempt it repeatedly. Fail with a message telling the operator to clean %[1]s before re-running the plan. A retry of this node re-enters at this phase.`

const postcheckTemplate = `The validation work for this plan has finished. Confirm the snapshot is still current before it merges.

Re-read the recorded snapshot base from %[2]s and the current head of %[1]s.

If they still match, the snapshot is safe to merge into %[1]s. Report success.

If %[1]s advanced while the validation ran, the snapshot is stale again. Fail and state that execution resumes from the prechecks phase of this node, so the rebase protocol runs against the newest head.`

func precheckInstructions(target string) string {
	return fmt.Sprintf(precheckTemplate, target, snapshotBaseRef)
}

func postcheckInstructions(target string) string {
	return fmt.Sprintf(postcheckTemplate, target, snapshotBaseRef)
}
