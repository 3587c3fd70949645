package taskname

const (
	// Submission tasks
	SubmissionSweep = "submission:sweep"

	// Artifact tasks
	ArtifactPurge = "artifact:purge"
)
