package constant

type JobStatus string

const (
	JobStatusCreated             JobStatus = "created"
	JobStatusInProgress          JobStatus = "in_progress"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusFailed              JobStatus = "failed"
	JobStatusMaxAttemptsExceeded JobStatus = "max_attempts_exceeded"
)

// IsTerminal reports whether no further processing can happen for the status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusMaxAttemptsExceeded
}

// IsRunnable reports whether a job in this status may be picked up by a worker.
func (s JobStatus) IsRunnable() bool {
	return s == JobStatusCreated || s == JobStatusFailed
}

func (s JobStatus) String() string {
	return string(s)
}

type FileType string

const (
	FileTypeText     FileType = "text"
	FileTypeMarkdown FileType = "markdown"
	FileTypeAudio    FileType = "audio"
	FileTypeVideo    FileType = "video"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

const (
	ErrorMessageStuck       = "Job is stuck"
	ErrorMessageMaxAttempts = "Max attempts exceeded"
)
