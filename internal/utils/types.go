package utils

// Job is one download as described on the command line or in a batch
// file. Targets and headers stay raw until the scheduler resolves them.
type Job struct {
	ID         string
	Target     string
	OutputPath string
	Compress   string
	S3URL      string
	S3Profile  string
	BlobURL    string
	BlobKey    string
	Headers    []string
	Stream     bool
	Overwrite  bool
}

type BatchFile struct {
	Downloads []BatchEntry `yaml:"downloads"`
}

type BatchEntry struct {
	Target   string   `yaml:"target"`
	Output   string   `yaml:"output"`
	Compress string   `yaml:"compress"`
	S3       string   `yaml:"s3"`
	Profile  string   `yaml:"profile"`
	Blob     string   `yaml:"blob"`
	Key      string   `yaml:"key"`
	Headers  []string `yaml:"headers"`
}

// HeaderConfig carries the request headers shared by every job.
type HeaderConfig struct {
	UserAgent string
	Headers   []string
	Token     string
	TokenFile string
}
