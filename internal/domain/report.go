package domain

// Report summarizes one pipeline run.
type Report struct {
	RunID        string
	Fetched      int
	Skipped      int
	Locked       int
	Published    int
	Failed       int
	NotifyFailed int
	RecordFailed int
	Recorded     []PublishedRecord
}
