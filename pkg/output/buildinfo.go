package output

import "time"

// BuildInfo is written alongside the documents when the manifest asks for it
type BuildInfo struct {
	RunID       string            `json:"runId"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Documents   int               `json:"documents"`
	Entities    map[string]int    `json:"entities"`
	Indexes     []string          `json:"indexes,omitempty"`
	Fingerprint string            `json:"fingerprint"`
	Files       map[string]string `json:"files"`
}

func newBuildInfo(staged *Staged) BuildInfo {
	return BuildInfo{
		RunID:       staged.RunID,
		GeneratedAt: time.Now().UTC(),
		Documents:   staged.Documents,
		Entities:    staged.ByEntity,
		Indexes:     staged.Indexes,
		Fingerprint: staged.Fingerprint,
		Files:       staged.Files,
	}
}
