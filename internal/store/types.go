package store

// Build is one cached backend build of a translation unit.
type Build struct {
	ID              string
	Key             string
	Unit            string
	UnitHash        string
	Backend         string
	CompilerVersion string
	Settings        string // canonical JSON
	CallSites       []CallSite
	Seq             int64
	Artifacts       []Artifact
}

// CallSite holds the host statements replacing one IR record.
type CallSite struct {
	Owner string   `json:"owner"`
	Lines []string `json:"lines"`
}

// Artifact is one cached generated file.
type Artifact struct {
	Path    string
	Kind    string
	Hash    string
	Content []byte
}
