package models

// Entry is one streamable file discovered under a token's declared location.
// RealPath never leaves the process; clients only ever see Hash.
type Entry struct {
	RealPath    string
	LogicalPath string
	Hash        string
	Filename    string
	Size        int64
	DisplaySize string
	Streamable  bool
	HasProgress bool
	Subtitles   []Subtitle
}

// Subtitle is a sidecar file associated to an Entry by filename-stem prefix
// match within the same directory.
type Subtitle struct {
	RealPath    string
	LogicalPath string
	Hash        string
	Filename    string
	Size        int64
}

// FileRef is the resolution result of matching a hashed identifier back to a
// real file: exactly what the content sender needs and nothing more.
type FileRef struct {
	RealPath string
	Filename string
	Size     int64
}

// VideoOffset is the stored watch position for one file, proxied from
// mediaviewer.
type VideoOffset struct {
	Offset     int64   `json:"offset"`
	DateEdited *string `json:"date_edited,omitempty"`
}

// LinkPair is a (label, URL) pair used for genre and collection navigation
// links on playback pages.
type LinkPair struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}
