package models

// View-models handed to the page renderer. Templating itself is an external
// concern; these structs are the whole contract between handlers and pages.

// ErrorPage renders the shared error template.
type ErrorPage struct {
	Title     string
	ErrorText string
	Username  string
	Theme     string
}

// FileRow is one line of a directory or single-file listing.
type FileRow struct {
	Filename      string
	DisplayName   string
	Size          string
	Path          string
	StreamingPath string
	Streamable    bool
	HasProgress   bool
	IsMovie       bool
}

// DisplayPage lists the streamable files a token exposes.
type DisplayPage struct {
	Title    string
	Files    []FileRow
	Username string
	Theme    string
}

// SubtitleTrack is one selectable subtitle source on the playback page.
type SubtitleTrack struct {
	Label string
	URL   string
}

// VideoPage renders the playback page for a single resolved file.
type VideoPage struct {
	Title        string
	Filename     string
	VideoURL     string
	Subtitles    []SubtitleTrack
	GUID         string
	OffsetURL    string
	ViewedURL    string
	NextID       *int64
	PreviousID   *int64
	BingeMode    bool
	DonationSite *DonationSite
	TVGenres     []LinkPair
	MovieGenres  []LinkPair
	Collections  []LinkPair
	Username     string
	Theme        string
}
