package models

// Token is the short-lived authorization record fetched from mediaviewer for
// one GUID. It is parsed once at the resolver boundary, lives for a single
// request, and is never cached or mutated.
type Token struct {
	GUID            string        `json:"guid"`
	IsValid         bool          `json:"isvalid"`
	IsMovie         bool          `json:"ismovie"`
	Path            string        `json:"path"`
	Filename        string        `json:"filename"`
	DisplayName     string        `json:"displayname"`
	Username        string        `json:"username"`
	Theme           string        `json:"waitertheme"`
	TokenID         int64         `json:"tokenid"`
	UserID          int64         `json:"userid"`
	PathID          int64         `json:"pathid"`
	VideoProgresses []string      `json:"videoprogresses"`
	NextID          *int64        `json:"next_id"`
	PreviousID      *int64        `json:"previous_id"`
	BingeMode       bool          `json:"binge_mode"`
	DonationSite    *DonationSite `json:"donation_site"`
}

// DonationSite is the optional tip-jar link mediaviewer attaches to tokens.
type DonationSite struct {
	SiteName string `json:"site_name"`
	URL      string `json:"url"`
}

// HasProgress reports whether the user has a stored watch position for the
// file with the given hashed identifier.
func (t *Token) HasProgress(hash string) bool {
	for _, p := range t.VideoProgresses {
		if p == hash {
			return true
		}
	}
	return false
}
