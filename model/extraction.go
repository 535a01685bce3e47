package model

// Tier encodes how directly a visual object is anchored in a track.
type Tier string

const (
	TierHigh   Tier = "high"   // directly referenced in lyrics or title
	TierMedium Tier = "medium" // implied by the track's imagery
	TierLow    Tier = "low"    // loosely connected mood association
)

// Weight maps a tier onto its aggregate-scoring weight.
func (t Tier) Weight() int {
	switch t {
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	}
	return 0
}

// Valid reports whether the tier is one of the three known levels.
func (t Tier) Valid() bool {
	return t == TierHigh || t == TierMedium || t == TierLow
}

// TieredObject is one concrete visual noun extracted from a track.
type TieredObject struct {
	Object    string `json:"object"`
	Tier      Tier   `json:"tier"`
	Reasoning string `json:"reasoning"`
}

// TrackExtraction is the extraction result for a single track.
// Cached keyed by track identity + model; entries are immutable once written.
type TrackExtraction struct {
	TrackID    string         `json:"trackId"`
	TrackName  string         `json:"trackName"`
	Artist     string         `json:"artist"`
	Objects    []TieredObject `json:"objects"`
	LyricsUsed bool           `json:"lyricsUsed"`
}

// ObjectScore aggregates one object noun across the whole playlist.
type ObjectScore struct {
	Object     string `json:"object"`
	Score      int    `json:"score"`      // sum of tier weights
	TrackCount int    `json:"trackCount"` // distinct tracks mentioning it
}

// CachedExtraction is a stored extraction result keyed by track and model.
// Objects may be empty: a degraded extraction is still a valid cache entry,
// which is why a cache miss is reported as a nil entry rather than an empty
// slice.
type CachedExtraction struct {
	TrackID   string         `json:"trackId"`
	Model     string         `json:"model"`
	Objects   []TieredObject `json:"objects"`
	TokensIn  int64          `json:"tokensIn"`
	TokensOut int64          `json:"tokensOut"`
}
