package extraction

import (
	"fmt"
	"strings"

	"github.com/EvanCNavarro/disc-sub000/model"
)

// ExtractionSystemPrompt constrains the model to concrete, drawable nouns.
const ExtractionSystemPrompt = `You are a visual theme analyst for music cover art.

Given ONE track, identify 1 to 3 concrete visual objects that could anchor a
cover illustration for it.

## Rules
1. Objects must be concrete, drawable nouns ("lighthouse", "wolf", "neon street") — never abstract ideas ("freedom", "nostalgia", "love").
2. Assign each object exactly one tier:
   - "high": the object is directly named in the lyrics or the title
   - "medium": the object is implied by the track's imagery
   - "low": loose mood association only
3. "reasoning" is one short sentence naming the evidence.
4. When only metadata is available, lean on the title and artist; prefer fewer, safer objects over invented detail.
5. Never return more than 3 objects.

## Output format
Respond with JSON only, no prose around it:
{"objects":[{"object":"...","tier":"high|medium|low","reasoning":"..."}]}`

// buildUserPrompt renders one track into the extraction user message. Tracks
// without lyrics fall back to a metadata-only context line.
func buildUserPrompt(track *model.Track) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Track: %s\n", track.Name)
	fmt.Fprintf(&b, "Artist: %s\n", track.Artist())
	if track.Album != "" {
		fmt.Fprintf(&b, "Album: %s\n", track.Album)
	}
	if track.LyricsFound && track.Lyrics != "" {
		fmt.Fprintf(&b, "\nLyrics:\n%s\n", track.Lyrics)
	} else {
		fmt.Fprintf(&b, "\nNo lyrics available. Work from the metadata only: %s\n", track.FallbackContext())
	}
	return b.String()
}
