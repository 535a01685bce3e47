package convergence

import (
	"fmt"
	"strings"

	"github.com/EvanCNavarro/disc-sub000/model"
)

// ConvergenceSystemPrompt constrains the selection call to the exact result
// shape the pipeline validates against.
const ConvergenceSystemPrompt = `You are selecting the single visual subject for a playlist's cover art.

You receive candidate objects extracted from the playlist's tracks, their
aggregate scores, and a list of objects already used by the same owner's
other playlist covers.

## Rules
1. Propose exactly 3 ranked candidates. Rank 1 is the strongest.
2. Each candidate needs an "aestheticContext": a short visual treatment phrase that fits the playlist's overall mood ("bathed in cold moonlight", "dissolving into static").
3. NEVER propose an object from the exclusion list, and never a trivial variation of one (plural, adjective added). If a strong candidate collides, explain the collision in "collisionNotes" and pick something else.
4. "selectedIndex" is the zero-based index of your chosen candidate. Usually 0; select a lower rank only when the top candidate is too close to an excluded object.
5. Prefer objects that recur across many tracks over one-track wonders.

## Output format
Respond with JSON only:
{"candidates":[{"object":"...","aestheticContext":"...","reasoning":"...","rank":1},{"object":"...","aestheticContext":"...","reasoning":"...","rank":2},{"object":"...","aestheticContext":"...","reasoning":"...","rank":3}],"selectedIndex":0,"collisionNotes":""}`

// buildUserPrompt renders the convergence input. Low-tier objects are left
// out on purpose: they are mood noise, not subject candidates.
func buildUserPrompt(input *Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Playlist: %s\n", input.PlaylistName)

	b.WriteString("\nCandidate objects by track (high/medium confidence only):\n")
	for _, ext := range input.Extractions {
		objects := make([]string, 0, len(ext.Objects))
		for _, obj := range ext.Objects {
			if obj.Tier == model.TierLow {
				continue
			}
			objects = append(objects, fmt.Sprintf("%s (%s)", obj.Object, obj.Tier))
		}
		if len(objects) == 0 {
			continue
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", ext.TrackName, ext.Artist, strings.Join(objects, ", "))
	}

	if len(input.Scores) > 0 {
		b.WriteString("\nAggregate scores:\n")
		for _, s := range input.Scores {
			fmt.Fprintf(&b, "- %s: %d points across %d tracks\n", s.Object, s.Score, s.TrackCount)
		}
	}

	if len(input.Excluded) > 0 {
		b.WriteString("\nObjects already used by this owner's other playlists (never select these):\n")
		for _, obj := range input.Excluded {
			fmt.Fprintf(&b, "- %s\n", obj)
		}
	} else {
		b.WriteString("\nNo objects are excluded.\n")
	}

	if input.RevisionNotes != "" {
		fmt.Fprintf(&b, "\nRevision guidance from the owner: %s\n", input.RevisionNotes)
	}
	return b.String()
}
