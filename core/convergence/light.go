package convergence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/model"
)

// LightSystemPrompt drives the fast path: one call, one object, no
// per-track analysis behind it.
const LightSystemPrompt = `You are choosing the single visual subject for a playlist's cover art.

You receive a freeform description of the playlist written by its owner.
Derive ONE concrete, drawable object that captures it, plus a short
"aestheticContext" phrase describing its visual treatment.

## Rules
1. The object must be a concrete, drawable noun — never an abstract idea.
2. NEVER pick an object from the exclusion list, or a trivial variation of one.
3. "reasoning" is one short sentence tying the object to the description.

## Output format
Respond with JSON only:
{"object":"...","aestheticContext":"...","reasoning":"..."}`

// LightInput carries the fast-path request.
type LightInput struct {
	PlaylistName string
	Text         string
	Excluded     []string
	// RevisionNotes steers a rerun away from a disliked result.
	RevisionNotes string
}

// LightResult is the derived subject plus token usage.
type LightResult struct {
	Object           string
	AestheticContext string
	Reasoning        string
	TokensIn         int
	TokensOut        int
}

// DeriveLight runs the single light-extraction call: owner-supplied text in,
// one object with aesthetic context out. Like the full selection call, a
// structurally broken response fails the run.
func (e *Engine) DeriveLight(ctx context.Context, input *LightInput) (*LightResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Playlist: %s\n", input.PlaylistName)
	fmt.Fprintf(&b, "\nDescription of the playlist:\n%s\n", input.Text)
	if len(input.Excluded) > 0 {
		b.WriteString("\nObjects already used by this owner's other playlists (never select these):\n")
		for _, obj := range input.Excluded {
			fmt.Fprintf(&b, "- %s\n", obj)
		}
	}
	if input.RevisionNotes != "" {
		fmt.Fprintf(&b, "\nRevision guidance from the owner: %s\n", input.RevisionNotes)
	}

	messages := []model.OpenAIChatMessage{
		{Role: "system", Content: LightSystemPrompt},
		{Role: "user", Content: b.String()},
	}

	res, err := e.llm.CompleteJSON(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("light extraction call failed: %w", err)
	}
	billed := &LightResult{
		TokensIn:  res.Usage.PromptTokens,
		TokensOut: res.Usage.CompletionTokens,
	}

	var payload struct {
		Object           string `json:"object"`
		AestheticContext string `json:"aestheticContext"`
		Reasoning        string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(res.Content), &payload); err != nil {
		return billed, fmt.Errorf("%w: unparseable light extraction response: %v", ErrBadSelection, err)
	}
	if strings.TrimSpace(payload.Object) == "" {
		return billed, fmt.Errorf("%w: light extraction returned empty object", ErrBadSelection)
	}

	logger.Info("[Convergence] 轻量提取完成",
		logger.String("playlist", input.PlaylistName),
		logger.String("object", payload.Object))

	billed.Object = payload.Object
	billed.AestheticContext = payload.AestheticContext
	billed.Reasoning = payload.Reasoning
	return billed, nil
}
