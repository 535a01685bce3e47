package convergence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/EvanCNavarro/disc-sub000/core/llm"
	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/model"
)

// ErrBadSelection marks a convergence response that failed validation.
// Selection runs once; a malformed response fails the run rather than
// falling back to an arbitrary candidate.
var ErrBadSelection = errors.New("invalid convergence selection")

// Input carries everything the selection call sees.
type Input struct {
	PlaylistName string
	Extractions  []model.TrackExtraction
	Scores       []model.ObjectScore
	Excluded     []string
	// RevisionNotes steers a rerun away from a disliked result.
	RevisionNotes string
}

// Result is the validated convergence plus its token usage.
type Result struct {
	Convergence model.ConvergenceResult
	TokensIn    int
	TokensOut   int
}

// Engine picks the final cover subject in a single LLM call.
type Engine struct {
	llm *llm.Client
}

// NewEngine creates a convergence engine.
func NewEngine(llmClient *llm.Client) *Engine {
	return &Engine{llm: llmClient}
}

// Converge runs the selection call. Transport failures are retried inside
// the LLM client; validation failures are not. When the call itself
// succeeded but its payload is bad, the returned result still carries the
// token usage so the spend can be billed.
func (e *Engine) Converge(ctx context.Context, input *Input) (*Result, error) {
	messages := []model.OpenAIChatMessage{
		{Role: "system", Content: ConvergenceSystemPrompt},
		{Role: "user", Content: buildUserPrompt(input)},
	}

	res, err := e.llm.CompleteJSON(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("convergence call failed: %w", err)
	}
	billed := &Result{
		TokensIn:  res.Usage.PromptTokens,
		TokensOut: res.Usage.CompletionTokens,
	}

	var conv model.ConvergenceResult
	if err := json.Unmarshal([]byte(res.Content), &conv); err != nil {
		return billed, fmt.Errorf("%w: unparseable response: %v", ErrBadSelection, err)
	}
	if err := conv.Validate(); err != nil {
		return billed, fmt.Errorf("%w: %v", ErrBadSelection, err)
	}

	selected := conv.Selected()
	logger.Info("[Convergence] 主题收敛完成",
		logger.String("playlist", input.PlaylistName),
		logger.String("selected", selected.Object),
		logger.Int("candidates", len(conv.Candidates)),
		logger.String("collisionNotes", conv.CollisionNotes))

	billed.Convergence = conv
	return billed, nil
}
