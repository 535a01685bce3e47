package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EvanCNavarro/disc-sub000/core/convergence"
	"github.com/EvanCNavarro/disc-sub000/core/extraction"
	"github.com/EvanCNavarro/disc-sub000/core/imagegen"
	"github.com/EvanCNavarro/disc-sub000/core/imaging"
	"github.com/EvanCNavarro/disc-sub000/core/spotify"
	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/model"
	"github.com/EvanCNavarro/disc-sub000/repository"

	"github.com/google/uuid"
)

const (
	// DefaultDeadline is the hard wall-clock budget for one run.
	DefaultDeadline = 10 * time.Minute
	// DefaultCoverMaxBytes is the raw JPEG budget before base64 upload.
	DefaultCoverMaxBytes = 190000

	// 收敛调用携带的聚合得分条数
	topScores = 10

	// maxErrorTextRunes bounds the error text stored on a failed record.
	maxErrorTextRunes = 1000
)

var (
	// ErrDeadlineExceeded marks a run that blew the wall-clock budget. It is
	// raised at stage boundaries only; stages are never interrupted mid-flight.
	ErrDeadlineExceeded = errors.New("generation deadline exceeded")
	// ErrEmptyTrackList marks a playlist with no usable tracks.
	ErrEmptyTrackList = errors.New("playlist has no usable tracks")
)

// Subject-resolution paths, selected by request shape.
const (
	pathFull   = "full_analysis"
	pathLight  = "light_extraction"
	pathCustom = "custom_object"
)

// Platform is the slice of the platform API one run consumes.
type Platform interface {
	PlaylistTracks(ctx context.Context, accessToken, playlistID string) ([]model.Track, error)
	Playlist(ctx context.Context, accessToken, playlistID string) (*spotify.PlaylistSummary, error)
	UploadCover(ctx context.Context, accessToken, playlistID, base64JPEG string) error
}

// TokenSource yields a usable platform access token for a user.
type TokenSource interface {
	AccessToken(ctx context.Context, userID int64) (string, error)
}

// LyricSource enriches a track list with lyrics.
type LyricSource interface {
	FetchAll(ctx context.Context, tracks []model.Track) []model.Track
}

// Extractor runs per-track visual object extraction.
type Extractor interface {
	ExtractAll(ctx context.Context, tracks []model.Track, progress extraction.ProgressFunc) (*extraction.BatchResult, error)
}

// Selector picks the final cover subject.
type Selector interface {
	Converge(ctx context.Context, input *convergence.Input) (*convergence.Result, error)
	DeriveLight(ctx context.Context, input *convergence.LightInput) (*convergence.LightResult, error)
}

// ImageService renders the cover and serves the result bytes.
type ImageService interface {
	Generate(ctx context.Context, style *model.Style, prompt string) (*imagegen.Generation, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// CoverArchive persists the raw rendered image before lossy processing.
type CoverArchive interface {
	Store(ctx context.Context, userID int64, playlistID string, png []byte) (key string, err error)
}

// StyleSource resolves style definitions.
type StyleSource interface {
	Get(id string) (*model.Style, error)
	Default() *model.Style
}

// Deps are the collaborators one run consumes. All fields are required.
type Deps struct {
	Playlists   repository.PlaylistRepository
	Generations repository.GenerationRepository
	Analyses    repository.AnalysisRepository
	Claims      repository.ClaimRepository
	Usage       repository.UsageRepository

	Tokens    TokenSource
	Platform  Platform
	Lyrics    LyricSource
	Extractor Extractor
	Selector  Selector
	Images    ImageService
	Archive   CoverArchive
	Styles    StyleSource
}

// Options are per-process tunables. Zero values fall back to defaults.
type Options struct {
	Deadline      time.Duration
	CoverMaxBytes int
	// LLMModel prices extraction and selection spend.
	LLMModel string
	Rates    Rates
}

// Pipeline orchestrates cover generation runs, one playlist per invocation.
type Pipeline struct {
	deps Deps
	opts Options
}

// New creates a pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}
	if opts.CoverMaxBytes <= 0 {
		opts.CoverMaxBytes = DefaultCoverMaxBytes
	}
	if opts.Rates.Models == nil {
		opts.Rates = DefaultRates()
	}
	return &Pipeline{deps: deps, opts: opts}
}

// Request identifies one generation run.
type Request struct {
	UserID     int64
	PlaylistID string // platform playlist ID
	Trigger    model.TriggerType
	JobID      int64 // 0 for direct runs
	Options    model.JobOptions
}

// path picks the subject-resolution path from the request shape. A custom
// object beats light-extraction text when both are present.
func (req *Request) path() string {
	if strings.TrimSpace(req.Options.CustomObject) != "" {
		return pathCustom
	}
	if strings.TrimSpace(req.Options.LightExtractionText) != "" {
		return pathLight
	}
	return pathFull
}

// Run executes one generation to a terminal state. Exactly one generation
// record is written per invocation; once it exists, every error funnels
// through the catch-all failure handler so partial spend is persisted and
// the playlist never stays processing.
func (p *Pipeline) Run(ctx context.Context, req *Request) error {
	playlist, err := p.resolvePlaylist(req)
	if err != nil {
		return err
	}

	style, err := p.resolveStyle(req, playlist)
	if err != nil {
		p.abandon(playlist, err)
		return err
	}

	genID, err := p.deps.Generations.Create(&model.GenerationRecord{
		PlaylistID: playlist.PlatformID,
		UserID:     req.UserID,
		Status:     model.GenerationProcessing,
		Trigger:    req.Trigger,
		StyleID:    style.ID,
	})
	if err != nil {
		err = fmt.Errorf("failed to create generation record: %w", err)
		p.abandon(playlist, err)
		return err
	}

	r := &run{
		p:        p,
		req:      req,
		playlist: playlist,
		style:    style,
		tracker:  NewTracker(p.deps.Playlists, playlist.ID, genID),
		start:    time.Now(),
		gen: &model.GenerationRecord{
			ID:         genID,
			PlaylistID: playlist.PlatformID,
			UserID:     req.UserID,
			Trigger:    req.Trigger,
			StyleID:    style.ID,
		},
	}
	r.deadline = r.start.Add(p.opts.Deadline)

	logger.Info("[Pipeline] 开始生成",
		logger.Int64("generationId", genID),
		logger.String("playlistId", playlist.PlatformID),
		logger.Int64("userId", req.UserID),
		logger.String("path", req.path()),
		logger.String("style", style.ID),
		logger.Int64("jobId", req.JobID))

	if err := r.execute(ctx); err != nil {
		r.fail(ctx, err)
		return err
	}
	return nil
}

// resolvePlaylist loads the playlist row, registering a stub when the
// trigger layer has not synced it yet (direct operator runs).
func (p *Pipeline) resolvePlaylist(req *Request) (*model.Playlist, error) {
	playlist, err := p.deps.Playlists.GetByPlatformID(req.UserID, req.PlaylistID)
	if err != nil {
		return nil, fmt.Errorf("failed to load playlist %s: %w", req.PlaylistID, err)
	}
	if playlist != nil {
		return playlist, nil
	}

	id, err := p.deps.Playlists.Upsert(&model.Playlist{
		UserID:     req.UserID,
		PlatformID: req.PlaylistID,
		Status:     model.PlaylistQueued,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register playlist %s: %w", req.PlaylistID, err)
	}
	playlist, err = p.deps.Playlists.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload playlist %s: %w", req.PlaylistID, err)
	}
	if playlist == nil {
		return nil, fmt.Errorf("playlist %s missing after registration", req.PlaylistID)
	}
	return playlist, nil
}

// resolveStyle picks the style for the run: request override first, then
// the playlist's configured style, then the library default.
func (p *Pipeline) resolveStyle(req *Request, playlist *model.Playlist) (*model.Style, error) {
	styleID := req.Options.StyleID
	if styleID == "" {
		styleID = playlist.StyleID
	}
	if styleID == "" {
		if style := p.deps.Styles.Default(); style != nil {
			return style, nil
		}
		return nil, fmt.Errorf("no default style available")
	}
	style, err := p.deps.Styles.Get(styleID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve style %s: %w", styleID, err)
	}
	return style, nil
}

// abandon handles failures before a generation record exists: the playlist
// is released to failed instead of sitting queued until the sweep.
func (p *Pipeline) abandon(playlist *model.Playlist, cause error) {
	logger.Error("[Pipeline] 运行未能启动",
		logger.String("playlistId", playlist.PlatformID),
		logger.ErrorField(cause))
	if err := p.deps.Playlists.UpdateStatus(playlist.ID, model.PlaylistFailed); err != nil {
		logger.Warn("[Pipeline] 歌单状态更新失败", logger.ErrorField(err))
	}
}

// run carries the mutable state of one invocation. The token and cost
// accumulators live on gen so the failure handler can persist whatever was
// actually spent before the error.
type run struct {
	p        *Pipeline
	req      *Request
	playlist *model.Playlist
	style    *model.Style
	tracker  *Tracker
	gen      *model.GenerationRecord

	start    time.Time
	deadline time.Time
	token    string

	tracks      []model.Track
	drift       *Drift
	extractions []model.TrackExtraction
	convergence *model.ConvergenceResult
	object      string
	subject     string
	imageURL    string
	imageBilled bool
	coverB64    string
}

func (r *run) execute(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pipeline panicked: %v", rec)
		}
	}()

	token, err := r.p.deps.Tokens.AccessToken(ctx, r.req.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve access token: %w", err)
	}
	r.token = token
	r.syncPlaylistMeta(ctx)

	if err := r.stageTracks(ctx); err != nil {
		return err
	}
	if err := r.stageSubject(ctx); err != nil {
		return err
	}
	if err := r.stageImage(ctx); err != nil {
		return err
	}
	if err := r.stageProcess(ctx); err != nil {
		return err
	}
	if err := r.stageUpload(ctx); err != nil {
		return err
	}
	return r.stageSave(ctx)
}

// checkDeadline enforces the wall-clock budget at a stage boundary.
func (r *run) checkDeadline(step string) error {
	if time.Now().After(r.deadline) {
		return fmt.Errorf("%w before %s", ErrDeadlineExceeded, step)
	}
	return nil
}

// syncPlaylistMeta backfills name and track count on stub rows. Display
// metadata only; failures are logged and ignored.
func (r *run) syncPlaylistMeta(ctx context.Context) {
	if r.playlist.Name != "" {
		return
	}
	summary, err := r.p.deps.Platform.Playlist(ctx, r.token, r.playlist.PlatformID)
	if err != nil {
		logger.Warn("[Pipeline] 歌单概要获取失败",
			logger.String("playlistId", r.playlist.PlatformID),
			logger.ErrorField(err))
		return
	}
	r.playlist.Name = summary.Name
	r.playlist.TrackCount = summary.TrackCount
	if _, err := r.p.deps.Playlists.Upsert(r.playlist); err != nil {
		logger.Warn("[Pipeline] 歌单元数据回写失败",
			logger.String("playlistId", r.playlist.PlatformID),
			logger.ErrorField(err))
	}
}

// stageTracks pulls a fresh track snapshot on the full path. The fast paths
// skip the fetch but still write the step key.
// Tracker写入失败只记日志；进度是展示状态，绝不阻断流水线。
func (r *run) stageTracks(ctx context.Context) error {
	if err := r.checkDeadline(model.StepFetchingTracks); err != nil {
		return err
	}
	if r.req.path() != pathFull {
		r.tracker.Skip(ctx, model.StepFetchingTracks)
		return nil
	}

	r.tracker.Advance(ctx, model.StepFetchingTracks)
	tracks, err := r.p.deps.Platform.PlaylistTracks(ctx, r.token, r.playlist.PlatformID)
	if err != nil {
		return fmt.Errorf("failed to fetch playlist tracks: %w", err)
	}
	if len(tracks) == 0 {
		return ErrEmptyTrackList
	}
	r.tracks = tracks
	r.detectDrift()
	r.tracker.Complete(ctx, model.StepFetchingTracks, map[string]any{"trackCount": len(tracks)})
	return nil
}

// detectDrift compares the fresh track list against the previous run's
// snapshot. Advisory: a read failure or a first run skips detection without
// failing the pipeline.
func (r *run) detectDrift() {
	prev, err := r.p.deps.Analyses.LatestByPlaylist(r.playlist.PlatformID)
	if err != nil {
		logger.Warn("[Pipeline] 读取上次分析失败，跳过漂移检测",
			logger.String("playlistId", r.playlist.PlatformID),
			logger.ErrorField(err))
		return
	}
	if prev == nil {
		// 首次运行没有可比对的快照
		return
	}
	r.drift = DetectDrift(r.tracks, prev.TrackSnapshot)
	logger.Info("[Pipeline] 曲目漂移检测完成",
		logger.String("playlistId", r.playlist.PlatformID),
		logger.Int("added", len(r.drift.Added)),
		logger.Int("removed", len(r.drift.Removed)),
		logger.Float64("threshold", r.drift.Threshold),
		logger.Bool("shouldRegenerate", r.drift.ShouldRegenerate))
}

func (r *run) stageSubject(ctx context.Context) error {
	switch r.req.path() {
	case pathCustom:
		return r.subjectFromCustom(ctx)
	case pathLight:
		return r.subjectFromLight(ctx)
	default:
		return r.subjectFromAnalysis(ctx)
	}
}

// subjectFromCustom uses the caller's object verbatim. No LLM call runs on
// this path.
func (r *run) subjectFromCustom(ctx context.Context) error {
	if err := r.checkDeadline(model.StepSelectingTheme); err != nil {
		return err
	}
	r.tracker.Skip(ctx, model.StepFetchingLyrics, model.StepExtractingThemes, model.StepSelectingTheme)

	r.object = strings.TrimSpace(r.req.Options.CustomObject)
	r.subject = r.composeSubject(r.object, "")
	logger.Info("[Pipeline] 使用自定义主题",
		logger.String("playlistId", r.playlist.PlatformID),
		logger.String("object", r.object))
	return nil
}

// subjectFromLight derives the subject from the caller's free text in one
// selection call, skipping lyrics and per-track extraction.
func (r *run) subjectFromLight(ctx context.Context) error {
	if err := r.checkDeadline(model.StepSelectingTheme); err != nil {
		return err
	}
	r.tracker.Skip(ctx, model.StepFetchingLyrics, model.StepExtractingThemes)
	r.tracker.Advance(ctx, model.StepSelectingTheme)

	excluded, err := r.p.deps.Claims.ActiveByUser(r.req.UserID, r.playlist.PlatformID)
	if err != nil {
		return fmt.Errorf("failed to load claimed objects: %w", err)
	}

	res, err := r.p.deps.Selector.DeriveLight(ctx, &convergence.LightInput{
		PlaylistName:  r.playlist.Name,
		Text:          r.req.Options.LightExtractionText,
		Excluded:      excluded,
		RevisionNotes: r.req.Options.RevisionNotes,
	})
	if res != nil {
		r.gen.SelectionTokensIn += res.TokensIn
		r.gen.SelectionTokensOut += res.TokensOut
	}
	if err != nil {
		return fmt.Errorf("light extraction failed: %w", err)
	}

	r.object = res.Object
	r.subject = r.composeSubject(res.Object, res.AestheticContext)
	r.tracker.Complete(ctx, model.StepSelectingTheme, map[string]any{
		"object":           res.Object,
		"aestheticContext": res.AestheticContext,
	})
	return nil
}

// subjectFromAnalysis is the full path: lyric fetch, per-track extraction,
// then one convergence call against the owner's exclusion list.
func (r *run) subjectFromAnalysis(ctx context.Context) error {
	if err := r.checkDeadline(model.StepFetchingLyrics); err != nil {
		return err
	}
	r.tracker.Advance(ctx, model.StepFetchingLyrics)
	r.tracks = r.p.deps.Lyrics.FetchAll(ctx, r.tracks)
	found := 0
	for i := range r.tracks {
		if r.tracks[i].LyricsFound {
			found++
		}
	}
	r.tracker.Complete(ctx, model.StepFetchingLyrics, map[string]any{
		"lyricsFound": found,
		"total":       len(r.tracks),
	})

	if err := r.checkDeadline(model.StepExtractingThemes); err != nil {
		return err
	}
	r.tracker.Advance(ctx, model.StepExtractingThemes)
	batch, err := r.p.deps.Extractor.ExtractAll(ctx, r.tracks, func(done []model.TrackExtraction, totalTokens int) {
		r.tracker.Update(ctx, model.StepExtractingThemes, map[string]any{
			"completed":   len(done),
			"total":       len(r.tracks),
			"extractions": done,
			"totalTokens": totalTokens,
		})
	})
	if batch != nil {
		r.gen.ExtractionTokensIn += batch.TokensIn
		r.gen.ExtractionTokensOut += batch.TokensOut
	}
	if err != nil {
		return fmt.Errorf("theme extraction failed: %w", err)
	}
	r.extractions = batch.Extractions
	scores := extraction.Aggregate(r.extractions)
	r.tracker.Complete(ctx, model.StepExtractingThemes, map[string]any{
		"completed":  len(r.extractions),
		"total":      len(r.tracks),
		"topObjects": extraction.TopN(scores, 5),
	})

	if err := r.checkDeadline(model.StepSelectingTheme); err != nil {
		return err
	}
	r.tracker.Advance(ctx, model.StepSelectingTheme)
	excluded, err := r.p.deps.Claims.ActiveByUser(r.req.UserID, r.playlist.PlatformID)
	if err != nil {
		return fmt.Errorf("failed to load claimed objects: %w", err)
	}

	res, err := r.p.deps.Selector.Converge(ctx, &convergence.Input{
		PlaylistName:  r.playlist.Name,
		Extractions:   r.extractions,
		Scores:        extraction.TopN(scores, topScores),
		Excluded:      excluded,
		RevisionNotes: r.req.Options.RevisionNotes,
	})
	if res != nil {
		r.gen.SelectionTokensIn += res.TokensIn
		r.gen.SelectionTokensOut += res.TokensOut
	}
	if err != nil {
		return fmt.Errorf("theme selection failed: %w", err)
	}

	r.convergence = &res.Convergence
	selected := res.Convergence.Selected()
	r.object = selected.Object
	r.subject = r.composeSubject(selected.Object, selected.AestheticContext)
	r.tracker.Complete(ctx, model.StepSelectingTheme, map[string]any{
		"object":           selected.Object,
		"aestheticContext": selected.AestheticContext,
		"candidates":       res.Convergence.Candidates,
		"collisionNotes":   res.Convergence.CollisionNotes,
	})
	return nil
}

// composeSubject builds the final subject string: optional revision
// guidance first, then the object and its aesthetic treatment.
func (r *run) composeSubject(object, aestheticContext string) string {
	parts := make([]string, 0, 3)
	if notes := strings.TrimSpace(r.req.Options.RevisionNotes); notes != "" {
		parts = append(parts, notes)
	}
	parts = append(parts, object)
	if aestheticContext != "" {
		parts = append(parts, aestheticContext)
	}
	return strings.Join(parts, ", ")
}

func (r *run) stageImage(ctx context.Context) error {
	if err := r.checkDeadline(model.StepGeneratingImage); err != nil {
		return err
	}
	r.tracker.Advance(ctx, model.StepGeneratingImage)

	r.gen.ChosenObject = r.object
	r.gen.Prompt = r.style.Render(r.subject)

	gen, err := r.p.deps.Images.Generate(ctx, r.style, r.gen.Prompt)
	if err != nil {
		return fmt.Errorf("image generation failed: %w", err)
	}
	r.gen.PredictionID = gen.PredictionID
	r.imageURL = gen.ImageURL
	r.imageBilled = true

	r.tracker.Complete(ctx, model.StepGeneratingImage, map[string]any{
		"predictionId": gen.PredictionID,
	})
	return nil
}

// stageProcess downloads the rendered image, archives the original, then
// compresses and fingerprints it.
func (r *run) stageProcess(ctx context.Context) error {
	if err := r.checkDeadline(model.StepProcessingImage); err != nil {
		return err
	}
	r.tracker.Advance(ctx, model.StepProcessingImage)

	png, err := r.p.deps.Images.Download(ctx, r.imageURL)
	if err != nil {
		return fmt.Errorf("failed to download generated image: %w", err)
	}

	// 原图先归档再压缩，与上传是否成功无关
	key, err := r.p.deps.Archive.Store(ctx, r.req.UserID, r.playlist.PlatformID, png)
	if err != nil {
		return fmt.Errorf("failed to archive cover: %w", err)
	}
	r.gen.ArchiveKey = key

	data, quality, err := imaging.Compress(png, r.p.opts.CoverMaxBytes)
	if err != nil {
		return fmt.Errorf("failed to compress cover: %w", err)
	}
	r.coverB64 = imaging.EncodeBase64(data)
	r.fingerprint(data)

	r.tracker.Complete(ctx, model.StepProcessingImage, map[string]any{
		"bytes":         len(data),
		"quality":       quality,
		"imageHash":     r.gen.ImageHash,
		"nearDuplicate": r.gen.NearDuplicate,
	})
	return nil
}

// fingerprint hashes the compressed cover and compares it against the
// previous completed generation. Advisory: hashing problems are logged and
// the run continues unhashed.
func (r *run) fingerprint(jpeg []byte) {
	hash, err := imaging.HashBytes(jpeg)
	if err != nil {
		logger.Warn("[Pipeline] 封面指纹计算失败",
			logger.String("playlistId", r.playlist.PlatformID),
			logger.ErrorField(err))
		return
	}
	r.gen.ImageHash = imaging.HashHex(hash)

	prev, err := r.p.deps.Generations.LatestCompleted(r.playlist.PlatformID)
	if err != nil {
		logger.Warn("[Pipeline] 读取上次生成记录失败",
			logger.String("playlistId", r.playlist.PlatformID),
			logger.ErrorField(err))
		return
	}
	if prev == nil || prev.ImageHash == "" {
		return
	}
	prevHash, err := imaging.ParseHash(prev.ImageHash)
	if err != nil {
		logger.Warn("[Pipeline] 上次封面指纹无法解析",
			logger.String("imageHash", prev.ImageHash),
			logger.ErrorField(err))
		return
	}
	if imaging.NearDuplicate(hash, prevHash) {
		r.gen.NearDuplicate = true
		logger.Warn("[Pipeline] 新封面与上次近似重复",
			logger.String("playlistId", r.playlist.PlatformID),
			logger.Int("distance", imaging.HammingDistance(hash, prevHash)))
	}
}

func (r *run) stageUpload(ctx context.Context) error {
	if err := r.checkDeadline(model.StepUploadingCover); err != nil {
		return err
	}
	r.tracker.Advance(ctx, model.StepUploadingCover)

	if err := r.p.deps.Platform.UploadCover(ctx, r.token, r.playlist.PlatformID, r.coverB64); err != nil {
		return fmt.Errorf("failed to upload cover: %w", err)
	}
	r.tracker.Complete(ctx, model.StepUploadingCover, map[string]any{
		"payloadBytes": len(r.coverB64),
	})
	return nil
}

// stageSave persists the run: claim the object, snapshot the analysis,
// complete the generation record and move the playlist to generated.
func (r *run) stageSave(ctx context.Context) error {
	if err := r.checkDeadline(model.StepSavingResults); err != nil {
		return err
	}
	r.tracker.Advance(ctx, model.StepSavingResults)

	// 先作废旧认领再写新认领，两步间无事务；中途崩溃会留下短暂无认领
	// 窗口，由下一次成功运行自行修复
	if err := r.p.deps.Claims.Claim(r.req.UserID, r.playlist.PlatformID, extraction.Normalize(r.object)); err != nil {
		return fmt.Errorf("failed to claim object: %w", err)
	}

	if r.req.path() == pathFull {
		if err := r.saveAnalysis(); err != nil {
			return err
		}
	}

	r.finalizeCosts()
	if err := r.p.deps.Generations.MarkCompleted(r.gen); err != nil {
		return fmt.Errorf("failed to complete generation record: %w", err)
	}
	r.recordUsage(true)
	r.tracker.Complete(ctx, model.StepSavingResults, map[string]any{})
	r.tracker.Clear(ctx)

	coverURL := r.refreshCoverURL(ctx)
	if err := r.p.deps.Playlists.MarkGenerated(r.playlist.ID, coverURL); err != nil {
		return fmt.Errorf("failed to mark playlist generated: %w", err)
	}

	logger.Info("[Pipeline] 生成完成",
		logger.Int64("generationId", r.gen.ID),
		logger.String("playlistId", r.playlist.PlatformID),
		logger.String("object", r.object),
		logger.Int64("durationMs", r.gen.DurationMS),
		logger.Float64("totalCostUsd", r.gen.TotalCostUSD))
	return nil
}

// saveAnalysis writes the audit snapshot for the full path. Exactly one per
// completed full-analysis run.
func (r *run) saveAnalysis() error {
	analysis := &model.PlaylistAnalysis{
		GenerationID:  r.gen.ID,
		PlaylistID:    r.playlist.PlatformID,
		UserID:        r.req.UserID,
		TrackSnapshot: model.Snapshot(r.tracks),
		Extractions:   r.extractions,
		Convergence:   r.convergence,
	}
	if r.drift != nil {
		analysis.AddedTracks = r.drift.Added
		analysis.RemovedTracks = r.drift.Removed
		analysis.OutlierCount = r.drift.OutlierCount
		analysis.Threshold = r.drift.Threshold
		analysis.Regenerated = r.drift.ShouldRegenerate
	}
	if _, err := r.p.deps.Analyses.Create(analysis); err != nil {
		return fmt.Errorf("failed to save playlist analysis: %w", err)
	}
	return nil
}

// refreshCoverURL re-reads the playlist from the platform so the stored
// cover URL points at the freshly uploaded image. Best effort: on failure
// the previous URL is kept.
func (r *run) refreshCoverURL(ctx context.Context) string {
	summary, err := r.p.deps.Platform.Playlist(ctx, r.token, r.playlist.PlatformID)
	if err != nil {
		logger.Warn("[Pipeline] 刷新封面URL失败",
			logger.String("playlistId", r.playlist.PlatformID),
			logger.ErrorField(err))
		return r.playlist.CoverURL
	}
	if summary.CoverURL == "" {
		return r.playlist.CoverURL
	}
	return summary.CoverURL
}

// finalizeCosts folds the token accumulators into USD amounts and stamps
// the duration. Called on both terminal paths.
func (r *run) finalizeCosts() {
	rates := r.p.opts.Rates
	r.gen.LLMCostUSD = rates.LLMCost(r.p.opts.LLMModel,
		r.gen.ExtractionTokensIn+r.gen.SelectionTokensIn,
		r.gen.ExtractionTokensOut+r.gen.SelectionTokensOut)
	if r.imageBilled {
		r.gen.ImageCostUSD = rates.ImageCost()
	}
	r.gen.TotalCostUSD = round6(r.gen.LLMCostUSD + r.gen.ImageCostUSD)
	r.gen.DurationMS = time.Since(r.start).Milliseconds()
}

// fail is the catch-all failure handler. Every error after record creation
// lands here exactly once: partial spend is persisted first, then the
// record and the playlist reach their terminal states. Persistence errors
// here are logged and dropped; there is nothing further to fail into.
func (r *run) fail(ctx context.Context, cause error) {
	logger.Error("[Pipeline] 生成失败",
		logger.Int64("generationId", r.gen.ID),
		logger.String("playlistId", r.playlist.PlatformID),
		logger.String("path", r.req.path()),
		logger.ErrorField(cause))

	r.finalizeCosts()
	if err := r.p.deps.Generations.UpdateArtifacts(r.gen); err != nil {
		logger.Warn("[Pipeline] 失败成本落盘失败", logger.ErrorField(err))
	}
	if err := r.p.deps.Generations.MarkFailed(r.gen.ID, truncateError(cause.Error())); err != nil {
		logger.Warn("[Pipeline] 生成记录标记失败出错", logger.ErrorField(err))
	}
	r.recordUsage(false)
	r.tracker.Clear(ctx)
	if err := r.p.deps.Playlists.UpdateStatus(r.playlist.ID, model.PlaylistFailed); err != nil {
		logger.Warn("[Pipeline] 歌单状态更新失败", logger.ErrorField(err))
	}
}

// recordUsage appends one ledger event per stage that actually spent money.
// Ledger writes are instrumentation: failures are logged, never surfaced.
func (r *run) recordUsage(success bool) {
	rates := r.p.opts.Rates
	var events []*model.UsageEvent

	if r.gen.ExtractionTokensIn+r.gen.ExtractionTokensOut > 0 {
		events = append(events, &model.UsageEvent{
			Action:    model.ActionThemeExtraction,
			TokensIn:  int64(r.gen.ExtractionTokensIn),
			TokensOut: int64(r.gen.ExtractionTokensOut),
			CostUSD:   rates.LLMCost(r.p.opts.LLMModel, r.gen.ExtractionTokensIn, r.gen.ExtractionTokensOut),
		})
	}
	if r.gen.SelectionTokensIn+r.gen.SelectionTokensOut > 0 {
		events = append(events, &model.UsageEvent{
			Action:    model.ActionThemeSelection,
			TokensIn:  int64(r.gen.SelectionTokensIn),
			TokensOut: int64(r.gen.SelectionTokensOut),
			CostUSD:   rates.LLMCost(r.p.opts.LLMModel, r.gen.SelectionTokensIn, r.gen.SelectionTokensOut),
		})
	}
	if r.imageBilled {
		events = append(events, &model.UsageEvent{
			Action:  model.ActionImageGeneration,
			CostUSD: rates.ImageCost(),
		})
	}

	for _, e := range events {
		e.ID = uuid.New().String()
		e.UserID = r.req.UserID
		e.PlaylistID = r.playlist.PlatformID
		e.GenerationID = r.gen.ID
		e.Success = success
		if err := r.p.deps.Usage.Record(e); err != nil {
			logger.Warn("[Pipeline] 记账事件写入失败",
				logger.String("action", e.Action),
				logger.ErrorField(err))
		}
	}
}

// truncateError bounds the stored error text without splitting a multi-byte
// character.
func truncateError(msg string) string {
	runes := []rune(msg)
	if len(runes) <= maxErrorTextRunes {
		return msg
	}
	return string(runes[:maxErrorTextRunes])
}
