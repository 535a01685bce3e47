package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/EvanCNavarro/disc-sub000/core/convergence"
	"github.com/EvanCNavarro/disc-sub000/core/extraction"
	"github.com/EvanCNavarro/disc-sub000/core/imagegen"
	"github.com/EvanCNavarro/disc-sub000/core/spotify"
	"github.com/EvanCNavarro/disc-sub000/model"
)

// coverPNG renders a small gradient and returns it PNG-encoded. Smooth
// content keeps the compressed cover far under any realistic byte budget.
func coverPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// --- repositories ---

type fakePlaylistRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*model.Playlist

	statusLog   []model.PlaylistStatus
	progressLog []string

	progressErr error
}

func newFakePlaylistRepo() *fakePlaylistRepo {
	return &fakePlaylistRepo{rows: map[int64]*model.Playlist{}}
}

func (f *fakePlaylistRepo) seed(p *model.Playlist) *model.Playlist {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p.ID = f.nextID
	if p.Status == "" {
		p.Status = model.PlaylistIdle
	}
	f.rows[p.ID] = p
	return p
}

func (f *fakePlaylistRepo) Upsert(p *model.Playlist) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.UserID == p.UserID && row.PlatformID == p.PlatformID {
			row.Name = p.Name
			row.TrackCount = p.TrackCount
			return row.ID, nil
		}
	}
	f.nextID++
	stored := *p
	stored.ID = f.nextID
	if stored.Status == "" {
		stored.Status = model.PlaylistIdle
	}
	f.rows[stored.ID] = &stored
	return stored.ID, nil
}

func (f *fakePlaylistRepo) GetByID(id int64) (*model.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id], nil
}

func (f *fakePlaylistRepo) GetByPlatformID(userID int64, platformID string) (*model.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.UserID == userID && row.PlatformID == platformID {
			return row, nil
		}
	}
	return nil, nil
}

func (f *fakePlaylistRepo) ListByUser(userID int64) ([]*model.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Playlist
	for _, row := range f.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakePlaylistRepo) ListAutoUpdate() ([]*model.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Playlist
	for _, row := range f.rows {
		if row.AutoUpdate {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakePlaylistRepo) UpdateStatus(id int64, status model.PlaylistStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.Status = status
		row.StatusSince = time.Now()
	}
	f.statusLog = append(f.statusLog, status)
	return nil
}

func (f *fakePlaylistRepo) UpdateProgress(id int64, progress string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.progressErr != nil {
		return f.progressErr
	}
	if row, ok := f.rows[id]; ok {
		row.Progress = progress
	}
	f.progressLog = append(f.progressLog, progress)
	return nil
}

func (f *fakePlaylistRepo) ClearProgress(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.Progress = ""
	}
	return nil
}

func (f *fakePlaylistRepo) MarkGenerated(id int64, coverURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[id]; ok {
		row.Status = model.PlaylistGenerated
		row.CoverURL = coverURL
		row.Progress = ""
		now := time.Now()
		row.LastGenAt = &now
	}
	f.statusLog = append(f.statusLog, model.PlaylistGenerated)
	return nil
}

func (f *fakePlaylistRepo) ResetStale(window time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakePlaylistRepo) lastProgress() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.progressLog) == 0 {
		return ""
	}
	return f.progressLog[len(f.progressLog)-1]
}

type fakeGenerationRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*model.GenerationRecord

	createErr error
}

func newFakeGenerationRepo() *fakeGenerationRepo {
	return &fakeGenerationRepo{rows: map[int64]*model.GenerationRecord{}}
}

func (f *fakeGenerationRepo) Create(g *model.GenerationRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	stored := *g
	stored.ID = f.nextID
	stored.CreatedAt = time.Now()
	f.rows[stored.ID] = &stored
	return stored.ID, nil
}

func (f *fakeGenerationRepo) GetByID(id int64) (*model.GenerationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id], nil
}

func (f *fakeGenerationRepo) MarkCompleted(g *model.GenerationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[g.ID]
	if !ok {
		return fmt.Errorf("generation %d not found", g.ID)
	}
	updated := *g
	updated.Status = model.GenerationCompleted
	updated.CreatedAt = row.CreatedAt
	f.rows[g.ID] = &updated
	return nil
}

func (f *fakeGenerationRepo) MarkFailed(id int64, errorText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return fmt.Errorf("generation %d not found", id)
	}
	row.Status = model.GenerationFailed
	row.ErrorText = errorText
	return nil
}

func (f *fakeGenerationRepo) UpdateArtifacts(g *model.GenerationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[g.ID]
	if !ok {
		return fmt.Errorf("generation %d not found", g.ID)
	}
	row.ChosenObject = g.ChosenObject
	row.Prompt = g.Prompt
	row.PredictionID = g.PredictionID
	row.ArchiveKey = g.ArchiveKey
	row.ImageHash = g.ImageHash
	row.NearDuplicate = g.NearDuplicate
	row.ExtractionTokensIn = g.ExtractionTokensIn
	row.ExtractionTokensOut = g.ExtractionTokensOut
	row.SelectionTokensIn = g.SelectionTokensIn
	row.SelectionTokensOut = g.SelectionTokensOut
	row.LLMCostUSD = g.LLMCostUSD
	row.ImageCostUSD = g.ImageCostUSD
	row.TotalCostUSD = g.TotalCostUSD
	row.DurationMS = g.DurationMS
	return nil
}

func (f *fakeGenerationRepo) LatestCompleted(playlistID string) (*model.GenerationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *model.GenerationRecord
	for _, row := range f.rows {
		if row.PlaylistID != playlistID || row.Status != model.GenerationCompleted {
			continue
		}
		if latest == nil || row.ID > latest.ID {
			latest = row
		}
	}
	return latest, nil
}

func (f *fakeGenerationRepo) ListByPlaylist(playlistID string, limit int) ([]*model.GenerationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.GenerationRecord
	for _, row := range f.rows {
		if row.PlaylistID == playlistID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeGenerationRepo) FailStale(window time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeGenerationRepo) single(t *testing.T) *model.GenerationRecord {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.rows, 1)
	for _, row := range f.rows {
		return row
	}
	return nil
}

type fakeAnalysisRepo struct {
	mu   sync.Mutex
	rows []*model.PlaylistAnalysis
}

func (f *fakeAnalysisRepo) Create(a *model.PlaylistAnalysis) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *a
	stored.ID = int64(len(f.rows) + 1)
	f.rows = append(f.rows, &stored)
	return stored.ID, nil
}

func (f *fakeAnalysisRepo) LatestByPlaylist(playlistID string) (*model.PlaylistAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].PlaylistID == playlistID {
			return f.rows[i], nil
		}
	}
	return nil, nil
}

type claimRow struct {
	userID     int64
	playlistID string
	object     string
	superseded bool
}

type fakeClaimRepo struct {
	mu   sync.Mutex
	rows []claimRow
}

func (f *fakeClaimRepo) Claim(userID int64, playlistID, object string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].playlistID == playlistID {
			f.rows[i].superseded = true
		}
	}
	f.rows = append(f.rows, claimRow{userID: userID, playlistID: playlistID, object: object})
	return nil
}

func (f *fakeClaimRepo) ActiveByUser(userID int64, excludePlaylistID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, row := range f.rows {
		if row.userID == userID && row.playlistID != excludePlaylistID && !row.superseded {
			out = append(out, row.object)
		}
	}
	return out, nil
}

func (f *fakeClaimRepo) ActiveForPlaylist(userID int64, playlistID string) (*model.ClaimedObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.rows) - 1; i >= 0; i-- {
		row := f.rows[i]
		if row.userID == userID && row.playlistID == playlistID && !row.superseded {
			return &model.ClaimedObject{UserID: row.userID, PlaylistID: row.playlistID, Object: row.object}, nil
		}
	}
	return nil, nil
}

func (f *fakeClaimRepo) active(playlistID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, row := range f.rows {
		if row.playlistID == playlistID && !row.superseded {
			out = append(out, row.object)
		}
	}
	return out
}

type fakeUsageRepo struct {
	mu     sync.Mutex
	events []model.UsageEvent

	recordErr error
}

func (f *fakeUsageRepo) Record(e *model.UsageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeUsageRepo) ListByUser(userID int64, limit int) ([]*model.UsageEvent, error) {
	return nil, nil
}

func (f *fakeUsageRepo) byAction(action string) []model.UsageEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.UsageEvent
	for _, e := range f.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// --- external collaborators ---

type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) AccessToken(ctx context.Context, userID int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type fakePlatform struct {
	mu sync.Mutex

	tracks    []model.Track
	tracksErr error
	summary   *spotify.PlaylistSummary

	uploads    []string
	uploadErr  error
	trackCalls int
}

func (f *fakePlatform) PlaylistTracks(ctx context.Context, accessToken, playlistID string) ([]model.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trackCalls++
	if f.tracksErr != nil {
		return nil, f.tracksErr
	}
	return f.tracks, nil
}

func (f *fakePlatform) Playlist(ctx context.Context, accessToken, playlistID string) (*spotify.PlaylistSummary, error) {
	if f.summary == nil {
		return nil, fmt.Errorf("playlist %s not found", playlistID)
	}
	return f.summary, nil
}

func (f *fakePlatform) UploadCover(ctx context.Context, accessToken, playlistID, base64JPEG string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads = append(f.uploads, base64JPEG)
	return nil
}

type fakeLyrics struct {
	calls int
}

func (f *fakeLyrics) FetchAll(ctx context.Context, tracks []model.Track) []model.Track {
	f.calls++
	out := make([]model.Track, len(tracks))
	copy(out, tracks)
	for i := range out {
		out[i].Lyrics = "la la la"
		out[i].LyricsFound = true
	}
	return out
}

type fakeExtractor struct {
	batch *extraction.BatchResult
	err   error
	panic bool
	calls int
}

func (f *fakeExtractor) ExtractAll(ctx context.Context, tracks []model.Track, progress extraction.ProgressFunc) (*extraction.BatchResult, error) {
	f.calls++
	if f.panic {
		panic("extractor exploded")
	}
	if progress != nil && f.batch != nil {
		progress(f.batch.Extractions, f.batch.TokensIn+f.batch.TokensOut)
	}
	return f.batch, f.err
}

type fakeSelector struct {
	convergeResult *convergence.Result
	convergeErr    error
	lightResult    *convergence.LightResult
	lightErr       error

	convergeCalls int
	lightCalls    int
	lastInput     *convergence.Input
	lastLight     *convergence.LightInput
}

func (f *fakeSelector) Converge(ctx context.Context, input *convergence.Input) (*convergence.Result, error) {
	f.convergeCalls++
	f.lastInput = input
	return f.convergeResult, f.convergeErr
}

func (f *fakeSelector) DeriveLight(ctx context.Context, input *convergence.LightInput) (*convergence.LightResult, error) {
	f.lightCalls++
	f.lastLight = input
	return f.lightResult, f.lightErr
}

type fakeImages struct {
	generation  *imagegen.Generation
	generateErr error
	download    []byte
	downloadErr error

	generateCalls int
}

func (f *fakeImages) Generate(ctx context.Context, style *model.Style, prompt string) (*imagegen.Generation, error) {
	f.generateCalls++
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return f.generation, nil
}

func (f *fakeImages) Download(ctx context.Context, url string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.download, nil
}

type fakeArchive struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeArchive) Store(ctx context.Context, userID int64, playlistID string, png []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	key := fmt.Sprintf("generations/%d/%s/%d.png", userID, playlistID, len(f.keys))
	f.keys = append(f.keys, key)
	return key, nil
}

type fakeStyles struct {
	styles map[string]*model.Style
	def    *model.Style
}

func (f *fakeStyles) Get(id string) (*model.Style, error) {
	if s, ok := f.styles[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("style %s not found", id)
}

func (f *fakeStyles) Default() *model.Style {
	return f.def
}
