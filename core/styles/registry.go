package styles

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/EvanCNavarro/disc-sub000/logger"
	"github.com/EvanCNavarro/disc-sub000/model"

	"github.com/fsnotify/fsnotify"
)

// Registry 管理样式目录中的视觉样式定义。
// 每个 .json 文件一条样式；目录变化时整体重载。
type Registry struct {
	dir string

	mu     sync.RWMutex
	styles map[string]*model.Style
}

// NewRegistry loads every style definition from the directory. An empty or
// missing directory is an error: the worker cannot render without styles.
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{dir: dir}
	if err := r.Load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Load re-scans the styles directory. Individual broken files are skipped
// with a warning so one bad edit cannot take the whole library down.
func (r *Registry) Load() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("failed to read styles directory %s: %w", r.dir, err)
	}

	loaded := make(map[string]*model.Style)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		style, err := loadStyleFile(path)
		if err != nil {
			logger.Warn("[Styles] 样式文件无效，已跳过",
				logger.String("file", entry.Name()),
				logger.ErrorField(err))
			continue
		}
		if _, dup := loaded[style.ID]; dup {
			logger.Warn("[Styles] 样式ID重复，后者覆盖前者",
				logger.String("id", style.ID),
				logger.String("file", entry.Name()))
		}
		loaded[style.ID] = style
	}

	if len(loaded) == 0 {
		return fmt.Errorf("styles directory %s contains no valid styles", r.dir)
	}

	r.mu.Lock()
	r.styles = loaded
	r.mu.Unlock()

	logger.Info("[Styles] 样式库加载完成",
		logger.String("dir", r.dir),
		logger.Int("styles", len(loaded)))
	return nil
}

func loadStyleFile(path string) (*model.Style, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style file: %w", err)
	}

	var style model.Style
	if err := json.Unmarshal(data, &style); err != nil {
		return nil, fmt.Errorf("failed to parse style file: %w", err)
	}

	if style.ID == "" {
		style.ID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	if style.Model == "" {
		return nil, fmt.Errorf("style %s has no image model", style.ID)
	}
	if style.Prompt == "" {
		return nil, fmt.Errorf("style %s has no prompt template", style.ID)
	}
	return &style, nil
}

// Get retrieves a style by ID.
func (r *Registry) Get(id string) (*model.Style, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	style, ok := r.styles[id]
	if !ok {
		return nil, fmt.Errorf("unknown style %q", id)
	}
	return style, nil
}

// Default returns the style flagged as default, or the first style in ID
// order when none is flagged, so a playlist without a configured style can
// always be rendered.
func (r *Registry) Default() *model.Style {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.styles))
	for id, style := range r.styles {
		if style.Default {
			return style
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return r.styles[ids[0]]
}

// List returns every loaded style sorted by ID.
func (r *Registry) List() []*model.Style {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.styles))
	for id := range r.styles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*model.Style, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.styles[id])
	}
	return out
}

// Watch reloads the registry whenever the styles directory changes, until
// the context ends. A reload that would empty the library keeps the last
// good set.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create styles watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return fmt.Errorf("failed to watch styles directory %s: %w", r.dir, err)
	}
	logger.Info("[Styles] 开始监听样式目录", logger.String("dir", r.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := r.Load(); err != nil {
				// 保留上一份可用样式库
				logger.Warn("[Styles] 热重载失败，沿用现有样式库", logger.ErrorField(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("[Styles] 样式目录监听错误", logger.ErrorField(err))
		}
	}
}
