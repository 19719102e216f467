package exam

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/unimath/placement-backend/internal/config"
	"github.com/unimath/placement-backend/internal/model"
)

// TemplateLoader resolves template reference strings to parsed templates.
type TemplateLoader interface {
	Load(ctx context.Context, ref string) (*model.ExamTemplate, error)
}

// FileTemplateLoader loads template documents from a directory, with a
// Redis read-through cache in front of the filesystem.
type FileTemplateLoader struct {
	dir string
	rdb *redis.Client
	log zerolog.Logger
}

// NewFileTemplateLoader creates a loader over the given template directory.
func NewFileTemplateLoader(dir string, rdb *redis.Client, log zerolog.Logger) *FileTemplateLoader {
	return &FileTemplateLoader{
		dir: dir,
		rdb: rdb,
		log: log.With().Str("component", "template_loader").Logger(),
	}
}

// Load returns the template for ref. The Redis cache is consulted first;
// on a miss the template file is parsed and the cache repopulated.
func (l *FileTemplateLoader) Load(ctx context.Context, ref string) (*model.ExamTemplate, error) {
	key := config.CacheKey.ExamTemplateKey(ref)

	if raw, err := l.rdb.Get(ctx, key).Result(); err == nil {
		var tmpl model.ExamTemplate
		if err := json.Unmarshal([]byte(raw), &tmpl); err == nil {
			return &tmpl, nil
		}
		// Corrupt cache entry; fall through to the file.
		l.log.Warn().Str("ref", ref).Msg("Discarding unparseable cached template")
	}

	tmpl, err := l.loadFile(ref)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(tmpl); err == nil {
		if err := l.rdb.Set(ctx, key, raw, 0).Err(); err != nil {
			l.log.Warn().Err(err).Str("ref", ref).Msg("Failed to cache template")
		}
	}

	return tmpl, nil
}

// Prewarm loads every template document in the directory into Redis. Called
// before accepting traffic so lazy loading cannot race under load.
func (l *FileTemplateLoader) Prewarm(ctx context.Context) error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("read template dir: %w", err)
	}

	var warmed int
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ref := strings.TrimSuffix(e.Name(), ".json")
		tmpl, err := l.loadFile(ref)
		if err != nil {
			l.log.Warn().Err(err).Str("ref", ref).Msg("Skipping unparseable template")
			continue
		}
		raw, err := json.Marshal(tmpl)
		if err != nil {
			continue
		}
		if err := l.rdb.Set(ctx, config.CacheKey.ExamTemplateKey(ref), raw, 0).Err(); err != nil {
			return fmt.Errorf("cache template %s: %w", ref, err)
		}
		warmed++
	}

	l.log.Info().Int("templates", warmed).Msg("Template cache prewarmed")
	return nil
}

func (l *FileTemplateLoader) loadFile(ref string) (*model.ExamTemplate, error) {
	// Refs come from request input; reject anything that escapes the dir.
	if strings.ContainsAny(ref, "/\\") {
		return nil, fmt.Errorf("invalid template ref %q", ref)
	}

	raw, err := os.ReadFile(filepath.Join(l.dir, ref+".json"))
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", ref, err)
	}

	var tmpl model.ExamTemplate
	if err := json.Unmarshal(raw, &tmpl); err != nil {
		return nil, fmt.Errorf("parse template %s: %w", ref, err)
	}
	if tmpl.Ref == "" {
		tmpl.Ref = ref
	}

	return &tmpl, nil
}
