package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/haivivi/earshot/cmd/earshot/internal/config"
	"github.com/haivivi/earshot/pkg/audio/feature"
	"github.com/haivivi/earshot/pkg/infer"
	"github.com/haivivi/earshot/pkg/storage"
	"github.com/haivivi/earshot/pkg/vocab"
)

// openVocab loads the symbol table from a local path or s3:// URL.
func openVocab(ctx context.Context, path string) (*vocab.Table, error) {
	if path == "" {
		return nil, errors.New("vocab path not configured")
	}
	dir, base := splitStorePath(path)
	fs, err := storage.FromURL(dir)
	if err != nil {
		return nil, err
	}
	data, err := storage.ReadFile(ctx, fs, base)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary %s: %w", path, err)
	}
	tab, err := vocab.Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("load vocabulary %s: %w", path, err)
	}
	return tab, nil
}

// splitStorePath splits a file location into its store root and the
// path within the store.
func splitStorePath(p string) (dir, base string) {
	if strings.HasPrefix(p, "s3://") {
		i := strings.LastIndex(p, "/")
		return p[:i], p[i+1:]
	}
	dir, base = filepath.Split(p)
	if dir == "" {
		dir = "."
	}
	return dir, base
}

// dialModel connects to the configured model backend and checks its
// contract against the front-end and vocabulary, so mismatched
// artifacts fail before any audio is read.
func dialModel(ctx context.Context, cfg *config.Config, ex *feature.Extractor, tab *vocab.Table) (*infer.HTTPModel, error) {
	if cfg.Model.Endpoint == "" {
		return nil, errors.New("model endpoint not configured")
	}
	model, err := infer.DialHTTP(ctx, cfg.Model.Endpoint)
	if err != nil {
		return nil, err
	}
	info := model.Info()
	if info.FeatureDim != ex.FeatureDim() {
		return nil, fmt.Errorf("model %q expects %d-dim features, front-end yields %d",
			info.Name, info.FeatureDim, ex.FeatureDim())
	}
	if info.VocabSize != tab.Len() {
		return nil, fmt.Errorf("model %q emits %d symbols, vocabulary has %d",
			info.Name, info.VocabSize, tab.Len())
	}
	return model, nil
}
