package qc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
)

// ModelKindIsolationForest is the only artifact kind currently produced by
// the model export.
const ModelKindIsolationForest = "isolation_forest"

// artifact is the on-disk envelope of an exported model.
type artifact struct {
	Kind    string          `json:"kind"`
	Version int             `json:"version"`
	Model   json.RawMessage `json:"model"`
}

// LoadModel reads a model artifact. A missing file wraps domain.ErrNotFound;
// an unreadable or incompatible artifact returns a descriptive error.
func LoadModel(path string) (Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: model %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("read model: %w", err)
	}

	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}

	switch a.Kind {
	case ModelKindIsolationForest:
		if a.Version != 1 {
			return nil, fmt.Errorf("unsupported %s version %d", a.Kind, a.Version)
		}
		var f IsolationForest
		if err := json.Unmarshal(a.Model, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", a.Kind, err)
		}
		if err := f.Validate(); err != nil {
			return nil, err
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("unsupported model kind %q", a.Kind)
	}
}

// MarshalModel wraps a forest in the artifact envelope understood by LoadModel.
func MarshalModel(f *IsolationForest) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return json.Marshal(artifact{Kind: ModelKindIsolationForest, Version: 1, Model: body})
}
