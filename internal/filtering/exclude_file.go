package filtering

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

type ExcludedReferences struct {
	Items []*ExcludedReference `json:"items"`
}

type ExcludedReference struct {
	Reference  string    `json:"reference"`
	RunID      string    `json:"run_id,omitempty"`
	ExcludedAt time.Time `json:"excluded_at"`
}

// NewExcluded marks references of a run as already sourced.
func NewExcluded(runID string, refs []string, now time.Time) *ExcludedReferences {
	excluded := &ExcludedReferences{}
	for _, ref := range refs {
		excluded.Items = append(excluded.Items, &ExcludedReference{
			Reference:  ref,
			RunID:      runID,
			ExcludedAt: now.UTC(),
		})
	}
	return excluded
}

// ReadExcludeFile loads an exclude file. A missing or empty file is an empty list.
func ReadExcludeFile(path string) (*ExcludedReferences, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ExcludedReferences{}, nil
		}
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return &ExcludedReferences{}, nil
	}

	var excluded ExcludedReferences
	if err := json.Unmarshal(data, &excluded); err != nil {
		return nil, fmt.Errorf("decode exclude file %s: %w", path, err)
	}
	return &excluded, nil
}

// Append adds the items of s that are not listed yet.
func (e *ExcludedReferences) Append(s *ExcludedReferences) {
	seen := e.set()
	for _, item := range s.Items {
		if _, ok := seen[item.Reference]; ok {
			continue
		}
		seen[item.Reference] = struct{}{}
		e.Items = append(e.Items, item)
	}
}

func (e *ExcludedReferences) References() []string {
	refs := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		refs = append(refs, item.Reference)
	}
	return refs
}

func (e *ExcludedReferences) ToFile(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}

func (e *ExcludedReferences) set() map[string]struct{} {
	seen := make(map[string]struct{}, len(e.Items))
	for _, item := range e.Items {
		seen[item.Reference] = struct{}{}
	}
	return seen
}

type excludeFileFilter struct {
	path   string
	logger *zap.Logger
}

// NewExcludeFile creates a filter that removes references listed in the exclude file.
func NewExcludeFile(path string, logger *zap.Logger) Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &excludeFileFilter{path: strings.TrimSpace(path), logger: logger}
}

func (f *excludeFileFilter) Name() string { return "exclude_file" }

func (f *excludeFileFilter) IsEnabled() bool { return f.path != "" }

func (f *excludeFileFilter) Apply(_ context.Context, refs []string) ([]string, Step, error) {
	excluded, err := ReadExcludeFile(f.path)
	if err != nil {
		return nil, Step{}, fmt.Errorf("getting excluded references from file: %w", err)
	}

	seen := excluded.set()
	kept, dropped := keep(refs, func(ref string) bool {
		_, ok := seen[ref]
		return !ok
	})

	if len(dropped) > 0 {
		f.logger.Info("excluding references based on exclude file",
			zap.String("path", f.path),
			zap.Strings("excluded_references", dropped),
			zap.Int("references_left", len(kept)),
		)
	}

	return kept, Step{Initial: len(refs), Dropped: len(dropped), Left: len(kept)}, nil
}
