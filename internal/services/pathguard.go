package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"qa-engine-jira/internal/common"
	"qa-engine-jira/internal/interfaces"
	"qa-engine-jira/internal/models"

	"github.com/ternarybob/arbor"
)

// allowedSuffixes are the recognized generated test-file suffixes.
var allowedSuffixes = []string{".spec.js", ".test.js", ".spec.ts", ".test.ts"}

// requiredPrefix is the relative directory all generated files must live under.
const requiredPrefix = "tests/"

// PathGuard validates candidate skeleton paths and writes them under one fixed
// allowed root. The containment check runs against the resolved absolute path,
// independent of the upstream schema validation.
type PathGuard struct {
	root   string
	logger arbor.ILogger
}

func NewPathGuard(cfg *common.FilesConfig, logger arbor.ILogger) (*PathGuard, error) {
	root, err := filepath.Abs(cfg.OutputRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output root %s: %w", cfg.OutputRoot, err)
	}

	return &PathGuard{
		root:   root,
		logger: logger,
	}, nil
}

var _ interfaces.FileWriter = (*PathGuard)(nil)

// Resolve validates a candidate relative path and returns the absolute target
// location inside the allowed root.
func (p *PathGuard) Resolve(candidate string) (string, error) {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return "", common.NewSecurityError("path_empty", "file path cannot be empty")
	}

	if strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, "\\") || filepath.IsAbs(trimmed) {
		return "", common.NewSecurityError("path_absolute", "absolute paths are not allowed")
	}

	// Backslashes are rejected outright to kill mixed-separator traversal
	// tricks on every platform.
	if strings.Contains(trimmed, "\\") {
		return "", common.NewSecurityError("path_backslash", "backslash paths are not allowed")
	}

	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." {
			return "", common.NewSecurityError("path_traversal", "path traversal is not allowed")
		}
	}

	if !strings.HasPrefix(trimmed, requiredPrefix) {
		return "", common.NewSecurityError("path_wrong_root",
			fmt.Sprintf("generated files must be under %s", requiredPrefix))
	}

	if !hasAllowedSuffix(trimmed) {
		return "", common.NewSecurityError("path_wrong_suffix",
			"generated file must be a Playwright spec/test file")
	}

	target := filepath.Join(p.root, filepath.FromSlash(filepath.Clean(trimmed)))

	// Containment is checked after symlink resolution, not on the literal
	// string, so a symlinked directory inside the root cannot redirect writes
	// elsewhere.
	resolvedRoot, err := resolveExistingAncestor(p.root)
	if err != nil {
		return "", common.WrapError(err, common.ErrorTypeSecurity, "path_unresolvable",
			"failed to resolve the output root for the containment check")
	}
	resolvedTarget, err := resolveExistingAncestor(target)
	if err != nil {
		return "", common.WrapError(err, common.ErrorTypeSecurity, "path_unresolvable",
			"failed to resolve the target path for the containment check")
	}
	if !strings.HasPrefix(resolvedTarget, resolvedRoot+string(filepath.Separator)) {
		return "", common.NewSecurityError("path_escape", "resolved path escapes the output root")
	}

	return target, nil
}

// resolveExistingAncestor resolves symlinks in the deepest existing ancestor
// of path and rejoins the not-yet-created remainder, so containment is judged
// on where a write would actually land.
func resolveExistingAncestor(path string) (string, error) {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

func hasAllowedSuffix(path string) bool {
	for _, suffix := range allowedSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// WriteSkeletons validates and writes every skeleton, returning the absolute
// paths created. Any rejected path fails the whole batch before a single byte
// is written.
func (p *PathGuard) WriteSkeletons(skeletons []models.SkeletonSpec) ([]string, error) {
	resolved := make([]string, 0, len(skeletons))
	for _, skeleton := range skeletons {
		target, err := p.Resolve(skeleton.Path)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, target)
	}

	written := make([]string, 0, len(skeletons))
	for i, skeleton := range skeletons {
		target := resolved[i]
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return written, common.WrapError(err, common.ErrorTypeStorage, "mkdir_failed",
				"failed to create skeleton directory")
		}
		if err := os.WriteFile(target, []byte(skeleton.Content), 0644); err != nil {
			return written, common.WrapError(err, common.ErrorTypeStorage, "write_failed",
				"failed to write skeleton file")
		}

		p.logger.Info().Str("path", target).Msg("Skeleton file written")
		written = append(written, target)
	}

	return written, nil
}
