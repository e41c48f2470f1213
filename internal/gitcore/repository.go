package gitcore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// Repository is a read-only view over a Git directory's refs and object store.
// Nothing is cached beyond pack indices, which are reloaded when a lookup
// misses; every other call reads the filesystem. A Repository is safe for
// concurrent use.
type Repository struct {
	gitDir  string
	workDir string

	packsMu sync.RWMutex
	packs   []*packIndex
	logger  *log.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger routes the repository's debug output to l.
func WithLogger(l *log.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRepository creates and initializes a new Repository instance.
// path can be either:
//   - The working directory (will find .git within)
//   - The .git directory itself
//   - Any descendant of the working directory
func NewRepository(path string, opts ...Option) (*Repository, error) {
	gitDir, workDir, err := findGitDirectory(path)
	if err != nil {
		return nil, err
	}

	if err := validateGitDirectory(gitDir); err != nil {
		return nil, err
	}

	repo := &Repository{
		gitDir:  gitDir,
		workDir: workDir,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(repo)
	}

	if err := repo.loadPackIndices(); err != nil {
		return nil, fmt.Errorf("failed to load pack indices: %w", err)
	}
	repo.logger.Debug("opened repository", "gitdir", gitDir, "packs", len(repo.packs))

	return repo, nil
}

// Name returns the repository's directory name.
func (r *Repository) Name() string {
	return filepath.Base(r.workDir)
}

// GitDir returns the absolute path of the git metadata directory.
func (r *Repository) GitDir() string {
	return r.gitDir
}

// WorkDir returns the directory that encloses the git metadata directory.
func (r *Repository) WorkDir() string {
	return r.workDir
}

// findGitDirectory locates the .git directory starting from the given path.
// Returns both the .git directory and the working directory.
func findGitDirectory(startPath string) (gitDir string, workDir string, err error) {
	absPath, err := filepath.Abs(startPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if filepath.Base(absPath) == ".git" {
		info, err := os.Stat(absPath)
		if err == nil && info.IsDir() {
			return absPath, filepath.Dir(absPath), nil
		}
	}

	currentPath := absPath
	for {
		gitPath := filepath.Join(currentPath, ".git")

		info, err := os.Stat(gitPath)
		if err == nil {
			if info.IsDir() {
				return gitPath, currentPath, nil
			}
			return handleGitFile(gitPath, currentPath)
		}

		parentPath := filepath.Dir(currentPath)
		if parentPath == currentPath {
			return "", "", fmt.Errorf("%w (or any parent up to mount point): %s", ErrRepositoryNotFound, startPath)
		}
		currentPath = parentPath
	}
}

// handleGitFile handles the case where .git is a file (worktrees, submodules).
// .git file format: "gitdir: /path/to/actual/.git"
func handleGitFile(gitFilePath string, workDir string) (string, string, error) {
	content, err := os.ReadFile(gitFilePath)
	if err != nil {
		return "", "", fmt.Errorf("failed to read .git file: %w", err)
	}

	line := strings.TrimSpace(string(content))
	if !strings.HasPrefix(line, "gitdir: ") {
		return "", "", fmt.Errorf("%w: invalid .git file format: %s", ErrRepositoryNotFound, gitFilePath)
	}

	gitDir := strings.TrimPrefix(line, "gitdir: ")
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(filepath.Dir(gitFilePath), gitDir)
	}
	gitDir = filepath.Clean(gitDir)

	if _, err := os.Stat(gitDir); err != nil {
		return "", "", fmt.Errorf("%w: gitdir points to non-existent directory: %s", ErrRepositoryNotFound, gitDir)
	}

	return gitDir, workDir, nil
}

// validateGitDirectory checks if the directory is a valid Git repository.
func validateGitDirectory(gitDir string) error {
	info, err := os.Stat(gitDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRepositoryNotFound, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: git path is not a directory: %s", ErrRepositoryNotFound, gitDir)
	}

	for _, required := range []string{"objects", "refs"} {
		if _, err := os.Stat(filepath.Join(gitDir, required)); err != nil {
			return fmt.Errorf("%w: missing %s in %s", ErrRepositoryNotFound, required, gitDir)
		}
	}

	return nil
}
