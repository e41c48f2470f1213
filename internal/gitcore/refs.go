package gitcore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	branchPrefix = "refs/heads/"

	// maxSymrefDepth bounds "ref: " indirection chains.
	maxSymrefDepth = 5
)

// Branches returns every local branch, keyed by its name relative to refs/heads
// (e.g. "main", "feature/login"). Loose ref files take precedence over entries
// in packed-refs with the same name.
func (r *Repository) Branches() (map[string]Hash, error) {
	branches, err := r.loadPackedBranches()
	if err != nil {
		return nil, fmt.Errorf("failed to load packed refs: %w", err)
	}
	if err := r.loadLooseBranches(branches); err != nil {
		return nil, fmt.Errorf("failed to load branches: %w", err)
	}
	r.logger.Debug("loaded branches", "count", len(branches))
	return branches, nil
}

// Tips inverts Branches: each commit identifier maps to the sorted names of
// the branches pointing at it.
func (r *Repository) Tips() (map[Hash][]string, error) {
	branches, err := r.Branches()
	if err != nil {
		return nil, err
	}
	return TipsFromBranches(branches), nil
}

// TipsFromBranches groups branch names by target commit. Each name slice is
// freshly allocated and sorted.
func TipsFromBranches(branches map[string]Hash) map[Hash][]string {
	tips := make(map[Hash][]string)
	for name, hash := range branches {
		tips[hash] = append(tips[hash], name)
	}
	for _, names := range tips {
		sort.Strings(names)
	}
	return tips
}

// loadLooseBranches recursively loads all ref files under refs/heads.
func (r *Repository) loadLooseBranches(branches map[string]Hash) error {
	headsDir := filepath.Join(r.gitDir, "refs", "heads")

	if _, err := os.Stat(headsDir); os.IsNotExist(err) {
		// No branches yet (fresh repository), this is ok.
		return nil
	} else if err != nil {
		return err
	}

	return filepath.Walk(headsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(info.Name(), ".lock") {
			return nil
		}

		relPath, err := filepath.Rel(headsDir, path)
		if err != nil {
			return err
		}

		name := filepath.ToSlash(relPath)
		hash, err := r.resolveRef(path, 0)
		if err != nil {
			// Log the error but continue with other potentially valid refs.
			r.logger.Warn("skipping unresolvable ref", "ref", branchPrefix+name, "err", err)
			return nil
		}

		branches[name] = hash
		return nil
	})
}

// loadPackedBranches reads refs/heads entries from the packed-refs file.
func (r *Repository) loadPackedBranches() (map[string]Hash, error) {
	branches := make(map[string]Hash)

	file, err := os.Open(filepath.Join(r.gitDir, "packed-refs"))
	if os.IsNotExist(err) {
		return branches, nil
	} else if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		// Comments carry pack traits; "^" lines are peeled tag targets.
		if line == "" || line[0] == '#' || line[0] == '^' {
			continue
		}

		hashStr, refName, ok := strings.Cut(line, " ")
		if !ok || !strings.HasPrefix(refName, branchPrefix) {
			continue
		}
		hash, err := NewHash(hashStr)
		if err != nil {
			return nil, fmt.Errorf("invalid hash for %s in packed-refs: %w", refName, err)
		}
		branches[strings.TrimPrefix(refName, branchPrefix)] = hash
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return branches, nil
}

// resolveRef reads a single ref file and returns its hash.
// Handles both direct hashes and symbolic refs.
func (r *Repository) resolveRef(path string, depth int) (Hash, error) {
	if depth > maxSymrefDepth {
		return "", fmt.Errorf("symbolic ref chain too deep at %s", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	line := strings.TrimSpace(string(content))

	if strings.HasPrefix(line, "ref: ") {
		targetRef := strings.TrimPrefix(line, "ref: ")
		return r.resolveRef(filepath.Join(r.gitDir, filepath.FromSlash(targetRef)), depth+1)
	}

	hash, err := NewHash(line)
	if err != nil {
		return "", fmt.Errorf("invalid hash in ref file %s: %w", path, err)
	}
	return hash, nil
}
