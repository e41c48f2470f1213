package integration

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/rybkr/topoorder/internal/gitcore"
	"github.com/rybkr/topoorder/internal/pipeline"
	"github.com/rybkr/topoorder/internal/render"
)

func TestOrderSingleCommit(t *testing.T) {
	repoFS := newGitRepo(t)
	commit := repoFS.commit("initial commit", map[string]string{
		"README.md": "hello world\n",
	})
	repoFS.run("branch", "-M", "main")

	repo := openRepository(t, repoFS.dir)

	branches, err := repo.Branches()
	if err != nil {
		t.Fatalf("failed to read branches: %v", err)
	}
	if len(branches) != 1 || branches["main"] != commit {
		t.Fatalf("unexpected branches map: %#v", branches)
	}

	if got, want := renderOrder(t, repo), string(commit)+" main\n"; got != want {
		t.Fatalf("unexpected output:\ngot  %q\nwant %q", got, want)
	}
}

func TestOrderLinearPacked(t *testing.T) {
	repoFS := newGitRepo(t)
	var commits []gitcore.Hash

	for i := 0; i < 5; i++ {
		hash := repoFS.commit(
			fmt.Sprintf("commit-%d", i),
			map[string]string{"README.md": fmt.Sprintf("iteration %d\n", i)},
		)
		commits = append(commits, hash)
		if i == 0 {
			repoFS.run("branch", "-M", "main")
		}
	}

	repoFS.run("repack", "-ad")
	repo := openRepository(t, repoFS.dir)

	result, err := pipeline.Run(repo, nil)
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	if len(result.Entries) != len(commits) {
		t.Fatalf("expected %d entries, got %d", len(commits), len(result.Entries))
	}
	for i, entry := range result.Entries {
		want := commits[len(commits)-1-i]
		if entry.ID != want {
			t.Fatalf("entry %d: got %s want %s", i, entry.ID, want)
		}
		if entry.Gap != nil {
			t.Fatalf("unexpected gap after %s in a linear history", entry.ID)
		}
	}
	if got := result.Entries[0].Labels; len(got) != 1 || got[0] != "main" {
		t.Fatalf("unexpected labels on tip: %v", got)
	}
}

func TestOrderBranchesAndMerge(t *testing.T) {
	repoFS := newGitRepo(t)
	repoFS.commit("initial", map[string]string{"README.md": "base\n"})
	repoFS.run("branch", "-M", "main")

	repoFS.run("checkout", "-b", "feature/login")
	featureHead := repoFS.commit("feature work", map[string]string{"feature.txt": "feature\n"})

	repoFS.run("checkout", "main")
	repoFS.commit("main work", map[string]string{"README.md": "main update\n"})
	repoFS.run("merge", "--no-ff", "-m", "merge feature", "feature/login")
	mergeHead := repoFS.head()

	repoFS.run("checkout", "-b", "topic", string(featureHead))
	repoFS.commit("topic work", map[string]string{"topic.txt": "topic\n"})

	repo := openRepository(t, repoFS.dir)
	result, err := pipeline.Run(repo, nil)
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	assertMatchesRevList(t, repoFS, result)

	labels := make(map[gitcore.Hash][]string)
	for _, entry := range result.Entries {
		labels[entry.ID] = entry.Labels
	}
	if got := labels[mergeHead]; len(got) != 1 || got[0] != "main" {
		t.Fatalf("unexpected labels on merge: %v", got)
	}
	if got := labels[featureHead]; len(got) != 1 || got[0] != "feature/login" {
		t.Fatalf("unexpected labels on feature head: %v", got)
	}
}

func TestOrderPackedRefs(t *testing.T) {
	repoFS := newGitRepo(t)
	first := repoFS.commit("first", map[string]string{"README.md": "v1\n"})
	repoFS.run("branch", "-M", "main")
	repoFS.run("branch", "release", string(first))
	repoFS.run("tag", "-a", "v1.0.0", "-m", "release", string(first))
	second := repoFS.commit("second", map[string]string{"README.md": "v2\n"})

	repoFS.run("pack-refs", "--all")
	repoFS.run("repack", "-ad")
	if _, err := os.Stat(filepath.Join(repoFS.dir, ".git", "refs", "heads", "release")); !os.IsNotExist(err) {
		t.Fatalf("expected release to live only in packed-refs, stat err: %v", err)
	}

	repo := openRepository(t, repoFS.dir)
	want := string(second) + " main\n" + string(first) + " release\n"
	if got := renderOrder(t, repo); got != want {
		t.Fatalf("unexpected output:\ngot  %q\nwant %q", got, want)
	}

	commit, err := repo.ReadCommit(first)
	if err != nil {
		t.Fatalf("failed to read packed commit: %v", err)
	}
	if commit.Message != "first" {
		t.Fatalf("expected first commit message, got %q", commit.Message)
	}
}

func TestOrderRescanAfterGC(t *testing.T) {
	repoFS := newGitRepo(t)
	first := repoFS.commit("first", map[string]string{"README.md": "v1\n"})
	repoFS.run("branch", "-M", "main")

	repo := openRepository(t, repoFS.dir)
	if got, want := renderOrder(t, repo), string(first)+" main\n"; got != want {
		t.Fatalf("unexpected output before gc:\ngot  %q\nwant %q", got, want)
	}

	second := repoFS.commit("second", map[string]string{"README.md": "v2\n"})
	repoFS.run("gc", "--prune=now")

	// Same Repository: the objects now live only in a pack written after it
	// was opened.
	want := string(second) + " main\n" + string(first) + "\n"
	if got := renderOrder(t, repo); got != want {
		t.Fatalf("unexpected output after gc:\ngot  %q\nwant %q", got, want)
	}

	third := repoFS.commit("third", map[string]string{"README.md": "v3\n"})
	repoFS.run("gc", "--prune=now")

	want = string(third) + " main\n" + string(second) + "\n" + string(first) + "\n"
	if got := renderOrder(t, repo); got != want {
		t.Fatalf("unexpected output after second gc:\ngot  %q\nwant %q", got, want)
	}
}

func TestOrderClone(t *testing.T) {
	repoFS := newGitRepo(t)
	repoFS.commit("initial", map[string]string{"README.md": "base\n"})
	repoFS.run("branch", "-M", "main")
	repoFS.run("checkout", "-b", "feature")
	repoFS.commit("feature work", map[string]string{"feature.txt": "feature\n"})
	repoFS.run("checkout", "main")
	repoFS.commit("main work", map[string]string{"README.md": "main update\n"})
	repoFS.run("repack", "-ad")

	baseDir := t.TempDir()
	cloneDir := filepath.Join(baseDir, "clone")
	gitExec(t, repoFS.git, baseDir, "clone", repoFS.dir, cloneDir)
	clone := &gitRepo{t: t, dir: cloneDir, git: repoFS.git}

	repo := openRepository(t, cloneDir)
	result, err := pipeline.Run(repo, nil)
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	// Only the checked-out branch is local in a fresh clone.
	assertMatchesRevList(t, clone, result)
}

// assertMatchesRevList checks that result covers exactly the commits git
// reports for local branches, and that each commit precedes its parents.
func assertMatchesRevList(t *testing.T, r *gitRepo, result *pipeline.Result) {
	t.Helper()

	parents := make(map[string][]string)
	for _, line := range strings.Split(r.run("rev-list", "--parents", "--branches"), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		parents[fields[0]] = fields[1:]
	}

	position := make(map[string]int, len(result.Entries))
	for i, entry := range result.Entries {
		position[string(entry.ID)] = i
	}

	if len(position) != len(parents) {
		t.Fatalf("commit count mismatch: got %d want %d", len(position), len(parents))
	}
	for id, ps := range parents {
		at, ok := position[id]
		if !ok {
			t.Fatalf("commit %s missing from order", id)
		}
		for _, p := range ps {
			if position[p] <= at {
				t.Fatalf("parent %s at %d does not follow child %s at %d", p, position[p], id, at)
			}
		}
	}

	var branches []string
	for _, line := range strings.Split(r.run("for-each-ref", "refs/heads", "--format=%(refname:strip=2)"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			branches = append(branches, line)
		}
	}
	var labels []string
	for _, entry := range result.Entries {
		labels = append(labels, entry.Labels...)
	}
	sort.Strings(branches)
	sort.Strings(labels)
	if strings.Join(labels, ",") != strings.Join(branches, ",") {
		t.Fatalf("label mismatch: got %v want %v", labels, branches)
	}
}

type gitRepo struct {
	t   *testing.T
	dir string
	git string
}

func newGitRepo(t *testing.T) *gitRepo {
	t.Helper()
	gitPath, err := exec.LookPath("git")
	if err != nil {
		t.Skip("git binary not available; skipping integration suite")
	}

	repo := &gitRepo{
		t:   t,
		dir: t.TempDir(),
		git: gitPath,
	}
	repo.run("init")
	repo.run("config", "user.name", "Test User")
	repo.run("config", "user.email", "test@example.com")
	repo.run("config", "commit.gpgsign", "false")
	return repo
}

func (r *gitRepo) run(args ...string) string {
	r.t.Helper()
	return gitExec(r.t, r.git, r.dir, args...)
}

func (r *gitRepo) commit(message string, files map[string]string) gitcore.Hash {
	r.t.Helper()
	for path, content := range files {
		r.write(path, content)
	}
	r.run("add", ".")
	r.run("commit", "-m", message)
	return r.head()
}

func (r *gitRepo) head() gitcore.Hash {
	ref := strings.TrimSpace(r.run("rev-parse", "HEAD"))
	hash, err := gitcore.NewHash(ref)
	if err != nil {
		r.t.Fatalf("invalid commit hash %q: %v", ref, err)
	}
	return hash
}

func (r *gitRepo) write(relPath, content string) {
	fullPath := filepath.Join(r.dir, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		r.t.Fatalf("mkdir %s failed: %v", filepath.Dir(fullPath), err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		r.t.Fatalf("write %s failed: %v", fullPath, err)
	}
}

func openRepository(t *testing.T, dir string) *gitcore.Repository {
	t.Helper()
	repo, err := gitcore.NewRepository(dir)
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}
	return repo
}

func renderOrder(t *testing.T, repo *gitcore.Repository) string {
	t.Helper()
	result, err := pipeline.Run(repo, nil)
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	var b strings.Builder
	if err := render.Write(&b, result.Entries, nil); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	return b.String()
}

func gitExec(t *testing.T, gitPath, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command(gitPath, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\nOutput: %s", args, err, string(output))
	}
	return string(output)
}
