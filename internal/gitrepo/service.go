// Package gitrepo keeps a git history of every saved contract rendering,
// one repository per collaboration key.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	htmlFile      = "contract.html"
	variablesFile = "variables.json"
	mainBranch    = "main"
)

var (
	ErrNoRevisions      = errors.New("no revisions")
	ErrRevisionNotFound = errors.New("revision not found")
	ErrInvalidCollabKey = errors.New("invalid collaboration key")
)

// Content is one saved rendering.
type Content struct {
	HTML      string             `json:"renderedHtml"`
	Variables map[string]*string `json:"variables"`
}

// Revision describes a commit in a collaboration's history.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Commit records content as the newest revision of key. When content equals
// the current head, no commit is made and the head revision is returned with
// created set to false.
func (s *Service) Commit(key string, content Content, author, message string) (rev Revision, created bool, err error) {
	if err := validKey(key); err != nil {
		return Revision{}, false, err
	}
	lock := s.collabLock(key)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(key)
	if err != nil {
		return Revision{}, false, err
	}

	if head, err := headCommit(repo); err == nil {
		current, err := readContentFromCommit(head)
		if err == nil && !HasChanges(current, content) {
			return toRevision(head), false, nil
		}
	} else if !errors.Is(err, ErrNoRevisions) {
		return Revision{}, false, err
	}

	hash, err := s.commit(repo, content, author, message)
	if err != nil {
		return Revision{}, false, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), true, nil
}

// History lists revisions newest first. A collaboration that was never saved
// has an empty history.
func (s *Service) History(key string, limit int) ([]Revision, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	lock := s.collabLock(key)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(key))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := headCommit(repo)
	if errors.Is(err, ErrNoRevisions) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Get returns the content and metadata of one revision. hash may be abbreviated.
func (s *Service) Get(key, hash string) (Content, Revision, error) {
	if err := validKey(key); err != nil {
		return Content{}, Revision{}, err
	}
	lock := s.collabLock(key)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(key))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Content{}, Revision{}, ErrRevisionNotFound
	}
	if err != nil {
		return Content{}, Revision{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, Revision{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Content{}, Revision{}, fmt.Errorf("%w: %s", ErrRevisionNotFound, hash)
	}
	content, err := readContentFromCommit(commitObj)
	if err != nil {
		return Content{}, Revision{}, err
	}
	return content, toRevision(commitObj), nil
}

func (s *Service) repoPath(key string) string {
	return filepath.Join(s.baseDir, key)
}

func (s *Service) collabLock(key string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[key]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[key] = lock
	return lock
}

func validKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidCollabKey, key)
	}
	return nil
}

func (s *Service) openOrInit(key string) (*git.Repository, error) {
	path := s.repoPath(key)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNoRevisions
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func (s *Service) commit(repo *git.Repository, content Content, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	vars := content.Variables
	if vars == nil {
		vars = map[string]*string{}
	}
	payload, err := json.MarshalIndent(vars, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal variables: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, htmlFile), []byte(content.HTML), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", htmlFile, err)
	}
	if err := os.WriteFile(filepath.Join(repoRoot, variablesFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", variablesFile, err)
	}
	for _, name := range []string{htmlFile, variablesFile} {
		if _, err := worktree.Add(name); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	if author == "" {
		author = "system"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.contractflow.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	html, err := readFile(commitObj, htmlFile)
	if err != nil {
		return Content{}, err
	}
	raw, err := readFile(commitObj, variablesFile)
	if err != nil {
		return Content{}, err
	}
	var vars map[string]*string
	if err := json.Unmarshal(raw, &vars); err != nil {
		return Content{}, fmt.Errorf("decode commit variables: %w", err)
	}
	return Content{HTML: string(html), Variables: vars}, nil
}

func readFile(commitObj *object.Commit, name string) ([]byte, error) {
	file, err := commitObj.File(name)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", name, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open %s reader: %w", name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// ChangedVariables returns the occurrence keys whose value differs between
// before and after, sorted.
func ChangedVariables(before, after map[string]*string) []string {
	changed := make([]string, 0)
	for key, value := range after {
		if !sameValue(before[key], value) {
			changed = append(changed, key)
		}
	}
	for key, value := range before {
		if _, ok := after[key]; !ok && value != nil {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}

func sameValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func HasChanges(from, to Content) bool {
	return from.HTML != to.HTML || len(ChangedVariables(from.Variables, to.Variables)) > 0
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	bytes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			bytes = append(bytes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			bytes = append(bytes, '.')
		}
	}
	if len(bytes) == 0 {
		return "user"
	}
	return string(bytes)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrRevisionNotFound, hash)
	}
	return *resolved, nil
}
