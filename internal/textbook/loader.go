package textbook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-git/go-git/v5"
)

// skipDirs are directory names never descended into during a content
// walk. Hidden directories are skipped separately by name prefix.
var skipDirs = map[string]bool{
	"node_modules": true,
	"build":        true,
	"dist":         true,
}

// Skipped records a file the loader passed over and why, so callers
// can surface warnings without the walk aborting.
type Skipped struct {
	Path   string
	Reason string
}

// LoadDir walks dir and parses every markdown chapter beneath it.
// The walk is lexical, so chapter order is deterministic. Files that
// fail to parse are collected in skipped rather than failing the load;
// index.md navigation stubs and non-markdown files are passed over
// silently.
func LoadDir(ctx context.Context, dir string) ([]*Chapter, []Skipped, error) {
	root, err := validateContentDir(dir)
	if err != nil {
		return nil, nil, err
	}

	var (
		chapters []*Chapter
		skipped  []Skipped
	)

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			name := filepath.Base(path)
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".markdown" {
			return nil
		}
		if filepath.Base(path) == "index.md" {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", relPath, err)
		}

		if !utf8.Valid(raw) {
			skipped = append(skipped, Skipped{Path: relPath, Reason: "not valid UTF-8"})
			return nil
		}

		chapter, err := ParseChapter(relPath, raw)
		if err != nil {
			skipped = append(skipped, Skipped{Path: relPath, Reason: err.Error()})
			return nil
		}

		chapters = append(chapters, chapter)
		return nil
	})

	if err != nil {
		return nil, nil, fmt.Errorf("walking content dir: %w", err)
	}

	return chapters, skipped, nil
}

// Revision returns the HEAD short SHA when dir sits inside a git work
// tree, or "" when it does not. Resolution failures mean "no revision",
// never an error: content outside version control is still ingestable.
func Revision(dir string) string {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}

	head, err := repo.Head()
	if err != nil {
		return ""
	}

	return head.Hash().String()[:7]
}

func validateContentDir(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("content dir cannot be empty")
	}

	clean := filepath.Clean(dir)

	info, err := os.Stat(clean)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("content dir does not exist: %s", clean)
		}
		return "", fmt.Errorf("stat content dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("content path is not a directory: %s", clean)
	}

	return clean, nil
}
