// Package textbook models the markdown corpus that tutord answers
// questions from.
//
// A chapter is one markdown file. Chapters carry optional YAML
// frontmatter (title, description), are grouped into modules by their
// directory (module-01-ros2/chapter-3.md), and are split into sections
// on H2 headings. Section headings are normalized into a small set of
// pedagogical buckets so retrieval can filter on them.
package textbook

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// SectionType classifies an H2 section by its normalized heading.
type SectionType string

const (
	// SectionConcepts holds foundational and introductory material.
	SectionConcepts SectionType = "concepts"
	// SectionArchitectures holds system design and structure material.
	SectionArchitectures SectionType = "architectures"
	// SectionAlgorithms holds algorithmic and implementation material.
	SectionAlgorithms SectionType = "algorithms"
	// SectionRealWorld holds applications, case studies, and practical
	// considerations.
	SectionRealWorld SectionType = "real-world"
	// SectionBody is the catch-all: preamble before the first H2 and
	// any heading that matches no bucket.
	SectionBody SectionType = "body"
)

// Section is one H2-delimited region of a chapter.
type Section struct {
	Type    SectionType
	Heading string
	Content string
}

// Chapter is a parsed markdown chapter.
type Chapter struct {
	// ID is the chapter's stable identifier: the relative path minus
	// extension, lowercased, spaces replaced with underscores.
	// Example: "module-01-ros2/chapter-3".
	ID string
	// Title comes from frontmatter, falling back to the first H1 and
	// then the filename stem.
	Title string
	// ModuleID is the first path segment starting with "module-", or
	// "unknown-module" for chapters outside a module directory.
	ModuleID string
	// Path is the relative path as found on disk.
	Path string
	// Rev is the content revision (git short SHA) when known.
	Rev string
	Sections []Section
}

// frontMatter is the YAML header an authored chapter may carry.
type frontMatter struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

var (
	h2Pattern = regexp.MustCompile(`(?m)^##\s+(.+)$`)
	h1Pattern = regexp.MustCompile(`(?m)^#\s+(.+)$`)
)

// ParseChapter parses one markdown file. relPath is the file's path
// relative to the content root and determines ID and ModuleID. Empty
// or whitespace-only content is an error so callers can skip the file
// with a warning instead of ingesting nothing.
func ParseChapter(relPath string, raw []byte) (*Chapter, error) {
	content := strings.ReplaceAll(string(raw), "\r\n", "\n")
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("chapter %s: empty file", relPath)
	}

	meta, body, err := splitFrontMatter(content)
	if err != nil {
		return nil, fmt.Errorf("chapter %s: %w", relPath, err)
	}

	title := strings.TrimSpace(meta.Title)
	if title == "" {
		if m := h1Pattern.FindStringSubmatch(body); m != nil {
			title = strings.TrimSpace(m[1])
		}
	}
	if title == "" {
		base := filepath.Base(relPath)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	return &Chapter{
		ID:       ChapterIDFromPath(relPath),
		Title:    title,
		ModuleID: moduleIDFromPath(relPath),
		Path:     filepath.ToSlash(relPath),
		Sections: splitSections(body),
	}, nil
}

// ChapterIDFromPath derives a chapter ID from a relative file path.
// The extension is dropped and the remainder lowercased with spaces
// replaced by underscores, so IDs are stable across case-insensitive
// filesystems.
func ChapterIDFromPath(relPath string) string {
	p := filepath.ToSlash(relPath)
	p = strings.TrimSuffix(p, filepath.Ext(p))
	p = strings.ToLower(p)
	p = strings.ReplaceAll(p, " ", "_")
	return p
}

func moduleIDFromPath(relPath string) string {
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if strings.HasPrefix(part, "module-") {
			return part
		}
	}
	return "unknown-module"
}

// splitFrontMatter strips a leading "---" fenced YAML block. Content
// without a fence is returned unchanged with zero metadata.
func splitFrontMatter(content string) (frontMatter, string, error) {
	var meta frontMatter

	lines := strings.SplitAfter(content, "\n")
	if strings.TrimRight(lines[0], " \n") != "---" {
		return meta, content, nil
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], " \n") != "---" {
			continue
		}
		block := strings.Join(lines[1:i], "")
		body := strings.Join(lines[i+1:], "")
		if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
			return meta, "", fmt.Errorf("parse frontmatter: %w", err)
		}
		return meta, body, nil
	}

	return meta, "", fmt.Errorf("unterminated frontmatter fence")
}

// splitSections cuts the body on H2 headings. Preamble before the
// first H2 becomes a body section; each H2's content runs until the
// next H2 or end of document.
func splitSections(body string) []Section {
	matches := h2Pattern.FindAllStringSubmatchIndex(body, -1)

	var sections []Section

	preambleEnd := len(body)
	if len(matches) > 0 {
		preambleEnd = matches[0][0]
	}
	if preamble := strings.TrimSpace(body[:preambleEnd]); preamble != "" {
		sections = append(sections, Section{Type: SectionBody, Content: preamble})
	}

	for i, m := range matches {
		heading := strings.TrimSpace(body[m[2]:m[3]])
		start := m[1]
		end := len(body)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}

		sections = append(sections, Section{
			Type:    NormalizeSectionType(heading),
			Heading: heading,
			Content: strings.TrimSpace(body[start:end]),
		})
	}

	return sections
}

// NormalizeSectionType maps a free-form H2 heading onto one of the
// standard buckets. Headings that match nothing fall through to
// SectionBody so their content is still ingested.
func NormalizeSectionType(heading string) SectionType {
	h := strings.ToLower(heading)

	switch {
	case strings.Contains(h, "concept"),
		strings.Contains(h, "foundation"),
		strings.Contains(h, "introduction"):
		return SectionConcepts
	case strings.Contains(h, "architecture"),
		strings.Contains(h, "design"),
		strings.Contains(h, "structure"):
		return SectionArchitectures
	case strings.Contains(h, "algorithm"),
		strings.Contains(h, "implementation"),
		strings.Contains(h, "technique"):
		return SectionAlgorithms
	case strings.Contains(h, "real-world"),
		strings.Contains(h, "real world"),
		strings.Contains(h, "practical"),
		strings.Contains(h, "application"),
		strings.Contains(h, "case stud"),
		strings.Contains(h, "consideration"):
		return SectionRealWorld
	default:
		return SectionBody
	}
}
