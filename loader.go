package counsel

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MarkdownLoader reads every *.md file of a directory and splits each file
// into documents at horizontal rules. Fenced code blocks and block quotes are
// dropped. Each document carries the file name and a status label taken from
// the file name (see StatusFromFilename).
type MarkdownLoader struct {
	fsys  fs.FS
	glob  string
	extra Metadata
}

// NewMarkdownLoader creates a loader over fsys, for example os.DirFS(dir) or
// an embedded filesystem.
func NewMarkdownLoader(fsys fs.FS) *MarkdownLoader {
	return &MarkdownLoader{fsys: fsys, glob: "*.md"}
}

// WithGlob sets the file pattern.
func (l *MarkdownLoader) WithGlob(pattern string) *MarkdownLoader {
	l.glob = pattern
	return l
}

// WithMetadata adds metadata to every document.
func (l *MarkdownLoader) WithMetadata(key, value string) *MarkdownLoader {
	if l.extra == nil {
		l.extra = Metadata{}
	}
	l.extra[key] = value
	return l
}

// Load implements DocumentLoader.
func (l *MarkdownLoader) Load(ctx context.Context) ([]Document, error) {
	names, err := fs.Glob(l.fsys, l.glob)
	if err != nil {
		return nil, fmt.Errorf("failed to match %q: %w", l.glob, err)
	}

	var docs []Document
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := fs.ReadFile(l.fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		filename := path.Base(name)
		status := StatusFromFilename(filename)
		for _, section := range splitMarkdown(string(raw)) {
			md := l.extra.Clone()
			md["filename"] = filename
			md["status"] = status
			docs = append(docs, Document{
				ID:       uuid.NewString(),
				Content:  section,
				Metadata: md,
			})
		}
	}
	return docs, nil
}

// StatusFromFilename returns the two characters preceding the last character
// of the name without its extension: "恋爱常见问题和回答 - 单身篇.md" yields "单身".
// Names too short to hold a status yield "".
func StatusFromFilename(filename string) string {
	base := strings.TrimSuffix(filename, path.Ext(filename))
	if utf8.RuneCountInString(base) < 3 {
		return ""
	}
	runes := []rune(base)
	n := len(runes)
	return string(runes[n-3 : n-1])
}

// splitMarkdown splits at horizontal rules and drops code blocks and block
// quotes. Empty sections are omitted.
func splitMarkdown(src string) []string {
	var sections []string
	var current strings.Builder
	inFence := false
	fence := ""

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sections = append(sections, s)
		}
		current.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(src))
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if inFence {
			if strings.HasPrefix(trimmed, fence) {
				inFence = false
			}
			continue
		}
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = true
			fence = trimmed[:3]
			continue
		}
		if isHorizontalRule(trimmed) {
			flush()
			continue
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	flush()
	return sections
}

// isHorizontalRule reports whether a trimmed line is three or more '-', '*'
// or '_' characters, optionally separated by spaces.
func isHorizontalRule(line string) bool {
	if len(line) < 3 {
		return false
	}
	marker := line[0]
	if marker != '-' && marker != '*' && marker != '_' {
		return false
	}
	count := 0
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case marker:
			count++
		case ' ', '\t':
		default:
			return false
		}
	}
	return count >= 3
}

var _ DocumentLoader = (*MarkdownLoader)(nil)
