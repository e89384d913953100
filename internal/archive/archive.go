// Package archive keeps a copy of every probe transcript on disk so a
// technician can audit the raw output behind a score.
package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pingsantohq/mosprobe/internal/probe"
)

const (
	filePrefix = "ping-"
	fileSuffix = ".txt"
	maxSuffix  = 1000
)

var unsafeChars = strings.NewReplacer(":", "_", "/", "_", "\\", "_", "%", "_")

// Store writes transcripts under a single directory.
type Store struct {
	dir string
	now func() time.Time
}

type Option func(*Store)

func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Dir() string {
	return s.dir
}

// Save writes t to <dir>/ping-<host>-<YYYYmmdd-HHMMSS>.txt and returns the
// path. A numeric suffix is added when the name is already taken.
func (s *Store) Save(t probe.Transcript) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure archive dir %q: %w", s.dir, err)
	}

	now := s.now()
	stamp := t.StartedAt
	if stamp.IsZero() {
		stamp = now
	}
	base := filePrefix + unsafeChars.Replace(t.Host) + "-" + stamp.Format("20060102-150405")
	body := Render(t, now)

	tmp, err := os.CreateTemp(s.dir, ".transcript-*")
	if err != nil {
		return "", fmt.Errorf("create temp transcript in %q: %w", s.dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write temp transcript %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp transcript %q: %w", tmpName, err)
	}

	for i := 1; i <= maxSuffix; i++ {
		name := base + fileSuffix
		if i > 1 {
			name = fmt.Sprintf("%s-%d%s", base, i, fileSuffix)
		}
		path := filepath.Join(s.dir, name)
		// Link fails if path exists, unlike Rename which would overwrite it.
		if err := os.Link(tmpName, path); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			os.Remove(tmpName)
			return "", fmt.Errorf("commit transcript %q: %w", path, err)
		}
		os.Remove(tmpName)
		return path, nil
	}
	os.Remove(tmpName)
	return "", fmt.Errorf("no free transcript name for %q in %q", base, s.dir)
}

// Render lays out a transcript the way archived files are written.
func Render(t probe.Transcript, writtenAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ping to %s - %s\n", t.Host, writtenAt.Format("2006-01-02 15:04:05"))
	b.WriteString(strings.Repeat("=", 60))
	b.WriteString("\n\n")
	b.WriteString(t.Output)
	if t.ErrOutput != "" {
		b.WriteString("\nErrors:\n")
		b.WriteString(t.ErrOutput)
	}
	return b.String()
}

// Load reads an archived transcript back, dropping the header so the body
// can be parsed again.
func Load(path string) (string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("read transcript %q: %w", path, err)
	}
	return StripHeader(string(data)), nil
}

// StripHeader removes the archive header if text carries one.
func StripHeader(text string) string {
	if !strings.HasPrefix(text, "Ping to ") {
		return text
	}
	rule := strings.Repeat("=", 60) + "\n\n"
	if idx := strings.Index(text, rule); idx >= 0 {
		return text[idx+len(rule):]
	}
	return text
}
