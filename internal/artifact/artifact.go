// Package artifact stores the files produced by workers and edited by users:
// brand data JSON, briefs and drafts, each kind in its own folder.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gobwas/glob"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidName = errors.New("invalid file name")
)

// Store is the file storage shared by the service and the workers.
type Store interface {
	Exists(ctx context.Context, folder, name string) (bool, error)
	// List returns the files in folder whose names match the glob pattern,
	// newest first. A missing folder is empty.
	List(ctx context.Context, folder, pattern string) ([]FileInfo, error)
	Read(ctx context.Context, folder, name string) ([]byte, error)
	Write(ctx context.Context, folder, name string, data []byte) error
	Delete(ctx context.Context, folder, name string) error
}

type FileInfo struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	HumanSize string    `json:"size_human"`
	ModTime   time.Time `json:"modified_at"`
	Preview   string    `json:"preview,omitempty"`
}

func newFileInfo(name string, size int64, mod time.Time) FileInfo {
	return FileInfo{
		Name:      name,
		Size:      size,
		HumanSize: humanize.Bytes(uint64(max(size, 0))),
		ModTime:   mod,
	}
}

// CheckName rejects names that would escape the folder.
func CheckName(folder, name string) error {
	for _, s := range []string{folder, name} {
		if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) || path.Clean(s) != s {
			return fmt.Errorf("%w: %q", ErrInvalidName, s)
		}
	}
	return nil
}

func matcher(pattern string) (glob.Glob, error) {
	if pattern == "" {
		pattern = "*"
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling pattern %q: %w", pattern, err)
	}
	return g, nil
}

func sortNewest(files []FileInfo) {
	slices.SortStableFunc(files, func(a, b FileInfo) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
}

const previewLength = 200

var reMarkdown = regexp.MustCompile("[#*`\\[\\]()]")

// Preview returns a short plain text excerpt of a stored file. Brand data
// files show their brand description when present.
func Preview(name string, data []byte) string {
	var text string
	switch path.Ext(name) {
	case ".json":
		var doc struct {
			BrandInfo struct {
				BrandDescription struct {
					Value string `json:"value"`
				} `json:"brandDescription"`
			} `json:"brandInfo"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return ""
		}
		text = doc.BrandInfo.BrandDescription.Value
		if text == "" {
			text = string(data)
		}
	case ".md":
		text = reMarkdown.ReplaceAllString(string(data), "")
	default:
		return ""
	}
	text = strings.TrimSpace(text)
	i := 0
	for pos := range text {
		if i == previewLength {
			return text[:pos]
		}
		i++
	}
	return text
}
