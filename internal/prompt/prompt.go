// Package prompt builds the instruction text handed to the worker and derives
// where the worker is expected to write its output. Both use the same naming
// rules so artifacts can be found after the worker exits.
package prompt

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/contentflow/wfm/internal/model"
)

var (
	ErrUnknownKind  = errors.New("unknown job type")
	ErrMissingParam = errors.New("missing parameter")
)

// Folders of the artifact store, relative to the data dir.
const (
	FolderBrandData = "brand-data"
	FolderBriefs    = "brief-outputs"
	FolderDrafts    = "draft-outputs"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.tmpl"))

var (
	reUnsafe   = regexp.MustCompile(`[^\p{L}\p{N}\p{M}_\s-]`)
	reSeparate = regexp.MustCompile(`[-\s]+`)
)

// Sanitize turns a title into a file name stem: lower case, punctuation
// dropped, runs of dashes and spaces replaced by a single underscore.
func Sanitize(s string) string {
	s = reUnsafe.ReplaceAllString(strings.ToLower(s), "")
	return reSeparate.ReplaceAllString(s, "_")
}

// Folder returns the store folder holding artifacts of kind.
func Folder(kind model.Kind) (string, error) {
	switch kind {
	case model.KindBrandData:
		return FolderBrandData, nil
	case model.KindBrief:
		return FolderBriefs, nil
	case model.KindDraft:
		return FolderDrafts, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Output returns the location the worker writes the artifact of a job to.
func Output(kind model.Kind, params model.Params) (folder, filename string, err error) {
	folder, err = Folder(kind)
	if err != nil {
		return "", "", err
	}
	switch kind {
	case model.KindBrandData:
		name, err := required(params, "brand_name")
		if err != nil {
			return "", "", err
		}
		filename = Sanitize(name) + "_brand_data.json"
	case model.KindBrief:
		title, err := required(params, "title")
		if err != nil {
			return "", "", err
		}
		filename = Sanitize(title) + "_brief.md"
	case model.KindDraft:
		brief, err := required(params, "brief_filename")
		if err != nil {
			return "", "", err
		}
		filename = strings.ReplaceAll(brief, "_brief.md", "") + "_draft.md"
	}
	return folder, filename, nil
}

// File is a location in the artifact store.
type File struct {
	Folder string
	Name   string
}

func (f File) String() string {
	return f.Folder + "/" + f.Name
}

// Inputs returns the stored files the worker of a job reads. Missing
// parameters are skipped, Build reports them.
func Inputs(kind model.Kind, params model.Params) []File {
	var out []File
	add := func(folder, key string) {
		if name, ok := params.String(key); ok && name != "" {
			out = append(out, File{Folder: folder, Name: name})
		}
	}
	switch kind {
	case model.KindBrief:
		add(FolderBrandData, "brand_data")
	case model.KindDraft:
		add(FolderBriefs, "brief_filename")
		add(FolderBrandData, "brand_data_filename")
	}
	return out
}

// Options tune Build.
type Options struct {
	// Root is the data dir as seen from the worker working directory.
	Root string
	Now  time.Time
}

type common struct {
	Root   string
	Date   string
	Output string
}

// Build renders the instruction text of a job.
func Build(kind model.Kind, params model.Params, opts Options) (string, error) {
	folder, filename, err := Output(kind, params)
	if err != nil {
		return "", err
	}
	if opts.Root == "" {
		opts.Root = model.DefaultDataDir
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	c := common{
		Root:   opts.Root,
		Date:   opts.Now.Format(time.DateOnly),
		Output: opts.Root + "/" + folder + "/" + filename,
	}

	var name string
	var data any
	switch kind {
	case model.KindBrandData:
		brand, _ := params.String("brand_name")
		urls, ok := params.Strings("urls")
		if !ok || len(urls) == 0 {
			return "", fmt.Errorf("%w: urls", ErrMissingParam)
		}
		name = "brand_data.tmpl"
		data = struct {
			common
			BrandName string
			URLs      []string
		}{c, brand, urls}
	case model.KindBrief:
		title, _ := params.String("title")
		primary, err := required(params, "primary_keyword")
		if err != nil {
			return "", err
		}
		brandData, err := required(params, "brand_data")
		if err != nil {
			return "", err
		}
		name = "brief.tmpl"
		data = struct {
			common
			Title             string
			PrimaryKeyword    string
			SecondaryKeywords string
			BrandData         string
		}{c, title, primary, keywords(params, "secondary_keywords"), brandData}
	case model.KindDraft:
		brief, _ := params.String("brief_filename")
		brandData, err := required(params, "brand_data_filename")
		if err != nil {
			return "", err
		}
		name = "draft.tmpl"
		data = struct {
			common
			BriefFilename     string
			BrandDataFilename string
		}{c, brief, brandData}
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", kind, err)
	}
	return buf.String(), nil
}

func required(params model.Params, key string) (string, error) {
	s, ok := params.String(key)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	return s, nil
}

// keywords accepts both a comma separated string and a list.
func keywords(params model.Params, key string) string {
	if list, ok := params.Strings(key); ok {
		return strings.Join(list, ", ")
	}
	s, _ := params.String(key)
	return s
}
