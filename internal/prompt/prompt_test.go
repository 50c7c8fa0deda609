package prompt_test

import (
	"testing"
	"time"

	"github.com/contentflow/wfm/internal/model"
	"github.com/contentflow/wfm/internal/prompt"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     string
	}{
		{"spaces", "Indie Campers", "indie_campers"},
		{"punctuation", "10 Tips: Road-Trip Planning!", "10_tips_road_trip_planning"},
		{"runs", "a -- b   c", "a_b_c"},
		{"unicode", "Café Olé", "café_olé"},
		{"underscore kept", "snake_case", "snake_case"},
		{"empty", "", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.then, prompt.Sanitize(tc.given))
		})
	}
}

func TestOutput(t *testing.T) {
	t.Parallel()
	type then struct {
		folder   string
		filename string
		err      error
	}
	var testCases = []struct {
		scenario string
		kind     model.Kind
		params   model.Params
		then     then
	}{
		{
			scenario: "brand data",
			kind:     model.KindBrandData,
			params:   model.Params{"brand_name": "Indie Campers", "urls": []any{"https://indiecampers.com"}},
			then:     then{prompt.FolderBrandData, "indie_campers_brand_data.json", nil},
		},
		{
			scenario: "brief",
			kind:     model.KindBrief,
			params:   model.Params{"title": "Best Van Routes in Portugal"},
			then:     then{prompt.FolderBriefs, "best_van_routes_in_portugal_brief.md", nil},
		},
		{
			scenario: "draft",
			kind:     model.KindDraft,
			params:   model.Params{"brief_filename": "best_van_routes_in_portugal_brief.md"},
			then:     then{prompt.FolderDrafts, "best_van_routes_in_portugal_draft.md", nil},
		},
		{
			scenario: "draft without suffix",
			kind:     model.KindDraft,
			params:   model.Params{"brief_filename": "notes.md"},
			then:     then{prompt.FolderDrafts, "notes.md_draft.md", nil},
		},
		{
			scenario: "missing title",
			kind:     model.KindBrief,
			params:   model.Params{},
			then:     then{err: prompt.ErrMissingParam},
		},
		{
			scenario: "wrong type",
			kind:     model.KindBrandData,
			params:   model.Params{"brand_name": 42},
			then:     then{err: prompt.ErrMissingParam},
		},
		{
			scenario: "unknown kind",
			kind:     model.Kind("podcast"),
			params:   model.Params{"title": "x"},
			then:     then{err: prompt.ErrUnknownKind},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			folder, filename, err := prompt.Output(tc.kind, tc.params)
			if tc.then.err != nil {
				require.ErrorIs(t, err, tc.then.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.then.folder, folder)
			require.Equal(t, tc.then.filename, filename)
		})
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()
	opts := prompt.Options{
		Root: "backend",
		Now:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	t.Run("brand data", func(t *testing.T) {
		t.Parallel()
		text, err := prompt.Build(model.KindBrandData, model.Params{
			"brand_name": "Indie Campers",
			"urls":       []string{"https://indiecampers.com", "https://blog.indiecampers.com"},
		}, opts)
		require.NoError(t, err)
		require.Contains(t, text, `Research the brand "Indie Campers"`)
		require.Contains(t, text, "- https://indiecampers.com\n- https://blog.indiecampers.com\n")
		require.Contains(t, text, "backend/brand-data/indie_campers_brand_data.json")
		require.Contains(t, text, "2025-06-01")
	})

	t.Run("brand data without urls", func(t *testing.T) {
		t.Parallel()
		_, err := prompt.Build(model.KindBrandData, model.Params{"brand_name": "X"}, opts)
		require.ErrorIs(t, err, prompt.ErrMissingParam)
	})

	t.Run("brief", func(t *testing.T) {
		t.Parallel()
		text, err := prompt.Build(model.KindBrief, model.Params{
			"title":              "Van Life 101",
			"primary_keyword":    "van life",
			"secondary_keywords": []any{"campervan", "road trip"},
			"brand_data":         "indie_campers_brand_data.json",
		}, opts)
		require.NoError(t, err)
		require.Contains(t, text, "- Secondary keywords: campervan, road trip")
		require.Contains(t, text, "@backend/brand-data/indie_campers_brand_data.json")
		require.Contains(t, text, "backend/brief-outputs/van_life_101_brief.md")
	})

	t.Run("brief keywords as string", func(t *testing.T) {
		t.Parallel()
		text, err := prompt.Build(model.KindBrief, model.Params{
			"title":              "Van Life 101",
			"primary_keyword":    "van life",
			"secondary_keywords": "campervan, road trip",
			"brand_data":         "b.json",
		}, opts)
		require.NoError(t, err)
		require.Contains(t, text, "- Secondary keywords: campervan, road trip")
	})

	t.Run("draft", func(t *testing.T) {
		t.Parallel()
		text, err := prompt.Build(model.KindDraft, model.Params{
			"brief_filename":      "van_life_101_brief.md",
			"brand_data_filename": "indie_campers_brand_data.json",
		}, opts)
		require.NoError(t, err)
		require.Contains(t, text, "@backend/brief-outputs/van_life_101_brief.md")
		require.Contains(t, text, "backend/draft-outputs/van_life_101_draft.md")
	})

	t.Run("draft missing brand data", func(t *testing.T) {
		t.Parallel()
		_, err := prompt.Build(model.KindDraft, model.Params{"brief_filename": "a_brief.md"}, opts)
		require.ErrorIs(t, err, prompt.ErrMissingParam)
	})
}

func TestInputs(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		kind     model.Kind
		params   model.Params
		want     []string
	}{
		{
			scenario: "brand data reads nothing",
			kind:     model.KindBrandData,
			params:   model.Params{"brand_name": "Acme", "urls": []string{"https://acme.test"}},
		},
		{
			scenario: "brief",
			kind:     model.KindBrief,
			params:   model.Params{"title": "T", "brand_data": "acme_brand_data.json"},
			want:     []string{"brand-data/acme_brand_data.json"},
		},
		{
			scenario: "draft",
			kind:     model.KindDraft,
			params: model.Params{
				"brief_filename":      "t_brief.md",
				"brand_data_filename": "acme_brand_data.json",
			},
			want: []string{"brief-outputs/t_brief.md", "brand-data/acme_brand_data.json"},
		},
		{
			scenario: "draft without brief",
			kind:     model.KindDraft,
			params:   model.Params{"brand_data_filename": "acme_brand_data.json"},
			want:     []string{"brand-data/acme_brand_data.json"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			var got []string
			for _, f := range prompt.Inputs(tc.kind, tc.params) {
				got = append(got, f.String())
			}
			require.Equal(t, tc.want, got)
		})
	}
}
