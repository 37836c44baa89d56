package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOutline() CourseOutline {
	return CourseOutline{
		Title:              "Arithmetic Foundations",
		Description:        "Addition and subtraction for beginners",
		LearningObjectives: []string{"add two numbers", "subtract two numbers"},
		Sections: []SectionRef{
			{
				ID:          "s1",
				Title:       "Addition",
				Description: "Combining quantities",
				Objectives:  []string{"carry digits"},
				KeyPoints:   []string{"commutative"},
				Subsections: []SectionRef{{ID: "s1.1", Title: "Single digits"}},
			},
			{ID: "s2", Title: "Subtraction"},
		},
	}
}

func TestCatalog_RoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		in := sampleOutline()

		id, err := m.StoreCourseOutline(ctx, "math addition", in)
		require.NoError(t, err)
		require.NotZero(t, id)

		got, found, err := m.GetCourseOutline(ctx, id)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, "math addition", got.Topic)
		assert.Equal(t, in.Title, got.Title)
		assert.Equal(t, in.Description, got.Description)
		assert.Equal(t, in.LearningObjectives, got.LearningObjectives)
		assert.Equal(t, in.Sections, got.Sections)
		assert.Equal(t, "addition,math", got.Metadata[MetaTopicKeywords])
		assert.False(t, got.CreatedAt.IsZero())
	})
}

func TestCatalog_StoreNeverOverwrites(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		first, err := m.StoreCourseOutline(ctx, "algebra", CourseOutline{Title: "v1"})
		require.NoError(t, err)
		second, err := m.StoreCourseOutline(ctx, "algebra", CourseOutline{Title: "v2"})
		require.NoError(t, err)
		require.NotEqual(t, first, second)

		got, _, err := m.GetCourseOutline(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, "v1", got.Title)
	})
}

func TestCatalog_Validation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		_, err := m.StoreCourseOutline(ctx, "   ", CourseOutline{})
		assert.True(t, IsValidation(err), "empty topic: %v", err)

		_, err = m.StoreCourseOutline(ctx, "x", CourseOutline{Sections: []SectionRef{{Title: "no id"}}})
		assert.True(t, IsValidation(err), "section without id: %v", err)
	})
}

func TestCatalog_MissIsNotAnError(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		_, found, err := m.GetCourseOutline(ctx, 4242)
		require.NoError(t, err)
		assert.False(t, found)

		_, found, err = m.GetCourseByTopic(ctx, "nothing stored")
		require.NoError(t, err)
		assert.False(t, found)

		_, found, err = m.GetCourseStructure(ctx, 4242)
		require.NoError(t, err)
		assert.False(t, found)

		sections, found, err := m.GetCourseSections(ctx, 4242)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, sections)
	})
}

func TestCatalog_SearchNewestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		oldest, err := m.StoreCourseOutline(ctx, "Python basics", CourseOutline{Title: "Intro"})
		require.NoError(t, err)
		_, err = m.StoreCourseOutline(ctx, "cooking", CourseOutline{Title: "Knife skills"})
		require.NoError(t, err)
		byTitle, err := m.StoreCourseOutline(ctx, "programming", CourseOutline{Title: "Advanced PYTHON"})
		require.NoError(t, err)
		byDesc, err := m.StoreCourseOutline(ctx, "scripting", CourseOutline{Description: "automation with python_3 and 100% fun"})
		require.NoError(t, err)

		results, err := m.SearchCoursesByTopic(ctx, "python")
		require.NoError(t, err)
		ids := make([]int64, 0, len(results))
		for _, r := range results {
			ids = append(ids, r.ID)
		}
		assert.Equal(t, []int64{byDesc, byTitle, oldest}, ids)

		literal, err := m.SearchCoursesByTopic(ctx, "100%")
		require.NoError(t, err)
		require.Len(t, literal, 1)
		assert.Equal(t, byDesc, literal[0].ID)

		underscore, err := m.SearchCoursesByTopic(ctx, "n_3")
		require.NoError(t, err)
		require.Len(t, underscore, 1)

		all, err := m.SearchCoursesByTopic(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 4)

		capped, err := m.SearchRelatedContent(ctx, "python", 2)
		require.NoError(t, err)
		assert.Len(t, capped, 2)

		latest, found, err := m.GetCourseByTopic(ctx, "python")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, byDesc, latest.ID)

		doctors, err := m.StoreCourseOutline(ctx, "Ärzte Grundlagen", CourseOutline{Title: "ÜBUNGEN"})
		require.NoError(t, err)
		for _, q := range []string{"ärzte", "ÄRZTE", "übungen"} {
			hits, err := m.SearchCoursesByTopic(ctx, q)
			require.NoError(t, err)
			require.Len(t, hits, 1, q)
			assert.Equal(t, doctors, hits[0].ID, q)
		}
	})
}

func TestCatalog_CourseStructure(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		id, err := m.StoreCourseOutline(ctx, "math", sampleOutline())
		require.NoError(t, err)
		_, err = m.StoreSectionContent(ctx, id, "s1", "Addition", IntroductionContent("Let's add."))
		require.NoError(t, err)

		structure, found, err := m.GetCourseStructure(ctx, id)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, 2, structure.TotalSections)
		assert.Equal(t, 1, structure.SectionsWithContent)
		require.Len(t, structure.Sections, 2)
		assert.True(t, structure.Sections[0].HasContent)
		assert.NotNil(t, structure.Sections[0].ContentCreatedAt)
		assert.False(t, structure.Sections[1].HasContent)
		assert.Nil(t, structure.Sections[1].ContentCreatedAt)

		sections, found, err := m.GetCourseSections(ctx, id)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []string{"s1", "s2"}, []string{sections[0].ID, sections[1].ID})
	})
}

func TestExtractKeywords(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Introduction to Python Programming", []string{"introduction", "programming", "python"}},
		{"The art of war, the art of peace", []string{"art", "peace", "war"}},
		{"a b c", []string{}},
		{"机器学习 的 基础", []string{"基础", "机器学习"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExtractKeywords(tc.in), tc.in)
	}
}

func TestDecodeCourseOutline_LegacyTitle(t *testing.T) {
	legacy, err := DecodeCourseOutline([]byte(`{"course_title":"Legacy","sections":[{"id":"s1","title":"One"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "Legacy", legacy.Title)
	require.Len(t, legacy.Sections, 1)

	current, err := DecodeCourseOutline([]byte(`{"title":"Current","course_title":"Ignored"}`))
	require.NoError(t, err)
	assert.Equal(t, "Current", current.Title)

	_, err = DecodeCourseOutline([]byte(`{`))
	assert.True(t, IsSerialization(err))
}
