package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dotsetgreg/tutormem/pkg/logger"
)

// MetaTopicKeywords is the outline metadata key holding keywords extracted
// from the course topic.
const MetaTopicKeywords = "topic_keywords"

// StoreCourseOutline inserts outline under topic and returns the new id.
// Existing courses are never overwritten; a revision is a new row.
func (m *Manager) StoreCourseOutline(ctx context.Context, topic string, outline CourseOutline) (id int64, err error) {
	started := time.Now()
	defer func() { m.observe("store_course_outline", started, err, true) }()

	topic = strings.TrimSpace(topic)
	if topic == "" {
		return 0, invalid("topic", "must not be empty")
	}
	if err := validateSections("sections", outline.Sections); err != nil {
		return 0, err
	}

	outline.Topic = topic
	outline.CreatedAt = m.now()
	meta := make(map[string]string, len(outline.Metadata)+1)
	for k, v := range outline.Metadata {
		meta[k] = v
	}
	if _, ok := meta[MetaTopicKeywords]; !ok {
		meta[MetaTopicKeywords] = strings.Join(ExtractKeywords(topic), ",")
	}
	outline.Metadata = meta

	err = m.store.Update(ctx, func(tx Tx) error {
		var txErr error
		id, txErr = tx.InsertCourse(ctx, outline)
		return txErr
	})
	if err != nil {
		return 0, err
	}
	logger.InfoCF("memory", "Stored course outline", map[string]interface{}{
		"course_id": id,
		"topic":     topic,
		"sections":  len(outline.Sections),
	})
	return id, nil
}

func validateSections(field string, sections []SectionRef) error {
	for i, s := range sections {
		if strings.TrimSpace(s.ID) == "" {
			return invalid(field, "section %d has no id", i)
		}
		if err := validateSections(field+"."+s.ID, s.Subsections); err != nil {
			return err
		}
	}
	return nil
}

// GetCourseOutline returns the outline with id. A miss is (zero, false, nil).
func (m *Manager) GetCourseOutline(ctx context.Context, id int64) (out CourseOutline, found bool, err error) {
	started := time.Now()
	defer func() { m.observe("get_course_outline", started, err, found) }()

	err = m.store.View(ctx, func(tx Tx) error {
		var txErr error
		out, txErr = tx.GetCourse(ctx, id)
		return txErr
	})
	miss, err := notFound(err)
	if err != nil || miss {
		return CourseOutline{}, false, err
	}
	return out, true, nil
}

// SearchCoursesByTopic matches keywords case-insensitively as a substring of
// topic, title or description. Newest first. Empty keywords list every course.
func (m *Manager) SearchCoursesByTopic(ctx context.Context, keywords string) (out []CourseSummary, err error) {
	started := time.Now()
	defer func() { m.observe("search_courses", started, err, true) }()

	keywords = strings.TrimSpace(keywords)
	err = m.store.View(ctx, func(tx Tx) error {
		var txErr error
		out, txErr = tx.SearchCourses(ctx, keywords)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetCourseByTopic returns the newest course matching topic.
func (m *Manager) GetCourseByTopic(ctx context.Context, topic string) (out CourseOutline, found bool, err error) {
	started := time.Now()
	defer func() { m.observe("get_course_by_topic", started, err, found) }()

	topic = strings.TrimSpace(topic)
	if topic == "" {
		return CourseOutline{}, false, invalid("topic", "must not be empty")
	}
	err = m.store.View(ctx, func(tx Tx) error {
		matches, txErr := tx.SearchCourses(ctx, topic)
		if txErr != nil {
			return txErr
		}
		if len(matches) == 0 {
			return ErrNotFound
		}
		out, txErr = tx.GetCourse(ctx, matches[0].ID)
		return txErr
	})
	miss, err := notFound(err)
	if err != nil || miss {
		return CourseOutline{}, false, err
	}
	return out, true, nil
}

// GetCourseSections returns the outline's top-level sections in order.
func (m *Manager) GetCourseSections(ctx context.Context, courseID int64) ([]SectionRef, bool, error) {
	outline, found, err := m.GetCourseOutline(ctx, courseID)
	if err != nil || !found {
		return nil, found, err
	}
	if outline.Sections == nil {
		return []SectionRef{}, true, nil
	}
	return outline.Sections, true, nil
}

// GetCourseStructure joins a course's sections with their latest content.
func (m *Manager) GetCourseStructure(ctx context.Context, courseID int64) (out CourseStructure, found bool, err error) {
	started := time.Now()
	defer func() { m.observe("get_course_structure", started, err, found) }()

	err = m.store.View(ctx, func(tx Tx) error {
		course, txErr := tx.GetCourse(ctx, courseID)
		if txErr != nil {
			return txErr
		}
		out = CourseStructure{Course: course, Sections: make([]SectionStatus, 0, len(course.Sections))}
		for _, ref := range course.Sections {
			status := SectionStatus{SectionRef: ref}
			sc, scErr := tx.LatestSectionContent(ctx, ref.ID)
			switch {
			case scErr == nil:
				created := sc.CreatedAt
				status.HasContent = true
				status.ContentCreatedAt = &created
				out.SectionsWithContent++
			case IsSerialization(scErr):
				logger.WarnCF("memory", "Skipping unreadable section content", map[string]interface{}{
					"section_id": ref.ID,
					"error":      scErr.Error(),
				})
			case !errors.Is(scErr, ErrNotFound):
				return scErr
			}
			out.Sections = append(out.Sections, status)
		}
		out.TotalSections = len(course.Sections)
		return nil
	})
	miss, err := notFound(err)
	if err != nil || miss {
		return CourseStructure{}, false, err
	}
	return out, true, nil
}

// SearchRelatedContent is SearchCoursesByTopic capped at limit results.
func (m *Manager) SearchRelatedContent(ctx context.Context, keywords string, limit int) ([]CourseSummary, error) {
	if limit <= 0 {
		limit = 5
	}
	out, err := m.SearchCoursesByTopic(ctx, keywords)
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var keywordStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "how": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {},
	"or": {}, "the": {}, "to": {}, "with": {},
	"的": {}, "了": {}, "在": {}, "是": {}, "我": {}, "有": {}, "和": {}, "就": {},
	"不": {}, "人": {}, "都": {}, "一": {}, "个": {},
}

// ExtractKeywords lower-cases text, splits on anything that is not a letter or
// digit and drops stop words and single-rune tokens. The result is sorted and
// unique.
func ExtractKeywords(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	seen := map[string]struct{}{}
	out := []string{}
	for _, w := range words {
		if utf8.RuneCountInString(w) < 2 {
			continue
		}
		if _, stop := keywordStopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// DecodeCourseOutline parses an outline document as produced by course
// planners. Older documents carry the title as "course_title"; it is used
// when "title" is absent.
func DecodeCourseOutline(raw []byte) (CourseOutline, error) {
	var doc struct {
		CourseOutline
		CourseTitle string `json:"course_title"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return CourseOutline{}, &SerializationError{Entity: "course outline", Err: err}
	}
	out := doc.CourseOutline
	if strings.TrimSpace(out.Title) == "" {
		out.Title = doc.CourseTitle
	}
	return out, nil
}
