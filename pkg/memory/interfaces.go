package memory

import (
	"context"
	"time"
)

// Store is the persistence contract every component depends on. Update runs
// fn in a read-write transaction and View in a read-only one; both commit when
// fn returns nil and roll back on error or panic.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Backend() string
	Close() error
}

// Tx is raw table access inside one transaction. Lookups return ErrNotFound
// on a miss. Backends hold no teaching logic.
type Tx interface {
	InsertCourse(ctx context.Context, c CourseOutline) (int64, error)
	GetCourse(ctx context.Context, id int64) (CourseOutline, error)
	SearchCourses(ctx context.Context, keywords string) ([]CourseSummary, error)
	ListCourses(ctx context.Context) ([]CourseOutline, error)

	InsertSectionContent(ctx context.Context, sc SectionContent) (int64, error)
	LatestSectionContent(ctx context.Context, sectionID string) (SectionContent, error)
	ListSectionContents(ctx context.Context) ([]SectionContent, error)

	GetProgress(ctx context.Context, key ProgressKey) (LearningProgress, error)
	InsertProgress(ctx context.Context, p LearningProgress) (int64, error)
	UpdateProgress(ctx context.Context, p LearningProgress) error
	ListProgress(ctx context.Context, clientID string, courseID *int64) ([]LearningProgress, error)
	ListAllProgress(ctx context.Context) ([]LearningProgress, error)

	InsertInteraction(ctx context.Context, it TeachingInteraction) (int64, error)
	ListInteractions(ctx context.Context, q HistoryQuery) ([]TeachingInteraction, error)
	ListAllInteractions(ctx context.Context) ([]TeachingInteraction, error)

	OpenTopic(ctx context.Context, clientID, sessionID string) (TopicSegment, error)
	InsertTopic(ctx context.Context, seg TopicSegment) (int64, error)
	CloseTopic(ctx context.Context, id int64, duration time.Duration, at time.Time) error
	BumpTopicCounters(ctx context.Context, id int64, interactions, deviations int, at time.Time) error
	ListTopics(ctx context.Context, clientID, sessionID string, limit int) ([]TopicSegment, error)
	ListAllTopics(ctx context.Context) ([]TopicSegment, error)

	Counts(ctx context.Context) (TableCounts, error)
}

// TableCounts is the row count of every table.
type TableCounts struct {
	Courses         int `json:"course_outlines"`
	SectionContents int `json:"section_contents"`
	Progress        int `json:"learning_progress"`
	Interactions    int `json:"teaching_records"`
	Topics          int `json:"topic_tracking"`
}
