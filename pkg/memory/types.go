package memory

import "time"

// SectionRef is one entry of a course outline's ordered section list.
type SectionRef struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Objectives  []string     `json:"objectives,omitempty"`
	KeyPoints   []string     `json:"key_points,omitempty"`
	Subsections []SectionRef `json:"subsections,omitempty"`
}

// CourseOutline is a planned course. Revisions are stored as new rows.
type CourseOutline struct {
	ID                 int64             `json:"id"`
	Topic              string            `json:"topic"`
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	LearningObjectives []string          `json:"learning_objectives"`
	Sections           []SectionRef      `json:"sections"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// CourseSummary is the search projection of a CourseOutline.
type CourseSummary struct {
	ID          int64     `json:"id"`
	Topic       string    `json:"topic"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// SectionContent is one stored version of a section's teaching material.
// CourseID is a weak reference; the course may not exist.
type SectionContent struct {
	ID        int64          `json:"id"`
	CourseID  int64          `json:"course_id"`
	SectionID string         `json:"section_id"`
	Title     string         `json:"title"`
	Content   ContentPayload `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
}

// SectionStatus reports whether an outline section has stored content.
type SectionStatus struct {
	SectionRef
	HasContent       bool       `json:"has_content"`
	ContentCreatedAt *time.Time `json:"content_created_at,omitempty"`
}

// CourseStructure is an outline joined with content availability.
type CourseStructure struct {
	Course              CourseOutline   `json:"course"`
	Sections            []SectionStatus `json:"sections"`
	TotalSections       int             `json:"total_sections"`
	SectionsWithContent int             `json:"sections_with_content"`
}

// ProgressData is the canonical per-interaction progress payload.
type ProgressData struct {
	ComprehensionScore float64           `json:"comprehension_score"`
	Topic              string            `json:"topic,omitempty"`
	LastMessage        string            `json:"last_message,omitempty"`
	LastResponse       string            `json:"last_response,omitempty"`
	Notes              map[string]string `json:"notes,omitempty"`
}

// ProgressKey identifies a LearningProgress row.
type ProgressKey struct {
	ClientID  string
	CourseID  int64
	SectionID string
}

// LearningProgress is unique per (client, course, section).
type LearningProgress struct {
	ID                 int64        `json:"id"`
	ClientID           string       `json:"client_id"`
	CourseID           int64        `json:"course_id"`
	SectionID          string       `json:"section_id"`
	Data               ProgressData `json:"progress_data"`
	ComprehensionScore float64      `json:"comprehension_score"`
	InteractionCount   int          `json:"interaction_count"`
	LastActivity       time.Time    `json:"last_activity"`
	CreatedAt          time.Time    `json:"created_at"`
}

func (p LearningProgress) Key() ProgressKey {
	return ProgressKey{ClientID: p.ClientID, CourseID: p.CourseID, SectionID: p.SectionID}
}

// InteractionType classifies a teaching exchange.
type InteractionType string

const (
	InteractionQuestionAnswer InteractionType = "question_answer"
	InteractionExplanation    InteractionType = "explanation"
	InteractionPractice       InteractionType = "practice"
	InteractionAnswer         InteractionType = "answer"
)

func (t InteractionType) Valid() bool {
	switch t {
	case InteractionQuestionAnswer, InteractionExplanation, InteractionPractice, InteractionAnswer:
		return true
	}
	return false
}

// TeachingInteraction is an append-only teaching log record.
type TeachingInteraction struct {
	ID             int64           `json:"id"`
	ClientID       string          `json:"client_id"`
	SessionID      string          `json:"session_id"`
	Topic          string          `json:"topic"`
	Type           InteractionType `json:"interaction_type"`
	Content        string          `json:"content"`
	Response       string          `json:"response"`
	TopicRelevance float64         `json:"topic_relevance"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TopicSegment is one stretch of time a (client, session) spent on a topic.
// The open segment has Closed == false and no duration yet.
type TopicSegment struct {
	ID                int64         `json:"id"`
	ClientID          string        `json:"client_id"`
	SessionID         string        `json:"session_id"`
	Topic             string        `json:"current_topic"`
	StartedAt         time.Time     `json:"topic_start_time"`
	Duration          time.Duration `json:"topic_duration"`
	Closed            bool          `json:"closed"`
	DeviationCount    int           `json:"deviation_count"`
	TotalInteractions int           `json:"total_interactions"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// HistoryQuery filters the interaction log. SessionID is matched exactly,
// the empty session included, unless AllSessions is set.
type HistoryQuery struct {
	ClientID    string
	SessionID   string
	AllSessions bool
	Limit       int
}

// MemorySummary aggregates a client's learning state.
type MemorySummary struct {
	CourseCount       int      `json:"course_count"`
	SectionCount      int      `json:"section_count"`
	AverageScore      float64  `json:"average_score"`
	TotalInteractions int      `json:"total_interactions"`
	RecentTopics      []string `json:"recent_topics"`
}

// ReviewSuggestion is a weakly understood section worth revisiting.
type ReviewSuggestion struct {
	CourseID           int64     `json:"course_id"`
	SectionID          string    `json:"section_id"`
	Title              string    `json:"title"`
	ComprehensionScore float64   `json:"comprehension_score"`
	LastActivity       time.Time `json:"last_activity"`
}
