package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotsetgreg/tutormem/pkg/logger"
	"github.com/dotsetgreg/tutormem/pkg/memory"
)

const (
	defaultTopic        = "general learning"
	defaultHistoryLimit = 5
	renderedHistory     = 2
	renderedSnippet     = 50
)

// BuilderConfig tunes the TurnContextBuilder. Zero values fall back to
// defaults.
type BuilderConfig struct {
	DefaultTopic    string
	DefaultCourseID int64
	HistoryLimit    int
}

// TurnContextBuilder assembles the teaching memory a tutor sees before a turn
// and records the turn afterwards.
type TurnContextBuilder struct {
	mem *memory.Manager
	cfg BuilderConfig
}

func NewTurnContextBuilder(mem *memory.Manager, cfg BuilderConfig) *TurnContextBuilder {
	if strings.TrimSpace(cfg.DefaultTopic) == "" {
		cfg.DefaultTopic = defaultTopic
	}
	if cfg.DefaultCourseID <= 0 {
		cfg.DefaultCourseID = 1
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &TurnContextBuilder{mem: mem, cfg: cfg}
}

func (b *TurnContextBuilder) Memory() *memory.Manager { return b.mem }

// TurnContext is what memory knows about one learner turn.
type TurnContext struct {
	ClientID       string                       `json:"client_id"`
	SessionID      string                       `json:"session_id"`
	Message        string                       `json:"message"`
	Topic          string                       `json:"topic"`
	TopicRelevance float64                      `json:"topic_relevance"`
	OffTopic       bool                         `json:"off_topic"`
	History        []memory.TeachingInteraction `json:"history"`
	Summary        memory.MemorySummary         `json:"summary"`
	// Degraded is set when memory failed and the turn proceeds without it.
	Degraded bool `json:"degraded"`

	defaultTopic string
}

// Prepare gathers topic, relevance, deviation, recent history and the
// learner summary. It never fails: on any memory error the turn gets an
// empty context and the error is logged.
func (b *TurnContextBuilder) Prepare(ctx context.Context, clientID, sessionID, message string) TurnContext {
	tc := TurnContext{
		ClientID:       strings.TrimSpace(clientID),
		SessionID:      ResolveSessionID(sessionID),
		Message:        message,
		Topic:          b.cfg.DefaultTopic,
		TopicRelevance: 1.0,
		History:        []memory.TeachingInteraction{},
		Summary:        memory.MemorySummary{RecentTopics: []string{}},
		defaultTopic:   b.cfg.DefaultTopic,
	}
	if err := b.fill(ctx, &tc); err != nil {
		logger.WarnCF("agent", "Proceeding without teaching memory", map[string]interface{}{
			"client_id":  tc.ClientID,
			"session_id": tc.SessionID,
			"error":      err.Error(),
		})
		return TurnContext{
			ClientID:       tc.ClientID,
			SessionID:      tc.SessionID,
			Message:        message,
			Topic:          b.cfg.DefaultTopic,
			TopicRelevance: 1.0,
			History:        []memory.TeachingInteraction{},
			Summary:        memory.MemorySummary{RecentTopics: []string{}},
			Degraded:       true,
			defaultTopic:   b.cfg.DefaultTopic,
		}
	}
	return tc
}

func (b *TurnContextBuilder) fill(ctx context.Context, tc *TurnContext) error {
	if tc.ClientID == "" {
		return fmt.Errorf("missing client id")
	}
	seg, found, err := b.mem.CurrentTopic(ctx, tc.ClientID, tc.SessionID)
	if err != nil {
		return fmt.Errorf("current topic: %w", err)
	}
	if found {
		tc.Topic = seg.Topic
	} else {
		if err := b.mem.UpdateTopicTracking(ctx, tc.ClientID, tc.SessionID, tc.Topic); err != nil {
			return fmt.Errorf("set default topic: %w", err)
		}
		logger.InfoCF("agent", "Set default topic", map[string]interface{}{
			"client_id": tc.ClientID,
			"topic":     tc.Topic,
		})
	}

	tc.TopicRelevance = memory.CalculateTopicRelevance(tc.Topic, tc.Message)
	if tc.OffTopic, err = b.mem.CheckTopicDeviation(ctx, tc.ClientID, tc.SessionID, 0); err != nil {
		return fmt.Errorf("check deviation: %w", err)
	}
	if tc.History, err = b.mem.GetTeachingHistory(ctx, tc.ClientID, tc.SessionID, b.cfg.HistoryLimit); err != nil {
		return fmt.Errorf("teaching history: %w", err)
	}
	if tc.Summary, err = b.mem.GetMemorySummary(ctx, tc.ClientID); err != nil {
		return fmt.Errorf("memory summary: %w", err)
	}
	return nil
}

// ContextBlock renders the memory facts as prompt text. It is empty when
// there is nothing worth telling the tutor.
func (tc TurnContext) ContextBlock() string {
	parts := []string{}
	if tc.Topic != "" && tc.Topic != tc.defaultTopic {
		parts = append(parts, "Current topic: "+tc.Topic)
	}
	if tc.OffTopic {
		parts = append(parts, "Note: the learner may be drifting away from the current topic; steer them back when appropriate.")
	}
	if tc.Summary.TotalInteractions > 0 {
		parts = append(parts, fmt.Sprintf("Learner stats: %d course(s), average comprehension %.1f, %d interaction(s) in total",
			tc.Summary.CourseCount, tc.Summary.AverageScore, tc.Summary.TotalInteractions))
	}
	if len(tc.History) > 0 {
		n := len(tc.History)
		if n > renderedHistory {
			n = renderedHistory
		}
		lines := make([]string, 0, n)
		for _, it := range tc.History[:n] {
			lines = append(lines, fmt.Sprintf("- %s: %s", it.Type, snippet(it.Content, renderedSnippet)))
		}
		parts = append(parts, "Recent interactions:\n"+strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n")
}

// Render wraps the learner message with the context block for the tutor
// prompt. Without context the message is returned unchanged.
func (tc TurnContext) Render() string {
	block := tc.ContextBlock()
	if block == "" {
		return tc.Message
	}
	return "[Teaching context]\n" + block + "\n\n[Learner message]\n" + tc.Message
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// Complete records the finished turn: the question/answer interaction and a
// progress update for the current topic scored by EstimateComprehension.
// Degraded turns are not recorded.
func (b *TurnContextBuilder) Complete(ctx context.Context, tc TurnContext, response string) error {
	if tc.Degraded {
		return nil
	}
	if _, err := b.mem.RecordTeachingInteraction(ctx, memory.TeachingInteraction{
		ClientID:       tc.ClientID,
		SessionID:      tc.SessionID,
		Topic:          tc.Topic,
		Type:           memory.InteractionQuestionAnswer,
		Content:        tc.Message,
		Response:       response,
		TopicRelevance: tc.TopicRelevance,
	}); err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}

	score := memory.EstimateComprehension(tc.Message, response)
	if err := b.mem.UpdateLearningProgress(ctx, tc.ClientID, b.cfg.DefaultCourseID, tc.Topic, memory.ProgressData{
		ComprehensionScore: score,
		Topic:              tc.Topic,
		LastMessage:        tc.Message,
		LastResponse:       response,
	}); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	logger.DebugCF("agent", "Turn recorded", map[string]interface{}{
		"client_id":     tc.ClientID,
		"session_id":    tc.SessionID,
		"topic":         tc.Topic,
		"relevance":     tc.TopicRelevance,
		"comprehension": score,
	})
	return nil
}

// SetTopic switches the session to topic.
func (b *TurnContextBuilder) SetTopic(ctx context.Context, clientID, sessionID, topic string) error {
	return b.mem.UpdateTopicTracking(ctx, clientID, sessionID, topic)
}

// StoreCourseMaterial stores a planned course and seeds every section with an
// introduction built from its outline entry. It returns the course id.
func (b *TurnContextBuilder) StoreCourseMaterial(ctx context.Context, topic string, outline memory.CourseOutline) (int64, error) {
	courseID, err := b.mem.StoreCourseOutline(ctx, topic, outline)
	if err != nil {
		return 0, err
	}
	for _, section := range outline.Sections {
		if strings.TrimSpace(section.Title) == "" {
			continue
		}
		if _, err := b.mem.StoreSectionContent(ctx, courseID, section.ID, section.Title, SectionMaterial(section)); err != nil {
			return courseID, fmt.Errorf("store section %s: %w", section.ID, err)
		}
	}
	logger.InfoCF("agent", "Course material stored", map[string]interface{}{
		"course_id": courseID,
		"topic":     topic,
		"sections":  len(outline.Sections),
	})
	return courseID, nil
}

// SectionMaterial derives starter content from an outline section: an
// introduction plus one concept block per key point.
func SectionMaterial(section memory.SectionRef) memory.ContentPayload {
	intro := strings.TrimSpace(section.Description)
	if intro == "" {
		intro = section.Title
	}
	payload := memory.IntroductionContent(intro)
	payload.Summary = section.Title
	for _, point := range section.KeyPoints {
		if strings.TrimSpace(point) == "" {
			continue
		}
		payload.Blocks = append(payload.Blocks, memory.ContentBlock{
			Kind:    memory.KindConcept,
			Concept: &memory.ConceptBlock{Name: point},
		})
	}
	if len(section.Objectives) > 0 {
		payload.Blocks = append(payload.Blocks, memory.ContentBlock{
			Kind: memory.KindActivity,
			Activity: &memory.ActivityBlock{
				Instructions: "Work towards these objectives",
				Steps:        append([]string(nil), section.Objectives...),
			},
		})
	}
	return payload
}
