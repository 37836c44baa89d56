package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// GetMemorySummary aggregates the client's progress rows and recent topics.
func (m *Manager) GetMemorySummary(ctx context.Context, clientID string) (out MemorySummary, err error) {
	started := time.Now()
	defer func() { m.observe("get_memory_summary", started, err, true) }()

	clientID = strings.TrimSpace(clientID)
	var (
		progress []LearningProgress
		recent   []TeachingInteraction
	)
	err = m.store.View(ctx, func(tx Tx) error {
		var txErr error
		if progress, txErr = tx.ListProgress(ctx, clientID, nil); txErr != nil {
			return txErr
		}
		recent, txErr = tx.ListInteractions(ctx, HistoryQuery{ClientID: clientID, AllSessions: true, Limit: recentTopicsWindow})
		return txErr
	})
	if err != nil {
		return MemorySummary{}, err
	}

	courses := map[int64]struct{}{}
	sections := map[string]struct{}{}
	total := 0.0
	for _, p := range progress {
		courses[p.CourseID] = struct{}{}
		sections[p.SectionID] = struct{}{}
		total += p.ComprehensionScore
		out.TotalInteractions += p.InteractionCount
	}
	out.CourseCount = len(courses)
	out.SectionCount = len(sections)
	if len(progress) > 0 {
		out.AverageScore = total / float64(len(progress))
	}

	out.RecentTopics = []string{}
	seen := map[string]struct{}{}
	for _, it := range recent {
		if it.Topic == "" {
			continue
		}
		if _, dup := seen[it.Topic]; dup {
			continue
		}
		seen[it.Topic] = struct{}{}
		out.RecentTopics = append(out.RecentTopics, it.Topic)
	}
	return out, nil
}

// SuggestReviewContent returns up to three sections the client scored below
// 0.7 on, least recently practiced first. Sections without stored content are
// skipped.
func (m *Manager) SuggestReviewContent(ctx context.Context, clientID string) (out []ReviewSuggestion, err error) {
	started := time.Now()
	defer func() { m.observe("suggest_review_content", started, err, true) }()

	clientID = strings.TrimSpace(clientID)
	out = []ReviewSuggestion{}
	err = m.store.View(ctx, func(tx Tx) error {
		progress, txErr := tx.ListProgress(ctx, clientID, nil)
		if txErr != nil {
			return txErr
		}
		weak := make([]LearningProgress, 0, len(progress))
		for _, p := range progress {
			if p.ComprehensionScore < reviewScoreCeiling {
				weak = append(weak, p)
			}
		}
		sort.SliceStable(weak, func(i, j int) bool {
			if !weak[i].LastActivity.Equal(weak[j].LastActivity) {
				return weak[i].LastActivity.Before(weak[j].LastActivity)
			}
			return weak[i].ID < weak[j].ID
		})

		for _, p := range weak {
			if len(out) == reviewMaxItems {
				break
			}
			sc, scErr := tx.LatestSectionContent(ctx, p.SectionID)
			if errors.Is(scErr, ErrNotFound) {
				continue
			}
			if scErr != nil {
				return scErr
			}
			out = append(out, ReviewSuggestion{
				CourseID:           p.CourseID,
				SectionID:          p.SectionID,
				Title:              sc.Title,
				ComprehensionScore: p.ComprehensionScore,
				LastActivity:       p.LastActivity,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
