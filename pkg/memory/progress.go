package memory

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode"
)

// UpdateLearningProgress upserts the (client, course, section) row. The first
// call inserts it with an interaction count of 1; later calls bump the count
// and overwrite the payload and score with the latest estimate.
func (m *Manager) UpdateLearningProgress(ctx context.Context, clientID string, courseID int64, sectionID string, data ProgressData) (err error) {
	started := time.Now()
	defer func() { m.observe("update_learning_progress", started, err, true) }()

	clientID = strings.TrimSpace(clientID)
	sectionID = strings.TrimSpace(sectionID)
	if clientID == "" {
		return invalid("client_id", "must not be empty")
	}
	if sectionID == "" {
		return invalid("section_id", "must not be empty")
	}
	if math.IsNaN(data.ComprehensionScore) || math.IsInf(data.ComprehensionScore, 0) {
		return invalid("comprehension_score", "must be finite")
	}
	data.ComprehensionScore = clamp01(data.ComprehensionScore)

	key := ProgressKey{ClientID: clientID, CourseID: courseID, SectionID: sectionID}
	now := m.now()
	return m.store.Update(ctx, func(tx Tx) error {
		existing, err := tx.GetProgress(ctx, key)
		switch {
		case err == nil:
			existing.Data = data
			existing.ComprehensionScore = data.ComprehensionScore
			existing.InteractionCount++
			existing.LastActivity = now
			return tx.UpdateProgress(ctx, existing)
		case errors.Is(err, ErrNotFound):
			_, err = tx.InsertProgress(ctx, LearningProgress{
				ClientID:           clientID,
				CourseID:           courseID,
				SectionID:          sectionID,
				Data:               data,
				ComprehensionScore: data.ComprehensionScore,
				InteractionCount:   1,
				LastActivity:       now,
				CreatedAt:          now,
			})
			return err
		default:
			return err
		}
	})
}

// GetLearningProgress lists a client's progress, most recently active first,
// optionally restricted to one course.
func (m *Manager) GetLearningProgress(ctx context.Context, clientID string, courseID *int64) (out []LearningProgress, err error) {
	started := time.Now()
	defer func() { m.observe("get_learning_progress", started, err, true) }()

	err = m.store.View(ctx, func(tx Tx) error {
		var txErr error
		out, txErr = tx.ListProgress(ctx, strings.TrimSpace(clientID), courseID)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// indicatorSet matches CJK entries and punctuation as substrings and English
// phrases as whole word sequences, so "misunderstand" is not "understand".
type indicatorSet struct {
	substrings []string
	phrases    [][]string
}

func newIndicatorSet(substrings []string, phrases ...string) indicatorSet {
	set := indicatorSet{substrings: substrings}
	for _, p := range phrases {
		set.phrases = append(set.phrases, strings.Fields(p))
	}
	return set
}

func (s indicatorSet) match(msg string, words []string) bool {
	for _, sub := range s.substrings {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	for _, phrase := range s.phrases {
		if containsPhrase(words, phrase) {
			return true
		}
	}
	return false
}

func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	for i := 0; i+len(phrase) <= len(words); i++ {
		matched := true
		for j, w := range phrase {
			if words[i+j] != w {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// messageWords lower-cases s and splits it into words, keeping apostrophes so
// "don't" stays one word.
func messageWords(s string) []string {
	s = strings.ReplaceAll(s, "’", "'")
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

var (
	confusionIndicators = newIndicatorSet(
		[]string{"不懂", "不明白", "不理解", "困惑", "不会"},
		"don't understand", "do not understand", "don't get", "confused", "confusing", "lost",
	)
	understandingIndicators = newIndicatorSet(
		[]string{"明白", "理解", "懂了", "清楚", "知道了"},
		"understand", "got it", "makes sense", "i see", "clear now",
	)
	questionIndicators = newIndicatorSet(
		[]string{"什么", "如何", "为什么", "怎么", "?", "？", "吗", "呢"},
		"what", "how", "why",
	)
)

// EstimateComprehension scores a learner message with a keyword heuristic:
// 0.3 for confusion, 0.9 for stated understanding, 0.6 for a question and
// 0.7 otherwise. Confusion wins over understanding so "I don't understand"
// scores low. The tutor response is not consulted yet.
func EstimateComprehension(message, response string) float64 {
	msg := strings.ToLower(message)
	words := messageWords(msg)
	switch {
	case confusionIndicators.match(msg, words):
		return 0.3
	case understandingIndicators.match(msg, words):
		return 0.9
	case questionIndicators.match(msg, words):
		return 0.6
	default:
		return 0.7
	}
}
