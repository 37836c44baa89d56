package memory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dotsetgreg/tutormem/pkg/logger"
)

const defaultTopicHistoryLimit = 10

// UpdateTopicTracking moves the (client, session) pair to topic. A different
// topic closes the open segment with its elapsed time and opens a new one;
// the same topic keeps the open segment running.
func (m *Manager) UpdateTopicTracking(ctx context.Context, clientID, sessionID, topic string) (err error) {
	started := time.Now()
	defer func() { m.observe("update_topic_tracking", started, err, true) }()

	clientID = strings.TrimSpace(clientID)
	sessionID = strings.TrimSpace(sessionID)
	topic = strings.TrimSpace(topic)
	if clientID == "" {
		return invalid("client_id", "must not be empty")
	}
	if topic == "" {
		return invalid("topic", "must not be empty")
	}

	now := m.now()
	var switched bool
	var closed TopicSegment
	err = m.store.Update(ctx, func(tx Tx) error {
		open, txErr := tx.OpenTopic(ctx, clientID, sessionID)
		switch {
		case txErr == nil:
			if open.Topic == topic {
				return nil
			}
			elapsed := now.Sub(open.StartedAt)
			if elapsed < 0 {
				elapsed = 0
			}
			if txErr := tx.CloseTopic(ctx, open.ID, elapsed, now); txErr != nil {
				return txErr
			}
			switched = true
			closed = open
			closed.Duration = elapsed
		case !errors.Is(txErr, ErrNotFound):
			return txErr
		}
		_, txErr = tx.InsertTopic(ctx, TopicSegment{
			ClientID:  clientID,
			SessionID: sessionID,
			Topic:     topic,
			StartedAt: now,
			CreatedAt: now,
			UpdatedAt: now,
		})
		return txErr
	})
	if err != nil {
		return err
	}
	if switched {
		m.metrics.TopicSwitch()
		logger.InfoCF("memory", "Topic changed", map[string]interface{}{
			"client_id":    clientID,
			"session_id":   sessionID,
			"from":         closed.Topic,
			"to":           topic,
			"duration_s":   closed.Duration.Seconds(),
			"interactions": closed.TotalInteractions,
			"deviations":   closed.DeviationCount,
		})
	}
	return nil
}

// CurrentTopic returns the open segment of the (client, session) pair.
func (m *Manager) CurrentTopic(ctx context.Context, clientID, sessionID string) (out TopicSegment, found bool, err error) {
	started := time.Now()
	defer func() { m.observe("current_topic", started, err, found) }()

	err = m.store.View(ctx, func(tx Tx) error {
		var txErr error
		out, txErr = tx.OpenTopic(ctx, strings.TrimSpace(clientID), strings.TrimSpace(sessionID))
		return txErr
	})
	miss, err := notFound(err)
	if err != nil || miss {
		return TopicSegment{}, false, err
	}
	return out, true, nil
}

// TopicHistory lists segments of the pair, newest first.
func (m *Manager) TopicHistory(ctx context.Context, clientID, sessionID string, limit int) (out []TopicSegment, err error) {
	started := time.Now()
	defer func() { m.observe("topic_history", started, err, true) }()

	if limit <= 0 {
		limit = defaultTopicHistoryLimit
	}
	err = m.store.View(ctx, func(tx Tx) error {
		var txErr error
		out, txErr = tx.ListTopics(ctx, strings.TrimSpace(clientID), strings.TrimSpace(sessionID), limit)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CheckTopicDeviation reports whether the mean relevance of the last five
// interactions of the pair is below threshold. The session is matched
// exactly; an empty session id is a session of its own, as in
// UpdateTopicTracking. Fewer than three interactions
// never count as a deviation. A threshold <= 0 uses the configured default.
func (m *Manager) CheckTopicDeviation(ctx context.Context, clientID, sessionID string, threshold float64) (deviated bool, err error) {
	started := time.Now()
	defer func() { m.observe("check_topic_deviation", started, err, true) }()

	if threshold <= 0 {
		threshold = m.cfg.DeviationThreshold
	}
	var recent []TeachingInteraction
	err = m.store.View(ctx, func(tx Tx) error {
		var txErr error
		recent, txErr = tx.ListInteractions(ctx, HistoryQuery{
			ClientID:  strings.TrimSpace(clientID),
			SessionID: strings.TrimSpace(sessionID),
			Limit:     deviationWindow,
		})
		return txErr
	})
	if err != nil {
		return false, err
	}
	if len(recent) < deviationMinSamples {
		return false, nil
	}

	sum := 0.0
	for _, it := range recent {
		sum += it.TopicRelevance
	}
	mean := sum / float64(len(recent))
	deviated = mean < threshold
	if deviated {
		m.metrics.Deviation()
		logger.DebugCF("memory", "Topic deviation detected", map[string]interface{}{
			"client_id":      clientID,
			"session_id":     sessionID,
			"mean_relevance": mean,
			"threshold":      threshold,
		})
	}
	return deviated, nil
}
