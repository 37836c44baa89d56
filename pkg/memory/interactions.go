package memory

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// RecordTeachingInteraction appends it to the log. The open topic segment of
// the session, if any, counts the interaction and, when its relevance is under
// the deviation threshold, a deviation.
func (m *Manager) RecordTeachingInteraction(ctx context.Context, it TeachingInteraction) (id int64, err error) {
	started := time.Now()
	defer func() { m.observe("record_teaching_interaction", started, err, true) }()

	it.ClientID = strings.TrimSpace(it.ClientID)
	it.SessionID = strings.TrimSpace(it.SessionID)
	if it.ClientID == "" {
		return 0, invalid("client_id", "must not be empty")
	}
	if !it.Type.Valid() {
		return 0, invalid("interaction_type", "unknown type %q", it.Type)
	}
	if math.IsNaN(it.TopicRelevance) || math.IsInf(it.TopicRelevance, 0) {
		return 0, invalid("topic_relevance", "must be finite")
	}
	it.TopicRelevance = clamp01(it.TopicRelevance)
	it.CreatedAt = m.now()

	err = m.store.Update(ctx, func(tx Tx) error {
		var txErr error
		id, txErr = tx.InsertInteraction(ctx, it)
		if txErr != nil {
			return txErr
		}
		seg, txErr := tx.OpenTopic(ctx, it.ClientID, it.SessionID)
		if errors.Is(txErr, ErrNotFound) {
			return nil
		}
		if txErr != nil {
			return txErr
		}
		deviations := 0
		if it.TopicRelevance < m.cfg.DeviationThreshold {
			deviations = 1
		}
		return tx.BumpTopicCounters(ctx, seg.ID, 1, deviations, it.CreatedAt)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetTeachingHistory returns up to limit records, newest first. An empty
// sessionID spans every session of the client.
func (m *Manager) GetTeachingHistory(ctx context.Context, clientID, sessionID string, limit int) (out []TeachingInteraction, err error) {
	started := time.Now()
	defer func() { m.observe("get_teaching_history", started, err, true) }()

	if limit <= 0 {
		limit = m.cfg.HistoryLimit
	}
	q := HistoryQuery{
		ClientID:  strings.TrimSpace(clientID),
		SessionID: strings.TrimSpace(sessionID),
		Limit:     limit,
	}
	q.AllSessions = q.SessionID == ""
	err = m.store.View(ctx, func(tx Tx) error {
		var txErr error
		out, txErr = tx.ListInteractions(ctx, q)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
