package memory

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCalculateTopicRelevance(t *testing.T) {
	cases := []struct {
		name    string
		topic   string
		message string
		want    float64
	}{
		{"no overlap floors at 0.1", "math addition", "I love painting", 0.1},
		{"empty topic fails open", "", "anything", 1.0},
		{"empty message fails open", "math", "", 1.0},
		{"whitespace topic fails open", "   ", "math", 1.0},
		{"full overlap", "Math Addition", "can we do more ADDITION math please", 1.0},
		{"half overlap", "math addition", "addition is fun", 0.5},
		{"punctuation is part of the token", "math", "math?", 0.1},
		{"duplicate topic words count once", "math math", "math", 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculateTopicRelevance(tc.topic, tc.message)
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			if got < 0.1 || got > 1.0 {
				t.Fatalf("relevance %v out of [0.1, 1]", got)
			}
		})
	}
}

func recordRelevance(t *testing.T, m *Manager, client, session string, relevance float64) {
	t.Helper()
	if _, err := m.RecordTeachingInteraction(context.Background(), TeachingInteraction{
		ClientID:       client,
		SessionID:      session,
		Topic:          "math",
		Type:           InteractionQuestionAnswer,
		Content:        "q",
		Response:       "a",
		TopicRelevance: relevance,
	}); err != nil {
		t.Fatalf("record interaction: %v", err)
	}
}

func TestDeviation_NeedsThreeSamples(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		recordRelevance(t, m, "u1", "s1", 0.1)
		recordRelevance(t, m, "u1", "s1", 0.1)
		deviated, err := m.CheckTopicDeviation(ctx, "u1", "s1", 0.3)
		if err != nil {
			t.Fatalf("check deviation: %v", err)
		}
		if deviated {
			t.Fatalf("two interactions must never count as a deviation")
		}
	})
}

func TestDeviation_Scenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		for _, r := range []float64{0.2, 0.25, 0.1} {
			recordRelevance(t, m, "u1", "s1", r)
		}
		// Other sessions do not leak into the window.
		recordRelevance(t, m, "u1", "s2", 1.0)

		deviated, err := m.CheckTopicDeviation(ctx, "u1", "s1", 0.3)
		if err != nil {
			t.Fatalf("check deviation: %v", err)
		}
		if !deviated {
			t.Fatalf("expected deviation for mean 0.183")
		}

		recordRelevance(t, m, "u1", "s1", 0.9)
		deviated, err = m.CheckTopicDeviation(ctx, "u1", "s1", 0.3)
		if err != nil {
			t.Fatalf("check deviation: %v", err)
		}
		if deviated {
			t.Fatalf("expected mean 0.3625 to clear the threshold")
		}

		// Five off-topic turns fill the whole window.
		for i := 0; i < 5; i++ {
			recordRelevance(t, m, "u1", "s1", 0.05)
		}
		deviated, err = m.CheckTopicDeviation(ctx, "u1", "s1", 0)
		if err != nil {
			t.Fatalf("check deviation: %v", err)
		}
		if !deviated {
			t.Fatalf("expected deviation with default threshold")
		}
	})
}

func TestDeviation_EmptySessionIsItsOwnSession(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			recordRelevance(t, m, "u1", "s1", 0.1)
		}
		if err := m.UpdateTopicTracking(ctx, "u1", "", "history"); err != nil {
			t.Fatalf("update topic: %v", err)
		}

		deviated, err := m.CheckTopicDeviation(ctx, "u1", "", 0.3)
		if err != nil {
			t.Fatalf("check deviation: %v", err)
		}
		if deviated {
			t.Fatalf("records of s1 must not count for the empty session")
		}
		seg, found, err := m.CurrentTopic(ctx, "u1", "")
		if err != nil || !found || seg.Topic != "history" {
			t.Fatalf("expected topic of the empty session, got %#v found=%v err=%v", seg, found, err)
		}

		for i := 0; i < 3; i++ {
			recordRelevance(t, m, "u1", "", 0.1)
		}
		if deviated, err = m.CheckTopicDeviation(ctx, "u1", "", 0.3); err != nil || !deviated {
			t.Fatalf("expected deviation from the empty session's own records, got %v err=%v", deviated, err)
		}
		if seg, _, _ = m.CurrentTopic(ctx, "u1", ""); seg.TotalInteractions != 3 {
			t.Fatalf("expected 3 interactions on the empty session's segment, got %d", seg.TotalInteractions)
		}

		all, err := m.GetTeachingHistory(ctx, "u1", "", 0)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(all) != 6 {
			t.Fatalf("history without a session spans every session, got %d records", len(all))
		}
	})
}

func TestInteractions_ValidationAndHistory(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		if _, err := m.RecordTeachingInteraction(ctx, TeachingInteraction{ClientID: "u1", Type: "chit_chat"}); !IsValidation(err) {
			t.Fatalf("expected validation error for unknown type, got %v", err)
		}
		if _, err := m.RecordTeachingInteraction(ctx, TeachingInteraction{Type: InteractionAnswer}); !IsValidation(err) {
			t.Fatalf("expected validation error for missing client, got %v", err)
		}

		for i, session := range []string{"s1", "s2", "s1"} {
			if _, err := m.RecordTeachingInteraction(ctx, TeachingInteraction{
				ClientID:       "u1",
				SessionID:      session,
				Topic:          "t",
				Type:           InteractionExplanation,
				Content:        string(rune('a' + i)),
				TopicRelevance: 1.7,
			}); err != nil {
				t.Fatalf("record %d: %v", i, err)
			}
		}

		all, err := m.GetTeachingHistory(ctx, "u1", "", 0)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(all) != 3 || all[0].Content != "c" || all[2].Content != "a" {
			t.Fatalf("expected newest first across sessions, got %#v", all)
		}
		if all[0].TopicRelevance != 1 {
			t.Fatalf("expected relevance clamped to 1, got %v", all[0].TopicRelevance)
		}

		s1, err := m.GetTeachingHistory(ctx, "u1", "s1", 1)
		if err != nil {
			t.Fatalf("history s1: %v", err)
		}
		if len(s1) != 1 || s1[0].Content != "c" {
			t.Fatalf("expected latest s1 record only, got %#v", s1)
		}
	})
}

func TestTopicTracking_StateMachine(t *testing.T) {
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		if _, found, err := m.CurrentTopic(ctx, "u1", "s1"); err != nil || found {
			t.Fatalf("expected no topic yet, found=%v err=%v", found, err)
		}

		if err := m.UpdateTopicTracking(ctx, "u1", "s1", "fractions"); err != nil {
			t.Fatalf("set first topic: %v", err)
		}
		first, found, err := m.CurrentTopic(ctx, "u1", "s1")
		if err != nil || !found || first.Topic != "fractions" || first.Closed {
			t.Fatalf("unexpected open segment %#v found=%v err=%v", first, found, err)
		}

		// Same topic keeps the segment.
		if err := m.UpdateTopicTracking(ctx, "u1", "s1", "fractions"); err != nil {
			t.Fatalf("repeat topic: %v", err)
		}
		same, _, _ := m.CurrentTopic(ctx, "u1", "s1")
		if same.ID != first.ID || !same.StartedAt.Equal(first.StartedAt) {
			t.Fatalf("expected segment %d kept, got %#v", first.ID, same)
		}

		recordRelevance(t, m, "u1", "s1", 0.1)
		recordRelevance(t, m, "u1", "s1", 0.9)

		if err := m.UpdateTopicTracking(ctx, "u1", "s1", "decimals"); err != nil {
			t.Fatalf("switch topic: %v", err)
		}
		if err := m.UpdateTopicTracking(ctx, "u1", "s1", "percentages"); err != nil {
			t.Fatalf("switch topic again: %v", err)
		}

		history, err := m.TopicHistory(ctx, "u1", "s1", 0)
		if err != nil {
			t.Fatalf("topic history: %v", err)
		}
		if len(history) != 3 {
			t.Fatalf("expected 3 segments, got %d", len(history))
		}
		open := 0
		for _, seg := range history {
			if !seg.Closed {
				open++
			}
			if seg.Duration < 0 {
				t.Fatalf("negative duration on %#v", seg)
			}
		}
		if open != 1 {
			t.Fatalf("expected exactly one open segment, got %d", open)
		}
		if history[0].Topic != "percentages" || history[0].Closed {
			t.Fatalf("expected newest segment open, got %#v", history[0])
		}
		closed := history[2]
		if closed.Topic != "fractions" || !closed.Closed {
			t.Fatalf("expected fractions closed, got %#v", closed)
		}
		// Clock steps one second per read: set, repeat, two records, switch.
		if closed.Duration != 4*time.Second {
			t.Fatalf("expected 4s on fractions, got %v", closed.Duration)
		}
		if closed.TotalInteractions != 2 || closed.DeviationCount != 1 {
			t.Fatalf("expected 2 interactions and 1 deviation, got %#v", closed)
		}

		// Sessions are independent.
		if _, found, _ := m.CurrentTopic(ctx, "u1", "other"); found {
			t.Fatalf("topic leaked across sessions")
		}
		if err := m.UpdateTopicTracking(ctx, "u1", "s1", " "); !IsValidation(err) {
			t.Fatalf("expected validation error for empty topic, got %v", err)
		}
	})
}

func TestTopicTracking_ConcurrentSwitchesKeepOneOpenSegment(t *testing.T) {
	const workers = 24
	forEachBackend(t, func(t *testing.T, m *Manager) {
		ctx := context.Background()
		topics := []string{"fractions", "decimals", "percentages"}
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- m.UpdateTopicTracking(ctx, "u1", "s1", topics[i%len(topics)])
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("concurrent topic update: %v", err)
			}
		}

		segs, err := m.TopicHistory(ctx, "u1", "s1", workers+1)
		if err != nil {
			t.Fatalf("topic history: %v", err)
		}
		open := 0
		for _, seg := range segs {
			if !seg.Closed {
				open++
			}
			if seg.Duration < 0 {
				t.Fatalf("negative duration on segment %d", seg.ID)
			}
		}
		if open != 1 {
			t.Fatalf("expected exactly one open segment, got %d of %d", open, len(segs))
		}
		if _, found, err := m.CurrentTopic(ctx, "u1", "s1"); err != nil || !found {
			t.Fatalf("expected an open topic, found=%v err=%v", found, err)
		}
	})
}
