package memory

import "strings"

const relevanceFloor = 0.1

// CalculateTopicRelevance is the share of the topic's words that appear in
// message, floored at 0.1. Both strings are lower-cased and split on
// whitespace. It is a lexical overlap score, not semantic similarity: a
// message sharing no word with the topic scores exactly 0.1. Missing input
// scores 1.0 so an unknown topic never flags a deviation.
func CalculateTopicRelevance(topic, message string) float64 {
	if strings.TrimSpace(topic) == "" || strings.TrimSpace(message) == "" {
		return 1.0
	}
	topicTokens := tokenSet(topic)
	if len(topicTokens) == 0 {
		return 1.0
	}
	messageTokens := tokenSet(message)

	overlap := 0
	for tok := range topicTokens {
		if _, ok := messageTokens[tok]; ok {
			overlap++
		}
	}
	relevance := float64(overlap) / float64(len(topicTokens))
	if relevance < relevanceFloor {
		return relevanceFloor
	}
	return relevance
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}
