package services

import (
	"regexp"
	"strings"
)

var topicPattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)

const maxFollowUps = 6

// GenerateFollowUps proposes next questions by scanning the answer for
// capitalized topics the user has not already asked about, padded with two
// generic prompts when the scan comes up short.
func GenerateFollowUps(answer, message string) []string {
	followUps := make([]string, 0, maxFollowUps)
	lowerMessage := strings.ToLower(message)

	var topics []string
	seen := make(map[string]struct{})
	for _, topic := range topicPattern.FindAllString(answer, -1) {
		if _, dup := seen[topic]; dup {
			continue
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
		if len(topics) == 3 {
			break
		}
	}

	for _, topic := range topics {
		if len(topic) > 3 && !strings.Contains(lowerMessage, strings.ToLower(topic)) {
			followUps = append(followUps, "Tell me more about "+topic)
		}
	}

	if len(followUps) < 2 {
		followUps = append(followUps, "Can you explain this in more detail?")
	}
	if len(followUps) < 3 {
		followUps = append(followUps, "What are practical applications of this?")
	}

	if len(followUps) > maxFollowUps {
		followUps = followUps[:maxFollowUps]
	}
	return followUps
}
