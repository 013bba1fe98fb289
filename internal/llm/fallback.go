package llm

import (
	"math/rand"
	"strings"

	"github.com/BeskiJoseph/interview/internal/interview"
)

// exhaustedPoolQuestion is returned once every template in the matched pool
// has already been asked this session.
const exhaustedPoolQuestion = "Let's keep going - tell me more about a project you are proud of and the part you played in it."

// fallbackFeedback is the fixed evaluation used when the remote endpoint
// cannot be reached or its reply cannot be parsed.
func fallbackFeedback() interview.Feedback {
	return interview.Feedback{
		Strengths:    []string{"You completed the interview session."},
		Improvements: []string{"We were unable to evaluate this session automatically. Review your recording and transcript manually."},
		OverallScore: 5,
	}
}

// zeroFeedback is the short-circuit result for a transcript with no answers.
func zeroFeedback() interview.Feedback {
	return interview.Feedback{
		Strengths:    []string{},
		Improvements: []string{"No answers were recorded during this interview. Try answering each question out loud."},
		OverallScore: 0,
	}
}

var fallbackPools = map[string][]string{
	"engineering": {
		"Walk me through a technically challenging project you worked on recently. What made it hard?",
		"How do you approach debugging an issue you have never seen before?",
		"Tell me about a time you had to make a trade-off between code quality and a deadline.",
		"How do you keep your technical skills current?",
		"Describe a situation where you disagreed with a teammate about a technical decision. How was it resolved?",
		"What does a good code review look like to you?",
	},
	"data": {
		"Tell me about a dataset that turned out to be messier than expected. How did you handle it?",
		"How do you decide which model or analysis technique fits a problem?",
		"Describe a time your analysis changed a business decision.",
		"How do you communicate uncertain results to non-technical stakeholders?",
		"What checks do you run before trusting a data pipeline's output?",
	},
	"product": {
		"Tell me about a product decision you made with incomplete information.",
		"How do you prioritize competing feature requests?",
		"Describe a time you had to say no to a stakeholder. How did you handle it?",
		"How do you measure whether a launched feature succeeded?",
		"Walk me through how you would gather requirements for a brand-new product.",
	},
	"design": {
		"Walk me through your design process for a recent project.",
		"How do you incorporate user feedback that contradicts your own judgment?",
		"Tell me about a design decision you defended under pressure.",
		"How do you balance aesthetics with usability constraints?",
	},
	"general": {
		"Tell me about yourself and what draws you to this role.",
		"Describe a challenge you faced at work and how you overcame it.",
		"What are your greatest strengths, and how have they shown up in your work?",
		"Tell me about a time you received difficult feedback. What did you do with it?",
		"Where do you see yourself growing in the next few years?",
		"Why are you interested in this position?",
	},
}

// poolForRole picks the template pool matching the free-text role.
func poolForRole(role string) []string {
	r := strings.ToLower(role)
	switch {
	case strings.Contains(r, "engineer"), strings.Contains(r, "developer"), strings.Contains(r, "software"), strings.Contains(r, "backend"), strings.Contains(r, "frontend"):
		return fallbackPools["engineering"]
	case strings.Contains(r, "data"), strings.Contains(r, "analyst"), strings.Contains(r, "scientist"):
		return fallbackPools["data"]
	case strings.Contains(r, "product"), strings.Contains(r, "manager"):
		return fallbackPools["product"]
	case strings.Contains(r, "design"):
		return fallbackPools["design"]
	default:
		return fallbackPools["general"]
	}
}

// pickFallbackQuestion selects uniformly at random among pool questions not
// yet asked this session, or the fixed sentence when the pool is exhausted.
func pickFallbackQuestion(role string, asked map[string]bool, rng *rand.Rand) string {
	pool := poolForRole(role)
	remaining := make([]string, 0, len(pool))
	for _, q := range pool {
		if !asked[q] {
			remaining = append(remaining, q)
		}
	}
	if len(remaining) == 0 {
		return exhaustedPoolQuestion
	}
	return remaining[rng.Intn(len(remaining))]
}

// askedQuestions collects assistant turns so fallback selection never repeats
// a question within one session.
func askedQuestions(history []interview.Turn) map[string]bool {
	asked := make(map[string]bool, len(history)/2+1)
	for _, t := range history {
		if t.Role == interview.RoleAssistant {
			asked[t.Content] = true
		}
	}
	return asked
}
