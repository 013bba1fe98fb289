package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BeskiJoseph/interview/internal/interview"
)

// buildTurnPrompt formats the interviewer instruction plus recent history.
// History is capped at the last pairLimit question/answer exchanges.
func buildTurnPrompt(p interview.Profile, utterance string, history []interview.Turn, pairLimit int) string {
	var b strings.Builder
	b.WriteString("You are a professional interviewer conducting a mock interview")
	if p.Role != "" {
		fmt.Fprintf(&b, " for the role of %s", p.Role)
	}
	if p.SkillLevel != "" {
		fmt.Fprintf(&b, " at %s level", p.SkillLevel)
	}
	b.WriteString(".\n")
	if p.JobDescription != "" {
		fmt.Fprintf(&b, "Job description: %s\n", p.JobDescription)
	}

	recent := lastTurns(history, pairLimit*2)
	if len(recent) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, t := range recent {
			fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(t.Role), t.Content)
		}
	}

	if strings.TrimSpace(utterance) == "" && len(history) > 0 {
		b.WriteString("\nThe candidate has gone quiet. Gently rephrase the last question or ask a simpler follow-up.\n")
	} else {
		b.WriteString("\nAsk the single next interview question. React briefly to the candidate's last answer when natural.\n")
	}
	b.WriteString("Respond with one conversational line and no markup.")
	return b.String()
}

// buildFeedbackPrompt asks for a structured JSON evaluation of the transcript.
func buildFeedbackPrompt(p interview.Profile, transcript []interview.QA) string {
	var b strings.Builder
	b.WriteString("You are evaluating a finished mock interview")
	if p.Role != "" {
		fmt.Fprintf(&b, " for the role of %s", p.Role)
	}
	if p.SkillLevel != "" {
		fmt.Fprintf(&b, " (%s level)", p.SkillLevel)
	}
	b.WriteString(".\n\nTranscript:\n")
	for i, qa := range transcript {
		fmt.Fprintf(&b, "Q%d: %s\n", i+1, qa.Question)
		answer := qa.Answer
		if strings.TrimSpace(answer) == "" {
			answer = "(no answer)"
		}
		fmt.Fprintf(&b, "A%d: %s\n", i+1, answer)
	}
	b.WriteString("\nReturn strict JSON with exactly these keys and nothing else:\n")
	b.WriteString(`{"strengths": ["..."], "improvements": ["..."], "overallScore": 0}` + "\n")
	b.WriteString("overallScore is an integer from 0 to 10.")
	return b.String()
}

func lastTurns(history []interview.Turn, n int) []interview.Turn {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// parseFeedback extracts the JSON object from the model reply, tolerating
// code fences and surrounding prose.
func parseFeedback(raw string) (interview.Feedback, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return interview.Feedback{}, fmt.Errorf("no JSON object in feedback reply")
	}
	var fb interview.Feedback
	if err := json.Unmarshal([]byte(raw[start:end+1]), &fb); err != nil {
		return interview.Feedback{}, fmt.Errorf("feedback decode: %w", err)
	}
	if fb.OverallScore < 0 {
		fb.OverallScore = 0
	}
	if fb.OverallScore > 10 {
		fb.OverallScore = 10
	}
	if fb.Strengths == nil {
		fb.Strengths = []string{}
	}
	if fb.Improvements == nil {
		fb.Improvements = []string{}
	}
	return fb, nil
}
