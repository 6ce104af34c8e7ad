package domain

// KeyPrefix namespaces every Redis key written by this service.
const KeyPrefix = "caddie:"

// Source is the provenance of a stored answer.
type Source string

const (
	SourceKnowledgeBase Source = "knowledge-base"
	SourceUserAsked     Source = "user-asked"
	SourceChatGPT35     Source = "gpt-3.5-turbo"
	SourceChatGPT4      Source = "gpt-4"
	SourceClaude2       Source = "claude-2"
)

// FromKnowledgeBase reports whether the answer came from the curated knowledge base.
func (s Source) FromKnowledgeBase() bool {
	return s == SourceKnowledgeBase
}

// Valid reports whether s is a known provenance tag.
func (s Source) Valid() bool {
	switch s {
	case SourceKnowledgeBase, SourceUserAsked, SourceChatGPT35, SourceChatGPT4, SourceClaude2:
		return true
	}
	return false
}

// IrrelevantAnswerID is the marker the LLM is instructed to reply with
// when a question has nothing to do with golf.
const IrrelevantAnswerID = "irrelevant_question"

// IrrelevantAnswer is the canonical refusal text shown to the user.
const IrrelevantAnswer = "This question is not relevant to golf, please ask a question related to golf."

// Answer is the record exposed upward for a resolved question.
type Answer struct {
	Category        string `json:"category,omitempty"`
	Question        string `json:"question"`
	MatchedQuestion string `json:"matched_question,omitempty"`
	Source          Source `json:"source"`
	Answer          string `json:"answer"`
}

// NewAnswer builds an Answer, replacing the LLM's irrelevant-question
// marker with the canonical refusal text.
func NewAnswer(category, question string, source Source, answer string) Answer {
	return Answer{
		Category: category,
		Question: question,
		Source:   source,
		Answer:   NormalizeAnswer(answer),
	}
}

// NormalizeAnswer maps the irrelevant-question marker to the refusal text.
// Any other answer text passes through unchanged.
func NormalizeAnswer(answer string) string {
	if answer == IrrelevantAnswerID {
		return IrrelevantAnswer
	}
	return answer
}
