// internal/workers/support-chat/answer-question/models.go
package answerquestion

type Input struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type Output struct {
	Response   string                 `json:"response"`
	Confidence float64                `json:"confidence"`
	Sources    []string               `json:"sources"`
	Metadata   map[string]interface{} `json:"metadata"`
	SessionID  string                 `json:"sessionId"`
}
