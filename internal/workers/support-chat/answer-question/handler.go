// internal/workers/support-chat/answer-question/handler.go
package answerquestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperrors "jira-support-bot/internal/common/errors"
	"jira-support-bot/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
)

const (
	TaskType = "support-answer-question"
)

var (
	ErrInvalidInput = errors.New("INVALID_INPUT")
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Chatter routes one message. The router never fails, so neither does a
// decoded job.
type Chatter interface {
	Handle(ctx context.Context, message, sessionID string) *models.ChatResponse
}

type Handler struct {
	config       *Config
	router       Chatter
	logger       Logger
	errorHandler *apperrors.ErrorHandler
}

func NewHandler(config *Config, router Chatter, log Logger) *Handler {
	scoped := log.With(map[string]interface{}{
		"taskType": TaskType,
	})
	return &Handler{
		config:       config,
		router:       router,
		logger:       scoped,
		errorHandler: apperrors.NewErrorHandler(scoped),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := parseInput(job.Variables)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	h.completeJob(client, job, output)
}

func parseInput(variables string) (*Input, error) {
	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil {
		return nil, fmt.Errorf("%w: missing variables", ErrInvalidInput)
	}
	if strings.TrimSpace(input.Message) == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}

	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	resp := h.router.Handle(ctx, input.Message, sessionID)

	h.logger.Info("question answered", map[string]interface{}{
		"sessionId":  sessionID,
		"sources":    resp.Sources,
		"confidence": resp.Confidence,
	})

	return &Output{
		Response:   resp.Response,
		Confidence: resp.Confidence,
		Sources:    resp.Sources,
		Metadata:   resp.Metadata,
		SessionID:  sessionID,
	}, nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)

	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}

	_, err = cmd.Send(context.Background())
	if err != nil {
		h.logger.Error("Failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}

// failJob reports bad input as a non-retryable BPMN error the process can
// branch on. Anything else is internal.
func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	if errors.Is(err, ErrInvalidInput) {
		err = apperrors.NewInvalidRequestError(err.Error())
	}
	h.errorHandler.HandleJobError(ctx, client, job, err)
}

// Execute method for direct usage
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
