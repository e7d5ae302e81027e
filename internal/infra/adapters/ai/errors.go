package ai

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/openai/openai-go/v2"
	"google.golang.org/genai"

	"drawing-query/internal/domain"
	"drawing-query/internal/domain/model"
)

// Classify maps a reasoning service error onto a retry class.
func Classify(err error) model.FailureClass {
	switch {
	case err == nil:
		return model.FailureOther
	case errors.Is(err, context.Canceled), errors.Is(err, domain.ErrFatalJob):
		return model.FailureFatal
	case errors.Is(err, domain.ErrRateLimited):
		return model.FailureRateLimit
	case errors.Is(err, domain.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return model.FailureTransient
	}

	var oe *openai.Error
	if errors.As(err, &oe) {
		return classifyStatus(oe.StatusCode)
	}
	var ge genai.APIError
	if errors.As(err, &ge) {
		return classifyStatus(ge.Code)
	}
	var gpe *genai.APIError
	if errors.As(err, &gpe) && gpe != nil {
		return classifyStatus(gpe.Code)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return model.FailureTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return model.FailureTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return model.FailureRateLimit
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection refused"):
		return model.FailureTransient
	}
	return model.FailureOther
}

func classifyStatus(code int) model.FailureClass {
	switch {
	case code == http.StatusTooManyRequests:
		return model.FailureRateLimit
	case code == http.StatusRequestTimeout, code >= 500:
		return model.FailureTransient
	default:
		return model.FailureOther
	}
}
