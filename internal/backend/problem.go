package backend

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/and161185/consulta/internal/errs"
	"github.com/and161185/consulta/internal/model"
)

// ProblemError carries a normalized problem plus the HTTP status it came
// with (0 when no response arrived).
type ProblemError struct {
	HTTPStatus int
	Problem    model.ProblemInfo
	cause      error
}

func (e *ProblemError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Problem.Title, e.Problem.Detail, e.cause)
	}
	return fmt.Sprintf("%d %s: %s", e.HTTPStatus, e.Problem.Title, e.Problem.Detail)
}

// Unwrap maps the status onto the errs sentinels.
func (e *ProblemError) Unwrap() error {
	switch e.HTTPStatus {
	case 0:
		return errs.ErrUnavailable
	case http.StatusBadRequest:
		return errs.ErrValidation
	case http.StatusUnauthorized:
		return errs.ErrUnauthorized
	case http.StatusForbidden:
		return errs.ErrForbidden
	case http.StatusNotFound:
		return errs.ErrNotFound
	case http.StatusConflict:
		return errs.ErrAlreadyExists
	case http.StatusTooManyRequests:
		return errs.ErrRateLimited
	default:
		return e.cause
	}
}

// UnexpectedProblem is recorded when an error body is not in the expected shape.
func UnexpectedProblem() model.ProblemInfo {
	return model.ProblemInfo{
		Status: http.StatusInternalServerError,
		Title:  "Internal Server Error",
		Detail: "unexpected response from server",
	}
}

// NetworkProblem is recorded when no response arrived at all.
func NetworkProblem() model.ProblemInfo {
	return model.ProblemInfo{Status: 0, Title: "Network Error", Detail: "can't reach server"}
}

// SessionExpiredProblem is what users see after a forced logout.
func SessionExpiredProblem() model.ProblemInfo {
	return model.ProblemInfo{
		Status: http.StatusUnauthorized,
		Title:  "Session expired",
		Detail: "your session has expired, please sign in again",
	}
}

type problemBody struct {
	Status  *int   `json:"status"`
	Title   string `json:"title"`
	Detail  string `json:"detail"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ParseProblem normalizes an error body into {status, title, detail},
// falling back to UnexpectedProblem when the body is not recognizable.
func ParseProblem(status int, body []byte) model.ProblemInfo {
	var pb problemBody
	if len(body) == 0 || json.Unmarshal(body, &pb) != nil {
		return UnexpectedProblem()
	}
	title := firstNonEmpty(pb.Title, pb.Error)
	detail := firstNonEmpty(pb.Detail, pb.Message)
	if title == "" && detail == "" {
		return UnexpectedProblem()
	}
	p := model.ProblemInfo{Status: status, Title: title, Detail: detail}
	if pb.Status != nil && *pb.Status != 0 {
		p.Status = *pb.Status
	}
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	return p
}

// ProblemOf extracts the problem carried by err, or a generic one.
func ProblemOf(err error) model.ProblemInfo {
	var pe *ProblemError
	if errors.As(err, &pe) {
		return pe.Problem
	}
	if errors.Is(err, errs.ErrUnavailable) {
		return NetworkProblem()
	}
	return UnexpectedProblem()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
