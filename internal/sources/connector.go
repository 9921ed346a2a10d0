// Package sources adapts external product catalogs behind one contract:
// resolve a StructuredQuery into candidate products under a deadline.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	apperrors "voicemart/internal/common/errors"
	"voicemart/internal/models"
)

// Connector is implemented by every product source.
type Connector interface {
	Handle() models.SourceHandle
	Resolve(ctx context.Context, q *models.StructuredQuery, timeout time.Duration) ([]models.CandidateProduct, error)
}

var (
	ErrTimeout       = errors.New("CONNECTOR_TIMEOUT")
	ErrRateLimited   = errors.New("CONNECTOR_RATE_LIMITED")
	ErrUpstreamError = errors.New("CONNECTOR_UPSTREAM_ERROR")
	ErrParseError    = errors.New("CONNECTOR_PARSE_ERROR")
)

var sentinels = map[models.FailureKind]error{
	models.FailureTimeout:       ErrTimeout,
	models.FailureRateLimited:   ErrRateLimited,
	models.FailureUpstreamError: ErrUpstreamError,
	models.FailureParseError:    ErrParseError,
}

var errorCodes = map[models.FailureKind]apperrors.ErrorCode{
	models.FailureTimeout:       apperrors.ErrCodeConnectorTimeout,
	models.FailureRateLimited:   apperrors.ErrCodeConnectorRateLimited,
	models.FailureUpstreamError: apperrors.ErrCodeConnectorUpstreamError,
	models.FailureParseError:    apperrors.ErrCodeConnectorParseError,
}

// ConnectorError is the only error a Connector returns.
type ConnectorError struct {
	Source string
	Kind   models.FailureKind
	Err    error
}

func (e *ConnectorError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *ConnectorError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *ConnectorError) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// Standard converts the error for logging and job failure variables.
func (e *ConnectorError) Standard() *apperrors.StandardError {
	err := e.Err
	if err == nil {
		err = sentinels[e.Kind]
	}
	return apperrors.NewConnectorError(e.Source, errorCodes[e.Kind], err)
}

func newError(source string, kind models.FailureKind, err error) *ConnectorError {
	return &ConnectorError{Source: source, Kind: kind, Err: err}
}

// KindOf returns the failure kind carried by err. Unclassified errors are
// upstream errors.
func KindOf(err error) models.FailureKind {
	var ce *ConnectorError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if isTimeout(err) {
		return models.FailureTimeout
	}
	return models.FailureUpstreamError
}

// classify maps a transport error onto a ConnectorError.
func classify(source string, err error) *ConnectorError {
	var ce *ConnectorError
	if errors.As(err, &ce) {
		return ce
	}
	if isTimeout(err) {
		return newError(source, models.FailureTimeout, err)
	}
	return newError(source, models.FailureUpstreamError, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// statusError maps a non-2xx HTTP status onto a ConnectorError.
func statusError(source string, status int) *ConnectorError {
	err := fmt.Errorf("unexpected status %d", status)
	if status == http.StatusTooManyRequests {
		return newError(source, models.FailureRateLimited, err)
	}
	return newError(source, models.FailureUpstreamError, err)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
