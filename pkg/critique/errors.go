package critique

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/artcritic/artcritic/pkg/providers"
)

type ErrorKind string

const (
	KindInvalidInput ErrorKind = "invalid_input"
	KindCaption      ErrorKind = "caption"
	KindCritiqueAPI  ErrorKind = "critique_api"
	KindNetwork      ErrorKind = "network"
)

const errorPrefix = "Something went wrong: "

type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

type CaptionError struct {
	Err error
}

func (e *CaptionError) Error() string {
	if e.Err == nil {
		return "caption failed: empty description"
	}
	return "caption failed: " + e.Err.Error()
}

func (e *CaptionError) Unwrap() error { return e.Err }

// CritiqueAPIError covers non-2xx replies and unusable bodies from either LLM.
// StatusCode is zero when the reply was 2xx but malformed.
type CritiqueAPIError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *CritiqueAPIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("critique API returned %d: %s", e.StatusCode, e.Body)
	}
	if e.Err != nil {
		return "critique API: " + e.Err.Error()
	}
	return "critique API: malformed response"
}

func (e *CritiqueAPIError) Unwrap() error { return e.Err }

type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

var errNotConfigured = errors.New("critique service is not configured")

// classifyLLMError maps collaborator failures onto the taxonomy. Anything that is
// not a transport failure or an HTTP status is treated as a malformed reply.
func classifyLLMError(err error) error {
	var apiErr *providers.APIError
	if errors.As(err, &apiErr) {
		return &CritiqueAPIError{StatusCode: apiErr.StatusCode, Body: apiErr.Body, Err: err}
	}
	if isNetworkError(err) {
		return &NetworkError{Err: err}
	}
	return &CritiqueAPIError{Err: err}
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func kindOf(err error) ErrorKind {
	var (
		invalid *InvalidInputError
		caption *CaptionError
		network *NetworkError
	)
	switch {
	case errors.As(err, &invalid):
		return KindInvalidInput
	case errors.As(err, &caption):
		return KindCaption
	case errors.As(err, &network):
		return KindNetwork
	default:
		return KindCritiqueAPI
	}
}

// userDetail renders a failure for end users. Collaborator bodies stay out of it.
func userDetail(err error) string {
	var (
		invalid *InvalidInputError
		apiErr  *CritiqueAPIError
	)
	switch kindOf(err) {
	case KindInvalidInput:
		if errors.As(err, &invalid) {
			return errorPrefix + "that doesn't look like an image I can read (" + invalid.Reason + ")."
		}
		return errorPrefix + "that doesn't look like an image I can read."
	case KindCaption:
		return errorPrefix + "I couldn't make out what's in the image."
	case KindNetwork:
		return errorPrefix + "I couldn't reach the critique service."
	}
	if errors.Is(err, errNotConfigured) {
		return errorPrefix + errNotConfigured.Error() + "."
	}
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		return fmt.Sprintf("%sthe critique service returned status %d.", errorPrefix, apiErr.StatusCode)
	}
	return errorPrefix + "the critique service sent back an unusable reply."
}

// DownloadFailed is the Result adapters post when the image bytes could not be
// fetched, before the pipeline ever runs.
func DownloadFailed(err error) Result {
	return Result{
		Succeeded:   false,
		ErrorDetail: errorPrefix + "I couldn't download the image.",
		Kind:        KindNetwork,
		Err:         &NetworkError{Err: err},
	}
}
