package fhir

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// OperationOutcome is the subset of the FHIR resource we read out of error
// responses.
type OperationOutcome struct {
	ResourceType string  `json:"resourceType"`
	Issue        []Issue `json:"issue"`
}

// Issue is one entry of an OperationOutcome.
type Issue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
	Details     *struct {
		Text string `json:"text,omitempty"`
	} `json:"details,omitempty"`
}

// Error is returned for non-2xx backend responses.
type Error struct {
	StatusCode int
	URL        string
	Outcome    *OperationOutcome
	Body       string
}

func newError(resp *Response) *Error {
	e := &Error{StatusCode: resp.StatusCode, URL: resp.URL, Body: strings.TrimSpace(string(resp.Body))}
	var outcome OperationOutcome
	if err := json.Unmarshal(resp.Body, &outcome); err == nil && outcome.ResourceType == "OperationOutcome" {
		e.Outcome = &outcome
	}
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.message())
}

func (e *Error) message() string {
	if e.Outcome != nil {
		var parts []string
		for _, issue := range e.Outcome.Issue {
			switch {
			case issue.Details != nil && issue.Details.Text != "":
				parts = append(parts, issue.Details.Text)
			case issue.Diagnostics != "":
				parts = append(parts, issue.Diagnostics)
			case issue.Code != "":
				parts = append(parts, issue.Code)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "; ")
		}
	}
	if e.Body != "" {
		return e.Body
	}
	return e.URL
}
