package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/yawlcore/engine/internal/workitem"
)

// ExceptionClient is the outbound half of Interface X: the engine calling
// out to a participant-supplied handler URL on a work-item timeout or
// failure. Grounded on the teacher's common/clients/http.go (context-aware
// request helper) and common/clients/orchestrator.go's POST-JSON-decode-
// JSON shape, trimmed to the one request/response pair Interface X needs
// instead of a multi-endpoint API client.
type ExceptionClient struct {
	http *http.Client
}

func NewExceptionClient(timeout time.Duration) *ExceptionClient {
	return &ExceptionClient{http: &http.Client{Timeout: timeout}}
}

// decisionResponse is the handler's reply body, spec.md §6:
// {decision: retry|reroute|escalate}.
type decisionResponse struct {
	Decision string `json:"decision"`
}

// Timeout calls POST {handlerURL}/x/timeout (spec.md §4.6, §6): a work
// item has remained Started past its decomposition's declared SLA.
func (x *ExceptionClient) Timeout(ctx context.Context, handlerURL string, caseID string, id workitem.ID) workitem.ExceptionDecision {
	body := map[string]string{
		"case_id":     caseID,
		"workitem_id": id.String(),
		"task_id":     id.TaskID,
	}
	return x.call(ctx, handlerURL+"/x/timeout", body)
}

// Failure calls POST {handlerURL}/x/failure (spec.md §4.6, §6): a work
// item was reported Failed by its participant.
func (x *ExceptionClient) Failure(ctx context.Context, handlerURL string, caseID string, id workitem.ID, reason string) workitem.ExceptionDecision {
	body := map[string]string{
		"case_id":     caseID,
		"workitem_id": id.String(),
		"reason":      reason,
	}
	return x.call(ctx, handlerURL+"/x/failure", body)
}

// call does the request and falls back to escalate on any failure to
// reach the handler or parse its decision, per spec.md §7's
// ExceptionHandlerError policy: "default to escalate... Interface X
// callback unreachable or returned malformed decision."
func (x *ExceptionClient) call(ctx context.Context, url string, body map[string]string) workitem.ExceptionDecision {
	raw, err := json.Marshal(body)
	if err != nil {
		return workitem.DecisionEscalate
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return workitem.DecisionEscalate
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.http.Do(req)
	if err != nil {
		return workitem.DecisionEscalate
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return workitem.DecisionEscalate
	}

	var dec decisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&dec); err != nil {
		return workitem.DecisionEscalate
	}
	return workitem.ParseDecision(dec.Decision)
}
