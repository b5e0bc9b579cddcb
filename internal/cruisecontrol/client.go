// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

// Package cruisecontrol provides a client API to the Cruise Control REST
// endpoints the rebalance operator drives: proposal generation, proposal
// execution, task polling and execution stop.
package cruisecontrol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-logr/logr"
)

const sessionHeader = "User-Task-ID"

// TaskState is the engine-side state of an asynchronous task.
type TaskState string

const (
	TaskStateActive             TaskState = "Active"
	TaskStateInExecution        TaskState = "InExecution"
	TaskStateCompleted          TaskState = "Completed"
	TaskStateCompletedWithError TaskState = "CompletedWithError"
)

// ProposalResponse is the engine's answer to a proposal or execution request.
// Ready is set when the engine answered synchronously with a computed
// summary; otherwise SessionID identifies the task to poll.
type ProposalResponse struct {
	SessionID string
	Ready     bool
	Result    map[string]string
}

// TaskStatusResponse is the engine's answer to a poll of one session.
type TaskStatusResponse struct {
	State        TaskState
	Result       map[string]string
	ErrorMessage string
}

// API is the surface of the Cruise Control REST API consumed by the
// orchestrator. All calls are bounded by the client's configured timeout.
type API interface {
	RebalanceProposal(ctx context.Context, req *RebalanceRequest) (*ProposalResponse, error)
	UserTaskStatus(ctx context.Context, sessionID string) (*TaskStatusResponse, error)
	StopExecution(ctx context.Context, sessionID string) error
}

// ServerURL addresses the Cruise Control deployment of a cluster.
func ServerURL(clusterName, namespace string, port int32) string {
	return fmt.Sprintf("http://%s-cruise-control.%s.svc:%d", clusterName, namespace, port)
}

type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     logr.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger logr.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// RebalanceProposal issues the proposal or execution request described by
// req and decodes the synchronous-vs-session answer.
func (c *Client) RebalanceProposal(ctx context.Context, req *RebalanceRequest) (*ProposalResponse, error) {
	body, header, err := c.do(ctx, http.MethodPost, req.Endpoint(), req.BuildQuery())
	if err != nil {
		return nil, err
	}

	response := &ProposalResponse{
		SessionID: header.Get(sessionHeader),
	}

	var payload map[string]json.RawMessage
	if err := unmarshalJSON(body, &payload); err != nil {
		return nil, fmt.Errorf("unable to decode rebalance response: %w", err)
	}

	if summary, ok := payload["summary"]; ok {
		result, err := decodeSummary(summary)
		if err != nil {
			return nil, fmt.Errorf("unable to decode proposal summary: %w", err)
		}
		response.Ready = true
		response.Result = result
	}

	return response, nil
}

// UserTaskStatus polls the engine for the state of one session.
func (c *Client) UserTaskStatus(ctx context.Context, sessionID string) (*TaskStatusResponse, error) {
	body, _, err := c.do(ctx, http.MethodGet, EndpointUserTasks, NewUserTasksQuery(sessionID))
	if err != nil {
		return nil, err
	}

	var payload struct {
		UserTasks []struct {
			Status           TaskState `json:"Status"`
			UserTaskID       string    `json:"UserTaskId"`
			OriginalResponse string    `json:"originalResponse"`
		} `json:"userTasks"`
	}
	if err := unmarshalJSON(body, &payload); err != nil {
		return nil, fmt.Errorf("unable to decode user tasks response: %w", err)
	}
	if len(payload.UserTasks) == 0 {
		return nil, &RestError{
			Method:     http.MethodGet,
			Path:       EndpointUserTasks,
			StatusCode: http.StatusOK,
			Message:    fmt.Sprintf("no task found for session %s", sessionID),
		}
	}

	task := payload.UserTasks[0]
	response := &TaskStatusResponse{State: task.Status}

	switch task.Status {
	case TaskStateCompleted:
		if task.OriginalResponse != "" {
			var original map[string]json.RawMessage
			if err := unmarshalJSON([]byte(task.OriginalResponse), &original); err != nil {
				return nil, fmt.Errorf("unable to decode completed task response: %w", err)
			}
			if summary, ok := original["summary"]; ok {
				result, err := decodeSummary(summary)
				if err != nil {
					return nil, fmt.Errorf("unable to decode task summary: %w", err)
				}
				response.Result = result
			}
		}
	case TaskStateCompletedWithError:
		response.ErrorMessage = task.OriginalResponse
	}

	return response, nil
}

// StopExecution asks the engine to abort the ongoing proposal execution.
func (c *Client) StopExecution(ctx context.Context, sessionID string) error {
	c.logger.Info("stopping proposal execution", "sessionID", sessionID)

	values := url.Values{}
	values.Set("json", "true")
	_, _, err := c.do(ctx, http.MethodPost, EndpointStopExecution, values)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values) ([]byte, http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to build %s request for %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, c.classifyTransportError(method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, c.classifyTransportError(method, path, err)
	}

	// 202 means the task was accepted and is still computing; the session
	// id in the response header is the handle to poll with.
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, nil, &RestError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}

	return body, resp.Header, nil
}

func (c *Client) classifyTransportError(method, path string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{Method: method, Path: path, Timeout: c.timeout}
	}
	return &ConnectionError{Err: err}
}

// errorMessage extracts the engine's own message from an error body.
func errorMessage(body []byte) string {
	var payload struct {
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.ErrorMessage != "" {
		return payload.ErrorMessage
	}
	return string(body)
}

func unmarshalJSON(body []byte, target any) error {
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, target)
}

// decodeSummary flattens the engine's numeric summary into the string map
// persisted in status.optimizationResult.
func decodeSummary(raw json.RawMessage) (map[string]string, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var summary map[string]any
	if err := decoder.Decode(&summary); err != nil {
		return nil, err
	}

	result := make(map[string]string, len(summary))
	for key, value := range summary {
		switch v := value.(type) {
		case string:
			result[key] = v
		case json.Number:
			result[key] = v.String()
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			result[key] = string(encoded)
		}
	}
	return result, nil
}
