// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

// Package mock provides mock implementations for the Cruise Control client
// and the configuration file reader.
package mock

import (
	"context"
	"errors"

	"github.com/streamhub/rebalance-operator/internal/cruisecontrol"
)

type FileReaderMock struct {
	FileContent map[string]string
	ReturnError bool
}

func (f *FileReaderMock) ReadFile(fileName string) ([]byte, error) {
	if f.ReturnError {
		return nil, errors.New("error")
	}
	return []byte(f.FileContent[fileName]), nil
}

// CruiseControlMock implements cruisecontrol.API. Each method delegates to
// its Func field and counts calls, so tests can assert exactly which engine
// calls a reconcile made.
type CruiseControlMock struct {
	RebalanceProposalFunc  func(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error)
	RebalanceProposalCalls int

	UserTaskStatusFunc  func(ctx context.Context, sessionID string) (*cruisecontrol.TaskStatusResponse, error)
	UserTaskStatusCalls int

	StopExecutionFunc  func(ctx context.Context, sessionID string) error
	StopExecutionCalls int
}

func (c *CruiseControlMock) RebalanceProposal(ctx context.Context, req *cruisecontrol.RebalanceRequest) (*cruisecontrol.ProposalResponse, error) {
	c.RebalanceProposalCalls++
	return c.RebalanceProposalFunc(ctx, req)
}

func (c *CruiseControlMock) UserTaskStatus(ctx context.Context, sessionID string) (*cruisecontrol.TaskStatusResponse, error) {
	c.UserTaskStatusCalls++
	return c.UserTaskStatusFunc(ctx, sessionID)
}

func (c *CruiseControlMock) StopExecution(ctx context.Context, sessionID string) error {
	c.StopExecutionCalls++
	return c.StopExecutionFunc(ctx, sessionID)
}

// EngineCalls is the total number of engine calls the mock has seen.
func (c *CruiseControlMock) EngineCalls() int {
	return c.RebalanceProposalCalls + c.UserTaskStatusCalls + c.StopExecutionCalls
}
