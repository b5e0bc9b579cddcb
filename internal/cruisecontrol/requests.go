// Copyright 2025 Streamhub
// SPDX-License-Identifier: Apache-2.0

package cruisecontrol

import (
	"net/url"
	"strconv"
	"strings"
)

// Endpoints of the Cruise Control REST API used by the operator.
const (
	apiBasePath           = "/kafkacruisecontrol"
	EndpointRebalance     = apiBasePath + "/rebalance"
	EndpointAddBroker     = apiBasePath + "/add_broker"
	EndpointRemoveBroker  = apiBasePath + "/remove_broker"
	EndpointUserTasks     = apiBasePath + "/user_tasks"
	EndpointStopExecution = apiBasePath + "/stop_proposal_execution"
)

// RebalanceRequest describes one proposal or execution request.
type RebalanceRequest struct {
	endpoint          string
	dryRun            bool
	goals             []string
	brokers           []int32
	skipHardGoalCheck bool
	rebalanceDisk     bool
	verbose           bool
}

type RebalanceRequestOption func(r *RebalanceRequest)

// NewRebalanceRequest builds a request against the given endpoint. dryRun
// selects between proposal generation and proposal execution.
func NewRebalanceRequest(endpoint string, dryRun bool, opts ...RebalanceRequestOption) *RebalanceRequest {
	r := &RebalanceRequest{
		endpoint: endpoint,
		dryRun:   dryRun,
		verbose:  true,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

func WithGoals(goals []string) RebalanceRequestOption {
	opt := func(r *RebalanceRequest) {
		r.goals = goals
	}

	return opt
}

func WithBrokers(brokers []int32) RebalanceRequestOption {
	opt := func(r *RebalanceRequest) {
		r.brokers = brokers
	}

	return opt
}

func WithSkipHardGoalCheck(skip bool) RebalanceRequestOption {
	opt := func(r *RebalanceRequest) {
		r.skipHardGoalCheck = skip
	}

	return opt
}

func WithRebalanceDisk(rebalanceDisk bool) RebalanceRequestOption {
	opt := func(r *RebalanceRequest) {
		r.rebalanceDisk = rebalanceDisk
	}

	return opt
}

func (r *RebalanceRequest) Endpoint() string {
	return r.endpoint
}

// BuildQuery renders the request into Cruise Control query parameters.
func (r *RebalanceRequest) BuildQuery() url.Values {
	values := url.Values{}
	values.Set("json", "true")
	values.Set("dryrun", strconv.FormatBool(r.dryRun))
	if r.verbose {
		values.Set("verbose", "true")
	}
	if len(r.goals) > 0 {
		values.Set("goals", strings.Join(r.goals, ","))
	}
	if r.skipHardGoalCheck {
		values.Set("skip_hard_goal_check", "true")
	}
	if r.rebalanceDisk {
		values.Set("rebalance_disk", "true")
	}
	if len(r.brokers) > 0 {
		ids := make([]string, len(r.brokers))
		for i, b := range r.brokers {
			ids[i] = strconv.FormatInt(int64(b), 10)
		}
		values.Set("brokerid", strings.Join(ids, ","))
	}
	return values
}

// NewUserTasksQuery renders the poll request for one engine session.
func NewUserTasksQuery(sessionID string) url.Values {
	values := url.Values{}
	values.Set("json", "true")
	values.Set("user_task_ids", sessionID)
	return values
}
