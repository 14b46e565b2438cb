package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/lysyi3m/idx-relay/app/feed"
	"github.com/lysyi3m/idx-relay/app/metrics"
	"github.com/lysyi3m/idx-relay/app/tasks"
)

// RunFunc performs one complete run.
type RunFunc func(ctx context.Context) (*tasks.RunResult, error)

type Handler struct {
	run     RunFunc
	topics  *feed.Topics
	metrics *metrics.Metrics
	version string

	runEnabled bool

	mu      sync.Mutex
	running bool
	lastRun *RunResponse
}

// RunResponse is the JSON body reported for a run, both by the run command
// and by POST /api/run.
type RunResponse struct {
	StatusCode int                          `json:"statusCode"`
	RunID      string                       `json:"run_id,omitempty"`
	State      tasks.RunState               `json:"state,omitempty"`
	Results    map[string]int               `json:"results"`
	Details    map[string]tasks.TopicResult `json:"details,omitempty"`
	Error      string                       `json:"error,omitempty"`
}

func NewRunResponse(result *tasks.RunResult, err error) *RunResponse {
	response := &RunResponse{
		StatusCode: http.StatusOK,
		Results:    map[string]int{},
	}

	if result != nil {
		response.RunID = result.RunID
		response.State = result.State
		response.Results = result.Topics
		response.Details = result.Details
	}

	if err != nil {
		response.StatusCode = http.StatusInternalServerError
		response.Error = err.Error()
	}

	return response
}
