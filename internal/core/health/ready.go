package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Check reports one dependency; detail is echoed in the readiness body.
type Check struct {
	Name  string
	Probe func(ctx context.Context) (detail any, err error)
}

type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// RunnerCheck is ready once the consumer holds partitions.
func RunnerCheck(name string, rr ReadinessReporter) Check {
	return Check{Name: name, Probe: func(context.Context) (any, error) {
		ready, parts := rr.Readiness()
		if !ready {
			return nil, errNotAssigned
		}
		return parts, nil
	}}
}

var errNotAssigned = errors.New("no partitions assigned")

// Readiness runs every check with a shared timeout and answers 503 when any fails.
func Readiness(timeout time.Duration, checks ...Check) http.HandlerFunc {
	type result struct {
		Status string `json:"status"`
		Detail any    `json:"detail,omitempty"`
		Error  string `json:"error,omitempty"`
	}
	type resp struct {
		Status string            `json:"status"`
		Checks map[string]result `json:"checks,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		out := resp{Status: "ready", Checks: map[string]result{}}
		for _, c := range checks {
			detail, err := c.Probe(ctx)
			if err != nil {
				out.Status = "not_ready"
				out.Checks[c.Name] = result{Status: "fail", Error: err.Error()}
				continue
			}
			out.Checks[c.Name] = result{Status: "ok", Detail: detail}
		}

		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
