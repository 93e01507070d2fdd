package model

import "time"

// Check is one pass/fail assertion of a scenario run.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Report summarizes one scenario run.
type Report struct {
	RunID     string    `json:"run_id"`
	Relay     string    `json:"relay"`
	StartedAt time.Time `json:"started_at"`
	Duration  int64     `json:"duration_ms"`

	MessageID string `json:"message_id,omitempty"`
	TagName   string `json:"tag_name"`
	TagValue  string `json:"tag_value"`

	Published       bool   `json:"published"`
	Acknowledged    bool   `json:"acknowledged"`
	Accepted        bool   `json:"accepted"`
	AckReason       string `json:"ack_reason,omitempty"`
	PublishTimedOut bool   `json:"publish_timed_out"`

	FoundByID  bool `json:"found_by_id"`
	ByIDCount  int  `json:"by_id_count"`
	FoundByTag bool `json:"found_by_tag"`
	ByTagCount int  `json:"by_tag_count"`

	SupportedNIPs []int  `json:"supported_nips,omitempty"`
	InfoError     string `json:"info_error,omitempty"`

	Checks []Check `json:"checks"`
	Error  string  `json:"error,omitempty"`
}

// AddCheck appends an assertion outcome and returns passed for chaining.
func (r *Report) AddCheck(name string, passed bool, detail string) bool {
	r.Checks = append(r.Checks, Check{Name: name, Passed: passed, Detail: detail})
	return passed
}

// Passed is true when the run finished without error and every assertion held.
func (r *Report) Passed() bool {
	if r.Error != "" || len(r.Checks) == 0 {
		return false
	}
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Outcome is the metrics label for the run.
func (r *Report) Outcome() string {
	if r.Passed() {
		return "passed"
	}
	return "failed"
}
