package domain

import "fmt"

// Verdict is the outcome of the anomaly stage for one observation.
type Verdict int

const (
	// VerdictAccept means the classifier labelled the observation an inlier.
	VerdictAccept Verdict = iota
	// VerdictReject means the classifier labelled the observation an outlier.
	VerdictReject
	// VerdictDegraded means no classification happened (model unavailable or
	// classification error). It passes the stage.
	VerdictDegraded
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccept:
		return "accept"
	case VerdictReject:
		return "reject"
	case VerdictDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Passed reports whether the verdict lets the observation through.
func (v Verdict) Passed() bool {
	return v != VerdictReject
}

// Stats counts observations through both QC stages of one extraction.
type Stats struct {
	InitialCount int `json:"initial_count"`
	PassPhysical int `json:"pass_physical"`
	FailPhysical int `json:"fail_physical"`
	PassML       int `json:"pass_ml"`
	FailML       int `json:"fail_ml"`
	FinalCount   int `json:"final_count"`

	// MLDegraded counts observations that passed the anomaly stage without a
	// classification. It is a subset of PassML.
	MLDegraded int `json:"ml_degraded"`
}

// Validate checks the stage invariants against the number of observations
// actually returned.
func (s Stats) Validate(observations int) error {
	switch {
	case s.PassPhysical+s.FailPhysical != s.InitialCount:
		return fmt.Errorf("physical stage: %d pass + %d fail != %d initial",
			s.PassPhysical, s.FailPhysical, s.InitialCount)
	case s.PassML+s.FailML != s.PassPhysical:
		return fmt.Errorf("anomaly stage: %d pass + %d fail != %d physical passes",
			s.PassML, s.FailML, s.PassPhysical)
	case s.FinalCount != s.PassML:
		return fmt.Errorf("final count %d != anomaly passes %d", s.FinalCount, s.PassML)
	case s.FinalCount != observations:
		return fmt.Errorf("final count %d != %d observations", s.FinalCount, observations)
	case s.MLDegraded > s.PassML:
		return fmt.Errorf("degraded %d > anomaly passes %d", s.MLDegraded, s.PassML)
	}
	return nil
}
