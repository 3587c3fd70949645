package submission

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending       Status = "PENDING"
	StatusApproved      Status = "APPROVED"
	StatusRejected      Status = "REJECTED"
	StatusReported      Status = "REPORTED"
	StatusAdminRejected Status = "ADMIN_REJECTED"
)

// DisputeWindow is how long after submission a rejection may be reported.
// Rejected submissions keep their slot reserved for the same period.
const DisputeWindow = 72 * time.Hour

// Decision is the admin verdict on a reported submission.
type Decision string

const (
	VisitorWins Decision = "VISITOR_WINS"
	OwnerWins   Decision = "OWNER_WINS"
)

func ParseDecision(raw string) (Decision, error) {
	d := Decision(strings.ToUpper(strings.TrimSpace(raw)))
	if d != VisitorWins && d != OwnerWins {
		return "", ErrInvalidDecision
	}
	return d, nil
}

// Submission is one visitor's proof for one campaign.
type Submission struct {
	ID             string                      `gorm:"column:submission_id;primaryKey;type:varchar(32)" json:"submission_id"`
	CampaignID     string                      `gorm:"column:campaign_id;type:varchar(32);not null;uniqueIndex:idx_submission_campaign_visitor,priority:1" json:"campaign_id"`
	VisitorID      string                      `gorm:"column:visitor_id;type:varchar(64);not null;uniqueIndex:idx_submission_campaign_visitor,priority:2" json:"visitor_id"`
	ProofArtifacts datatypes.JSONSlice[string] `gorm:"column:proof_artifacts" json:"proof_artifacts"`
	Status         Status                      `gorm:"column:status;type:varchar(16);index;not null;default:'PENDING'" json:"status"`
	RejectReason   string                      `gorm:"column:reject_reason;type:text" json:"reject_reason,omitempty"`
	ReportMessage  string                      `gorm:"column:report_message;type:text" json:"report_message,omitempty"`
	SubmittedAt    time.Time                   `gorm:"column:submitted_at;index;not null" json:"submitted_at"`
	ReportedAt     *time.Time                  `gorm:"column:reported_at" json:"reported_at,omitempty"`
	ResolvedAt     *time.Time                  `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
	RewardedAt     *time.Time                  `gorm:"column:rewarded_at" json:"rewarded_at,omitempty"`
	CreatedAt      time.Time                   `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time                   `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Submission) TableName() string { return "submissions" }

func (s *Submission) Artifacts() []string {
	return []string(s.ProofArtifacts)
}

// SweepResult counts what one sweep batch did.
type SweepResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func cleanArtifacts(refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref = strings.TrimSpace(ref); ref != "" {
			out = append(out, ref)
		}
	}
	return out
}
