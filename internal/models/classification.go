package models

import "time"

// Classification is one entry of the information-category value list. The
// list is maintained externally and treated as read-only reference data.
type Classification struct {
	Code           string      `db:"code" json:"code"`
	Disposition    Disposition `db:"disposition" json:"disposition"`
	RetentionYears int         `db:"retention_years" json:"retentionYears"`
	Ordering       int         `db:"ordering" json:"ordering"`
	Source         string      `db:"source" json:"source"`
	Explanation    string      `db:"explanation" json:"explanation"`
	TypeURL        string      `db:"type_url" json:"typeUrl"`
}

// RetentionDecision is the governing classification applied to a published
// publication plus the computed archive action date.
type RetentionDecision struct {
	Source            string      `json:"source"`
	CategoryCode      string      `json:"categoryCode"`
	Disposition       Disposition `json:"disposition"`
	Explanation       string      `json:"explanation"`
	ArchiveActionDate time.Time   `json:"archiveActionDate"`
}
