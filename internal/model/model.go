// Package model defines the domain types used across the application.
package model

import "time"

// Plan is one procurement-plan record as returned by the registry listing.
// Field tags follow the upstream JSON payload.
type Plan struct {
	ExcelFileUID     string `json:"excelFileUid"`
	CustomerName     string `json:"customerName"`
	CustomerBIN      string `json:"customerIdentifier"`
	ApproveDate      int64  `json:"approveDate"`
	Year             int    `json:"year"`
	PlanDurationType string `json:"planDurationType"`
	PlanType         string `json:"planType"`
}

// ApproveTime converts the epoch-millisecond approval timestamp.
// The second return value is false when the registry sent no timestamp.
func (p Plan) ApproveTime() (time.Time, bool) {
	if p.ApproveDate == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(p.ApproveDate), true
}

// LabelUnknown is rendered for absent fields and unrecognized enum codes.
const LabelUnknown = "—"

var durationLabels = map[string]string{
	"ANNUAL":    "Годовой план",
	"LONG_TIME": "Долгосрочный план",
}

var planTypeLabels = map[string]string{
	"PREBASIC": "Предварительный",
	"BASIC":    "Основной",
	"REVIEWED": "Уточнённый",
}

// DurationLabel returns the human label for a plan duration-type code.
func DurationLabel(code string) string {
	if l, ok := durationLabels[code]; ok {
		return l
	}
	return LabelUnknown
}

// PlanTypeLabel returns the human label for a plan-type code.
func PlanTypeLabel(code string) string {
	if l, ok := planTypeLabels[code]; ok {
		return l
	}
	return LabelUnknown
}
