package prompts

import (
	"strings"

	"github.com/ashureev/briefsmith/internal/domain"
)

// FieldValue is a catalog field paired with its collected value.
type FieldValue struct {
	Key         string
	Title       string
	Description string
	Value       string
}

// FieldValues lists record values in catalog order. With filledOnly set,
// empty values are left out.
func FieldValues(r domain.Record, filledOnly bool) []FieldValue {
	var out []FieldValue
	for _, f := range domain.Catalog() {
		v := strings.TrimSpace(r[f.Key])
		if filledOnly && v == "" {
			continue
		}
		out = append(out, FieldValue{Key: f.Key, Title: f.Title, Description: f.Description, Value: v})
	}
	return out
}

// NextFieldData renders NextField.
type NextFieldData struct {
	Collected []FieldValue
	Remaining []domain.Field
}

// QuestionData renders Question.
type QuestionData struct {
	Field     domain.Field
	Collected []FieldValue
}

// AnswerData renders FollowUp and Validate.
type AnswerData struct {
	Question string
	Answer   string
	Field    string
}

// RecordData renders FunctionalRequirements.
type RecordData struct {
	Fields []FieldValue
}

// TRDData renders TRD.
type TRDData struct {
	FunctionalRequirements string
}

// EstimateData renders TimeEstimate and CostEstimate.
type EstimateData struct {
	TRD        string
	Developers int
	TechStack  string
}

// TaskBreakdownData renders TaskBreakdown.
type TaskBreakdownData struct {
	TRD        string
	TechStack  string
	Developers int
	TotalHours float64
}

// CursorRulesData renders CursorRules.
type CursorRulesData struct {
	AppName    string
	TechStack  string
	Context    []FieldValue
	TRDExcerpt string
	PhaseCount int
	TaskCount  int
	TotalHours float64
}
