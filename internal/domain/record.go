package domain

import (
	"regexp"
	"strconv"
	"strings"
)

// Record is the exported result of a collection session. Every catalog key
// is present; skipped or empty fields map to "".
type Record map[string]string

// NewRecord returns a record holding every catalog key with an empty value.
func NewRecord() Record {
	r := make(Record, len(fields))
	for _, f := range fields {
		r[f.Key] = ""
	}
	return r
}

// RecordFrom normalizes arbitrary key/value input into a Record. Unknown keys
// are dropped and values are trimmed.
func RecordFrom(values map[string]string) Record {
	r := NewRecord()
	for k, v := range values {
		if IsKnownField(k) {
			r[k] = strings.TrimSpace(v)
		}
	}
	return r
}

// MissingRequired returns required keys whose value is empty.
func (r Record) MissingRequired() []string {
	var missing []string
	for _, key := range RequiredKeys() {
		if strings.TrimSpace(r[key]) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// TechStack joins the stack-related answers for prompt context.
func (r Record) TechStack() string {
	var parts []string
	for _, key := range []string{"frontendStack", "backendStack", "programmingLanguage", "database"} {
		if v := strings.TrimSpace(r[key]); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return "Not specified"
	}
	return strings.Join(parts, ", ")
}

var firstNumber = regexp.MustCompile(`\d+`)

// Developers returns the team size from num_developers, defaulting to 1 when
// the answer carries no usable number.
func (r Record) Developers() int {
	m := firstNumber.FindString(r["num_developers"])
	if m == "" {
		return 1
	}
	n, err := strconv.Atoi(m)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}
