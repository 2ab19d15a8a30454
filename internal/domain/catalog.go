// Package domain contains core domain types for the briefsmith application.
package domain

// Field describes one piece of project information the collector asks for.
type Field struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Question    string `json:"question"`
	Required    bool   `json:"required"`
}

// fields is the catalog in asking order. Only the first three are required.
var fields = []Field{
	{Key: "appName", Title: "App Name", Description: "the name of the application", Question: "What is your app name?", Required: true},
	{Key: "problemSolved", Title: "Problem Solved", Description: "what problem the application solves", Question: "What problem does it solve?", Required: true},
	{Key: "coreFeatures", Title: "Core Features", Description: "the core features and functionalities", Question: "What are the core features?", Required: true},
	{Key: "num_developers", Title: "Number of Developers", Description: "the number of developers working on the project", Question: "How many developers?"},
	{Key: "frontendStack", Title: "Frontend Stack", Description: "frontend technologies and frameworks", Question: "What frontend stack?"},
	{Key: "backendStack", Title: "Backend Stack", Description: "backend technologies and frameworks", Question: "What backend stack?"},
	{Key: "programmingLanguage", Title: "Programming Language", Description: "the primary programming language", Question: "What programming language?"},
	{Key: "database", Title: "Database", Description: "the database system to be used", Question: "What database?"},
	{Key: "apiIntegrations", Title: "API Integrations", Description: "external APIs and services to integrate", Question: "What API integrations?"},
	{Key: "authentication", Title: "Authentication", Description: "user authentication methods", Question: "How will users authenticate?"},
	{Key: "rolesPermissions", Title: "Roles and Permissions", Description: "user roles and permission system", Question: "What roles and permissions?"},
	{Key: "designStyle", Title: "Design Style", Description: "the design style and aesthetic", Question: "What design style?"},
	{Key: "theme", Title: "Theme", Description: "theme preferences (dark mode, light mode, etc.)", Question: "What theme preferences?"},
	{Key: "exclusions", Title: "Exclusions", Description: "features that should NOT be included", Question: "What should NOT be included?"},
	{Key: "comparableApps", Title: "Comparable Apps", Description: "similar existing applications for reference", Question: "Any similar existing apps?"},
	{Key: "constraints", Title: "Constraints", Description: "constraints and requirements (budget, timeline, compliance, etc.)", Question: "Any constraints or requirements?"},
}

var fieldIndex = func() map[string]int {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[f.Key] = i
	}
	return idx
}()

// Catalog returns a copy of the field catalog in asking order.
func Catalog() []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

// LookupField returns the catalog entry for key.
func LookupField(key string) (Field, bool) {
	i, ok := fieldIndex[key]
	if !ok {
		return Field{}, false
	}
	return fields[i], true
}

// IsKnownField reports whether key is in the catalog.
func IsKnownField(key string) bool {
	_, ok := fieldIndex[key]
	return ok
}

// IsRequired reports whether key names a required field.
func IsRequired(key string) bool {
	f, ok := LookupField(key)
	return ok && f.Required
}

// FieldKeys returns all catalog keys in asking order.
func FieldKeys() []string {
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.Key
	}
	return keys
}

// RequiredKeys returns the required keys in asking order.
func RequiredKeys() []string {
	var keys []string
	for _, f := range fields {
		if f.Required {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// FallbackQuestion returns the fixed question for key, or a generic prompt
// for keys outside the catalog.
func FallbackQuestion(key string) string {
	if f, ok := LookupField(key); ok {
		return f.Question
	}
	return "Please provide information about " + key + "."
}

// FallbackFollowUp returns the fixed follow-up question for key.
func FallbackFollowUp(key string) string {
	return "Please provide more details about " + key + "."
}
