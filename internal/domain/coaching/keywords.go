package coaching

import "strings"

// route is one row of the routing table.
type route struct {
	category Category
	keywords []string
}

// routes is evaluated top to bottom; the first row with a matching keyword wins.
var routes = []route{
	{CategoryWorkout, []string{
		"workout", "exercise", "squat", "deadlift", "bench", "lift", "training",
		"program", "reps", "cardio", "strength", "muscle", "gym", "hiit",
	}},
	{CategoryNutrition, []string{
		"nutrition", "diet", "meal", "food", "calorie", "protein", "carb", "macro",
		"eating", "hungry", "supplement", "hydration", "vegan",
	}},
	{CategoryRecovery, []string{
		"recovery", "recover", "sleep", "rest day", "sore", "stretch", "mobility",
		"fatigue", "tired", "hrv", "foam roll", "deload",
	}},
	// Distress phrasing must reach the motivation specialist, which owns the
	// distress override.
	{CategoryMotivation, append([]string{
		"motivat", "give up", "quit", "struggling", "lazy", "discipline", "consistent",
		"stressed", "overwhelmed", "confidence",
	}, distressKeywords...)},
}

// Classify routes a message to a specialist. It is total: a message matching
// nothing goes to the general specialist.
func Classify(message string) Category {
	m := strings.ToLower(message)
	for _, r := range routes {
		if containsAny(m, r.keywords) {
			return r.category
		}
	}
	return CategoryGeneral
}

var distressKeywords = []string{
	"depressed", "hopeless", "worthless", "want to die", "kill myself",
	"end my life", "self-harm", "self harm", "hurt myself", "suicid",
}

// DetectDistress reports whether the message contains distress phrasing.
func DetectDistress(message string) bool {
	return containsAny(strings.ToLower(message), distressKeywords)
}

var loggingIntentKeywords = []string{"log", "track", "record", "completed"}

// HasLoggingIntent reports whether the user wants to record a session.
func HasLoggingIntent(message string) bool {
	return containsAny(strings.ToLower(message), loggingIntentKeywords)
}

// ContainsAny reports whether the lowercased message contains any keyword.
// Keywords must already be lowercase.
func ContainsAny(message string, keywords []string) bool {
	return containsAny(strings.ToLower(message), keywords)
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
