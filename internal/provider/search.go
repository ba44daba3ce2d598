package provider

import "strings"

// recencyKeywords marks prompts that likely need fresh information from the
// web rather than the model's training data.
var recencyKeywords = []string{
	"today",
	"latest",
	"news",
	"trending",
	"current",
	"recent",
	"price",
	"release notes",
	"changelog",
}

func queryWantsSearch(text string) bool {
	lowered := strings.ToLower(text)
	for _, keyword := range recencyKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}
