package catalog

import "strings"

// Category groups an action by what it lets the holder do.
type Category string

const (
	CategoryAdmin Category = "admin"
	CategoryWrite Category = "write"
	CategoryRead  Category = "read"
)

// Risk is the severity attached to granting an action.
type Risk string

const (
	RiskHigh   Risk = "high"
	RiskMedium Risk = "medium"
	RiskLow    Risk = "low"
)

// Classification pairs an action's category with its risk level.
type Classification struct {
	Category Category `json:"category"`
	Risk     Risk     `json:"risk"`
}

// Keyword tables for the lexical classification rule. Admin keywords are
// checked before write keywords.
var (
	adminKeywords = []string{"delete", "admin", "manage", "approve", "assign", "calculate", "pay", "reject", "cancel"}
	writeKeywords = []string{"create", "update", "edit", "import", "upload", "modify"}
)

// Classify maps an action code to its category and risk. The rule is purely
// lexical: an action containing any admin keyword is admin/high, any write
// keyword is write/medium, anything else is read/low.
func Classify(actionCode string) Classification {
	lower := strings.ToLower(actionCode)

	for _, keyword := range adminKeywords {
		if strings.Contains(lower, keyword) {
			return Classification{Category: CategoryAdmin, Risk: RiskHigh}
		}
	}
	for _, keyword := range writeKeywords {
		if strings.Contains(lower, keyword) {
			return Classification{Category: CategoryWrite, Risk: RiskMedium}
		}
	}
	return Classification{Category: CategoryRead, Risk: RiskLow}
}
