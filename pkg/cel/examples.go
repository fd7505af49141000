package cel

// FilterExpressionExamples are expressions accepted in a rule filter's "expression" key.
var FilterExpressionExamples = map[string]string{
	"stage_changed":       `has(previous.stage_id) && previous.stage_id != current.stage_id`,
	"large_deal":          `current.value > 50000.0`,
	"won_in_currency":     `current.status == "won" && current.currency in ["EUR", "USD"]`,
	"deleted_anything":    `action == "deleted"`,
	"owner_reassigned":    `has(previous.owner_id) && previous.owner_id != current.owner_id`,
	"title_contains":      `current.title.contains("Enterprise")`,
	"entity_and_action":   `entity == "person" && action == "added"`,
	"probability_dropped": `has(previous.probability) && current.probability < previous.probability`,
}
