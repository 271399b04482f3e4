package services

// CostNodeFor maps a detail cost category to the cost node it rolls up into.
// A detail with no registered node is reported under its own id; an empty
// detail id stays uncategorized.
//
// TODO: decide with the estimating team whether an unmatched detail should
// surface as an error instead of the silent fallback.
func CostNodeFor(detailID string, nodesByDetail map[string]string) string {
	if detailID == "" {
		return ""
	}
	if node, ok := nodesByDetail[detailID]; ok && node != "" {
		return node
	}
	return detailID
}
