package query

// VersionField is the internal revision counter hidden from default projections.
const VersionField = "version"

// Project applies a field allow-list to a document. With no fields it only
// strips internal version metadata. The id is always kept.
func Project(doc map[string]any, fields []string) map[string]any {
	if doc == nil {
		return nil
	}
	if len(fields) == 0 {
		out := make(map[string]any, len(doc))
		for k, v := range doc {
			if k == VersionField {
				continue
			}
			out[k] = v
		}
		return out
	}

	out := make(map[string]any, len(fields)+1)
	if id, ok := doc["id"]; ok {
		out["id"] = id
	}
	for _, field := range fields {
		if v, ok := doc[field]; ok {
			out[field] = v
		}
	}
	return out
}
