package workflow

// DuplicateIDs returns every step id that appears more than once across all
// nested scopes, violating the uniqueness invariant (spec §3). Empty when
// the workflow is well-formed.
func DuplicateIDs(w Workflow) []string {
	seen := make(map[string]int)
	for _, id := range w.AllIDs() {
		seen[id]++
	}
	var dupes []string
	for id, n := range seen {
		if n > 1 {
			dupes = append(dupes, id)
		}
	}
	return dupes
}
