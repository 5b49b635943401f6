package storage

import "strings"

// termSeparator trennt die akkumulierten Annotations-Token in search_terms.
const termSeparator = "; "

// MergeSearchTerms verschmilzt eine neue Annotation in die gespeicherte
// Token-Menge. Beide Seiten werden als "; "-getrennte Token gelesen; ein
// Token wird nur angehängt, wenn es noch nicht exakt enthalten ist. Ein
// reiner Substring-Vergleich würde z.B. "brain" fälschlich verwerfen, sobald
// ein längeres Token es enthält.
func MergeSearchTerms(existing, annotation string) string {
	tokens := splitTerms(existing)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		seen[t] = struct{}{}
	}

	for _, t := range splitTerms(annotation) {
		if _, ok := seen[t]; ok {
			continue
		}
		tokens = append(tokens, t)
		seen[t] = struct{}{}
	}

	return strings.Join(tokens, termSeparator)
}

func splitTerms(s string) []string {
	var tokens []string
	for _, part := range strings.Split(s, ";") {
		if t := strings.TrimSpace(part); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}
