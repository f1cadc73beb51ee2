package llm

import (
	"sort"
	"strings"

	"github.com/maraichr/cellforge/pkg/models"
)

// ComposePrompt builds the user turn sent for one cell: the instruction, the
// cell content and, when present, one bullet per context entry.
func ComposePrompt(userPrompt, content string, context map[string]any) string {
	var b strings.Builder
	b.WriteString(userPrompt)
	b.WriteString("\n\nCell content: ")
	b.WriteString(content)

	if len(context) > 0 {
		b.WriteString("\n\nContext information:\n")
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString("- ")
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(contextValue(context[k]))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func contextValue(v any) string {
	switch x := v.(type) {
	case map[string]string:
		return joinPairs(x)
	case map[string]any:
		m := make(map[string]string, len(x))
		for k, val := range x {
			m[k] = models.Stringify(val)
		}
		return joinPairs(m)
	default:
		return models.Stringify(v)
	}
}

func joinPairs(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
