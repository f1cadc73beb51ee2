package config

import "sort"

const DefaultSystemPrompt = "You are a data manipulation assistant. Transform the cell content according to the user's instructions."

// Prompt is a named instruction from the predefined catalog.
type Prompt struct {
	Name        string `json:"name"`
	Instruction string `json:"instruction"`
}

var prompts = map[string]string{
	"Capitalize":          "Capitalize all text in this cell.",
	"To Uppercase":        "Convert all text to uppercase.",
	"To Lowercase":        "Convert all text to lowercase.",
	"Sentence Case":       "Format the text in sentence case (capitalize first letter of each sentence).",
	"Title Case":          "Format the text in title case (capitalize first letter of each word, except for articles, prepositions, and conjunctions).",
	"Remove Extra Spaces": "Remove all extra whitespace, including double spaces and leading/trailing spaces.",

	"Format Date":         "Format this as a standard date (YYYY-MM-DD).",
	"Format Phone Number": "Format this as a standard phone number.",
	"Format Currency":     "Format this as a standard currency value.",
	"Format Percentage":   "Format this as a percentage.",
	"Extract Numbers":     "Extract all numbers from this text.",
	"Format Address":      "Format this as a properly structured address with standard capitalization.",
	"Format Email":        "Format this as a proper email address (lowercase, no extra spaces).",

	"Summarize":     "Summarize this text in one sentence.",
	"Expand":        "Expand this abbreviated or short text with more details while maintaining its meaning.",
	"Bullet Points": "Convert this text into a bulleted list of key points.",
	"Fix Grammar":   "Fix any grammar or spelling errors in this text.",
	"Simplify":      "Simplify this text to make it easier to understand while preserving the key information.",
	"Formalize":     "Rewrite this text in a more formal, professional tone.",
	"Casualize":     "Rewrite this text in a more casual, conversational tone.",

	"Format JSON":      "Format this as valid, properly indented JSON.",
	"Format XML":       "Format this as valid, properly indented XML.",
	"Format CSV":       "Format this as valid CSV with proper delimiters and escaping.",
	"HTML to Text":     "Convert this HTML to well-structured plain text, preserving the semantic structure.",
	"Markdown to Text": "Convert this Markdown to plain text while preserving the content structure.",
	"Clean Code":       "Clean up and format this code snippet with proper indentation and style.",

	"Translate to English": "Translate this text to English.",
	"Translate to Arabic":  "Translate this text to Arabic.",
	"Translate to Hebrew":  "Translate this text to Hebrew.",

	"Remove Duplicates":   "Remove any duplicate information from this text.",
	"Remove HTML Tags":    "Remove all HTML tags from this text, keeping only the content.",
	"Fix Encoding Issues": "Fix text encoding issues like garbled characters or HTML entities.",
	"Fill Blank":          "Complete the blank or missing information in this cell based on context from surrounding cells.",
	"Standardize Format":  "Standardize the format of this data according to conventions.",
	"Extract Dates":       "Extract all dates from this text and format them consistently.",

	"Split Name":       "Split this full name into separate first name and last name components.",
	"Format Name":      "Format this name with proper capitalization and spacing.",
	"Extract Initials": "Extract the initials from this name.",

	"Convert to Citation": "Convert this reference information to a proper citation format.",
}

// Prompts returns the predefined catalog sorted by name.
func Prompts() []Prompt {
	out := make([]Prompt, 0, len(prompts))
	for name, instr := range prompts {
		out = append(out, Prompt{Name: name, Instruction: instr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupPrompt resolves a catalog entry by name.
func LookupPrompt(name string) (string, bool) {
	p, ok := prompts[name]
	return p, ok
}
