package search

import (
	"strconv"
	"strings"
)

// FormatResults builds a human-readable result string.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString(". ")
		sb.WriteString(r.Title)
		sb.WriteString("\n   ")
		sb.WriteString(r.URL)
		if r.Snippet != "" {
			sb.WriteString("\n   ")
			sb.WriteString(r.Snippet)
		}
	}
	return sb.String()
}

// ItemResults pairs a searched item with its results or the error that
// prevented them.
type ItemResults struct {
	Item    string
	Results []Result
	Err     error
}

// FormatItems renders results grouped by item. Each result is numbered
// and its fields are aligned under the number:
//
//	denim jacket:
//		1. title: ...
//		   link: ...
//		   body: ...
func FormatItems(items []ItemResults) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		var sb strings.Builder
		sb.WriteString(it.Item)
		sb.WriteString(":\n")
		switch {
		case it.Err != nil:
			sb.WriteString("\t[ERROR] ")
			sb.WriteString(it.Err.Error())
			sb.WriteString("\n")
		case len(it.Results) == 0:
			sb.WriteString("\tNo results found.\n")
		}
		for i, r := range it.Results {
			num := strconv.Itoa(i+1) + ". "
			pad := strings.Repeat(" ", len(num))
			sb.WriteString("\t" + num + "title: " + r.Title + "\n")
			sb.WriteString("\t" + pad + "link: " + r.URL + "\n")
			if r.Snippet != "" {
				sb.WriteString("\t" + pad + "body: " + r.Snippet + "\n")
			}
		}
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, "\n")
}
