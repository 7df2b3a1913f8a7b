// Package description edits free-text activity descriptions in blocks.
// A block starts with a header line (the signature) and runs to the next
// blank line or the end of the text. Blocks are separated by one blank line.
package description

import "strings"

const blockSeparator = "\n\n"

// FindSection locates the block whose header starts with headerPrefix.
// Returns start index, end index (exclusive, trailing whitespace trimmed) and whether found.
func FindSection(description, headerPrefix string) (start, end int, found bool) {
	if description == "" || headerPrefix == "" {
		return 0, 0, false
	}

	start = strings.Index(description, headerPrefix)
	if start == -1 {
		return 0, 0, false
	}

	end = len(description)
	if i := strings.Index(description[start:], blockSeparator); i != -1 {
		end = start + i
	}
	for end > start && (description[end-1] == '\n' || description[end-1] == ' ' || description[end-1] == '\r') {
		end--
	}
	return start, end, true
}

// HasSection checks if a description contains a block with the given header.
func HasSection(description, headerPrefix string) bool {
	_, _, found := FindSection(description, headerPrefix)
	return found
}

// Section returns the text of the block with the given header.
func Section(description, headerPrefix string) (string, bool) {
	start, end, found := FindSection(description, headerPrefix)
	if !found {
		return "", false
	}
	return description[start:end], true
}

// AppendSection adds content after a blank line. Existing text is kept byte for byte.
func AppendSection(description, content string) string {
	if description == "" {
		return content
	}
	return description + blockSeparator + content
}

// ReplaceSection replaces the block with the given header by newContent,
// leaving the text around it untouched. If the block doesn't exist, the new
// content is appended.
func ReplaceSection(description, headerPrefix, newContent string) string {
	start, end, found := FindSection(description, headerPrefix)
	if !found {
		return AppendSection(description, newContent)
	}
	return description[:start] + newContent + description[end:]
}
