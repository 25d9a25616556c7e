// Package fieldparser turns unstructured card text into contact fields.
//
// Parsing is a fixed sequence of independent passes over the non-empty,
// trimmed lines of the text. Line order is the only layout signal. Every pass
// may leave its field empty; Parse never fails.
package fieldparser

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxAddressLength caps the joined address residue, in characters.
const MaxAddressLength = 200

var (
	emailPattern   = regexp.MustCompile(`[a-zA-Z0-9._-]+@[a-zA-Z0-9._-]+\.[a-zA-Z0-9_-]+`)
	phonePattern   = regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`)
	websitePattern = regexp.MustCompile(`(https?://)?(www\.)?[-a-zA-Z0-9@:%._+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b([-a-zA-Z0-9()@:%_+.~#?&/=]*)`)
)

var companyKeywords = []string{"ltd", "limited", "inc", "corp", "corporation", "llc", "pvt", "private"}

// Fields is the parser output. Unmatched fields are empty strings.
type Fields struct {
	FullName    string `json:"fullName"`
	Designation string `json:"designation"`
	Company     string `json:"company"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Website     string `json:"website"`
	Address     string `json:"address"`
}

type document struct {
	text      string
	lines     []string
	nameIndex int
}

type pass func(doc *document, fields *Fields)

// Order matters: the address pass consumes the values found by all others.
var passes = []pass{
	extractEmail,
	extractPhone,
	extractWebsite,
	extractFullName,
	extractDesignation,
	extractCompany,
	extractAddress,
}

// Parse extracts contact fields from raw recognized text.
func Parse(rawText string) Fields {
	doc := &document{
		text:      rawText,
		lines:     splitLines(rawText),
		nameIndex: -1,
	}
	var fields Fields
	for _, p := range passes {
		p(doc, &fields)
	}
	return fields
}

func splitLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

func isContactLine(line string) bool {
	return emailPattern.MatchString(line) || phonePattern.MatchString(line)
}

func extractEmail(doc *document, fields *Fields) {
	fields.Email = strings.ToLower(emailPattern.FindString(doc.text))
}

func extractPhone(doc *document, fields *Fields) {
	fields.Phone = phonePattern.FindString(doc.text)
}

func extractWebsite(doc *document, fields *Fields) {
	for _, match := range websitePattern.FindAllString(doc.text, -1) {
		if !strings.Contains(match, "@") {
			fields.Website = match
			return
		}
	}
}

func extractFullName(doc *document, fields *Fields) {
	for i, line := range doc.lines {
		if !isContactLine(line) {
			fields.FullName = line
			doc.nameIndex = i
			return
		}
	}
}

func extractDesignation(doc *document, fields *Fields) {
	if doc.nameIndex < 0 {
		return
	}
	for _, line := range doc.lines[doc.nameIndex+1:] {
		if isContactLine(line) || strings.Contains(line, "www") || strings.Contains(line, "http") {
			continue
		}
		fields.Designation = line
		return
	}
}

func extractCompany(doc *document, fields *Fields) {
	for _, line := range doc.lines {
		if isContactLine(line) {
			continue
		}
		if hasCompanyKeyword(line) || isUpperCase(line) {
			fields.Company = line
			return
		}
	}
}

func hasCompanyKeyword(line string) bool {
	lower := strings.ToLower(line)
	for _, keyword := range companyKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// isUpperCase also holds for lines without any letters.
func isUpperCase(line string) bool {
	return line == strings.ToUpper(line) && utf8.RuneCountInString(line) > 2
}

func extractAddress(doc *document, fields *Fields) {
	used := []string{fields.FullName, fields.Designation, fields.Company, fields.Email, fields.Phone, fields.Website}

	var residue []string
	for _, line := range doc.lines {
		if !containsAny(line, used) {
			residue = append(residue, line)
		}
	}
	fields.Address = truncate(strings.Join(residue, ", "), MaxAddressLength)
}

func containsAny(line string, values []string) bool {
	for _, v := range values {
		if v != "" && strings.Contains(line, v) {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
