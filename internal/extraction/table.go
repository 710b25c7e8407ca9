package extraction

import (
	"regexp"
	"strings"
)

// labels maps a normalized two-cell row label to its field.
var labels = map[string]Field{
	"customer name":      CustomerName,
	"client name":        CustomerName,
	"name":               CustomerName,
	"customer id":        CustomerID,
	"client id":          CustomerID,
	"customer number":    CustomerID,
	"transaction id":     TransactionID,
	"transaction number": TransactionID,
	"order id":           TransactionID,
	"order number":       TransactionID,
	"transaction amount": TransactionAmount,
	"amount":             TransactionAmount,
	"total":              TransactionAmount,
	"payment date":       PaymentDate,
	"date":               PaymentDate,
	"document timestamp": DocumentTimestamp,
	"timestamp":          DocumentTimestamp,
	"customer country":   CustomerCountry,
	"country":            CustomerCountry,
}

// headerLabels are cells that mark a column header row.
var headerLabels = map[string]bool{
	"field name": true,
	"fieldname":  true,
	"field":      true,
	"value":      true,
	"id":         true,
}

var (
	separatorCell = regexp.MustCompile(`^[-=:_\s]+$`)
	digitsOnly    = regexp.MustCompile(`^\d+$`)
	amountShape   = regexp.MustCompile(`^[\d,.]*\d[\d,.]*$`)
	dateShape     = regexp.MustCompile(`^\d{4}[-/]\d{1,2}[-/]\d{1,2}(?:\s+\d{1,2}:\d{1,2}(?::\d{1,2})?)?$`)
	countryShape  = regexp.MustCompile(`^[A-Za-z]`)
	whitespace    = regexp.MustCompile(`[\s\p{Zs}]+`)
)

// positionalChecks validates a cell read from column i of a wide row.
var positionalChecks = map[Field]func(string) bool{
	CustomerName: func(v string) bool {
		return !digitsOnly.MatchString(v) && !separatorCell.MatchString(v)
	},
	CustomerID:        digitsOnly.MatchString,
	TransactionID:     digitsOnly.MatchString,
	TransactionAmount: amountShape.MatchString,
	PaymentDate:       dateShape.MatchString,
	DocumentTimestamp: dateShape.MatchString,
	CustomerCountry:   countryShape.MatchString,
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ":")
	return whitespace.ReplaceAllString(strings.TrimSpace(s), " ")
}

func splitRow(line string) []string {
	var cells []string
	for _, c := range strings.Split(line, "|") {
		if c = strings.TrimSpace(c); c != "" {
			cells = append(cells, c)
		}
	}
	return cells
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if !separatorCell.MatchString(c) {
			return false
		}
	}
	return true
}

// isHeaderRow reports whether a row labels columns instead of carrying data.
// A two-cell row is a header when it reads "Field Name | Value". A wider row
// is a header when any of its first three cells is a column label.
func isHeaderRow(cells []string) bool {
	if len(cells) == 2 {
		return headerLabels[normalizeLabel(cells[0])] && normalizeLabel(cells[1]) == "value"
	}
	for _, c := range cells[:min(3, len(cells))] {
		l := normalizeLabel(c)
		if headerLabels[l] {
			return true
		}
		if _, ok := labels[l]; ok {
			return true
		}
	}
	return false
}

// parseTable reads pipe-delimited rows. Later rows overwrite earlier ones.
func parseTable(text string) Fields {
	fields := Fields{}
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, "|") {
			continue
		}
		cells := splitRow(line)
		if len(cells) < 2 || isSeparatorRow(cells) || isHeaderRow(cells) {
			continue
		}

		if len(cells) == 2 {
			f, ok := labels[normalizeLabel(cells[0])]
			if !ok {
				continue
			}
			if v := clean(cells[1]); v != "" {
				fields[f] = v
			}
			continue
		}

		for i, f := range FieldOrder {
			if i >= len(cells) {
				break
			}
			v := clean(cells[i])
			if v != "" && positionalChecks[f](v) {
				fields[f] = v
			}
		}
	}
	return fields
}
