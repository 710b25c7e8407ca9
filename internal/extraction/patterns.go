package extraction

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	amountCapture   = `([\d,.]*\d[\d,.]*)`
	dateCapture     = `(\d{4}[-/]\d{1,2}[-/]\d{1,2})`
	dateCaptureDMY  = `(\d{1,2}[-/]\d{1,2}[-/]\d{4})`
	timeSuffix      = `\s+\d{1,2}:\d{1,2}(?::\d{1,2})?`
	labelSeparators = `[:\s\p{Zs}]*`
)

// patterns holds, per field, expressions tried in order. The first match wins.
// All of them are case-insensitive and multi-line; captures keep the
// original casing of the text.
var patterns = map[Field][]*regexp.Regexp{
	CustomerName: compile(
		`customer\s*name`+labelSeparators+`([^\n\r|]+)`,
		`client\s*name`+labelSeparators+`([^\n\r|]+)`,
	),
	CustomerID: compile(
		`customer\s*id`+labelSeparators+`([A-Za-z0-9\-_]+)`,
		`customer\s*number`+labelSeparators+`([A-Za-z0-9\-_]+)`,
		`client\s*id`+labelSeparators+`([A-Za-z0-9\-_]+)`,
	),
	TransactionID: compile(
		`transaction\s*id`+labelSeparators+`([A-Za-z0-9\-_]+)`,
		`transaction\s*number`+labelSeparators+`([A-Za-z0-9\-_]+)`,
		`order\s*id`+labelSeparators+`([A-Za-z0-9\-_]+)`,
		`order\s*number`+labelSeparators+`([A-Za-z0-9\-_]+)`,
	),
	TransactionAmount: compile(
		`(?:transaction\s*)?amount`+labelSeparators+amountCapture,
		`total`+labelSeparators+amountCapture,
		`price`+labelSeparators+amountCapture,
		`\$\s*`+amountCapture,
		`[￥¥]\s*`+amountCapture,
	),
	PaymentDate: compile(
		`payment\s*date`+labelSeparators+`(\d[\d\-/ \t]*)`,
		`(?:^|\s)date`+labelSeparators+`(\d[\d\-/ \t]*)`,
		dateCapture,
		dateCaptureDMY,
	),
	DocumentTimestamp: compile(
		`(?:document\s*)?timestamp`+labelSeparators+`(\d[\d\-/ \t:]*)`,
		`(\d{4}[-/]\d{1,2}[-/]\d{1,2}`+timeSuffix+`)`,
		`(\d{1,2}[-/]\d{1,2}[-/]\d{4}`+timeSuffix+`)`,
	),
	CustomerCountry: compile(
		`(?:customer\s*)?country`+labelSeparators+`([A-Za-z][A-Za-z \t]*)`,
		`nation`+labelSeparators+`([A-Za-z][A-Za-z \t]*)`,
		`region`+labelSeparators+`([^\n\r|]+)`,
		`location`+labelSeparators+`([^\n\r|]+)`,
	),
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?im)` + e)
	}
	return out
}

// parsePatterns applies the labelled expressions to free-form text. Each
// field is searched independently.
func parsePatterns(text string) Fields {
	fields := Fields{}
	for _, f := range FieldOrder {
		for _, re := range patterns[f] {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			if v := clean(m[1]); v != "" {
				fields[f] = v
				break
			}
		}
	}
	return fields
}

// clean strips surrounding pipes, colons and Unicode whitespace, including
// the full-width and non-breaking spaces OCR leaves after labels.
func clean(v string) string {
	return strings.TrimFunc(v, func(r rune) bool {
		return unicode.IsSpace(r) || r == ':' || r == '|'
	})
}
