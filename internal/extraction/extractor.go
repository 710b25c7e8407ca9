// Package extraction turns recognized document text into structured fields.
//
// Text is first read as a pipe-delimited table. Only when that yields nothing
// are labelled regular expressions applied to the free-form text.
package extraction

// Extractor is the stateless extraction engine. The zero value is ready to use.
type Extractor struct{}

// Extract parses text into fields and a confidence score.
func (Extractor) Extract(text string) Result {
	return Extract(text)
}

// Extract parses text into fields and a confidence score. It never fails; an
// empty Result has zero confidence.
func Extract(text string) Result {
	method := MethodTable
	fields := parseTable(text)
	if len(fields) == 0 {
		method = MethodPattern
		fields = parsePatterns(text)
	}
	if len(fields) == 0 {
		method = MethodNone
	}
	return Result{
		Fields:     fields,
		Confidence: fields.Confidence(),
		Method:     method,
	}
}
