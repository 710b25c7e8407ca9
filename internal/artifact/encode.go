package artifact

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/zombor/scan-ledger/internal/extraction"
)

type processingInfo struct {
	Backend          string `json:"backend"`
	Status           string `json:"status"`
	ExtractionMethod string `json:"extraction_method"`
}

type jsonDocument struct {
	Timestamp        string            `json:"timestamp"`
	OriginalFilename string            `json:"original_filename"`
	RecognizedText   string            `json:"recognized_text"`
	ProcessingInfo   processingInfo    `json:"processing_info"`
	ExtractedFields  extraction.Fields `json:"extracted_fields"`
	Confidence       float64           `json:"confidence"`
}

func encodeJSON(a Artifact) ([]byte, error) {
	doc := jsonDocument{
		Timestamp:        a.Timestamp.Format(timeLayout),
		OriginalFilename: a.OriginalFilename,
		RecognizedText:   a.Outcome.Text,
		ProcessingInfo: processingInfo{
			Backend:          string(a.Outcome.Backend),
			Status:           strings.ToLower(a.status()),
			ExtractionMethod: string(a.Extraction.Method),
		},
		ExtractedFields: a.Extraction.Fields,
		Confidence:      a.Extraction.Confidence,
	}
	return json.MarshalIndent(doc, "", "  ")
}

const (
	labelTime     = "Recognition Time"
	labelFilename = "Original Filename"
	labelModel    = "Recognition Model"
	labelStatus   = "Processing Status"
	labelScore    = "Confidence"
	labelMethod   = "Extraction Method"
	labelFields   = "Extracted Fields"
	labelText     = "Recognized Text"
)

func encodeText(a Artifact) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", labelTime, a.Timestamp.Format(timeLayout))
	fmt.Fprintf(&b, "%s: %s\n", labelFilename, a.OriginalFilename)
	fmt.Fprintf(&b, "%s: %s\n", labelModel, a.Outcome.Backend)
	fmt.Fprintf(&b, "%s: %s\n", labelStatus, a.status())
	fmt.Fprintf(&b, "%s: %.2f\n", labelScore, a.Extraction.Confidence)
	if a.Extraction.Method != "" {
		fmt.Fprintf(&b, "%s: %s\n", labelMethod, a.Extraction.Method)
	}
	fmt.Fprintf(&b, "\n%s:\n", labelFields)
	for _, f := range extraction.FieldOrder {
		v, ok := a.Extraction.Fields.Get(f)
		if !ok {
			v = "-"
		}
		fmt.Fprintf(&b, "%s: %s\n", f, v)
	}
	fmt.Fprintf(&b, "\n%s:\n%s\n", labelText, a.Outcome.Text)
	return []byte(b.String()), nil
}

const sheetName = "Result"

func buildWorkbook(a Artifact) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	rows := [][2]string{
		{"Field", "Value"},
		{labelTime, a.Timestamp.Format(timeLayout)},
		{labelFilename, a.OriginalFilename},
		{labelModel, string(a.Outcome.Backend)},
		{labelStatus, a.status()},
		{labelScore, fmt.Sprintf("%.2f", a.Extraction.Confidence)},
		{labelMethod, string(a.Extraction.Method)},
	}
	for _, field := range extraction.FieldOrder {
		v, _ := a.Extraction.Fields.Get(field)
		rows = append(rows, [2]string{string(field), v})
	}
	rows = append(rows, [2]string{labelText, a.Outcome.Text})

	for i, row := range rows {
		for j, v := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				f.Close()
				return nil, err
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("setting %s: %w", cell, err)
			}
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 22)
	_ = f.SetColWidth(sheetName, "B", "B", 80)
	return f, nil
}
