package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field names one of the structured values pulled out of recognized text.
type Field string

const (
	CustomerName      Field = "customer_name"
	CustomerID        Field = "customer_id"
	TransactionID     Field = "transaction_id"
	TransactionAmount Field = "transaction_amount"
	PaymentDate       Field = "payment_date"
	DocumentTimestamp Field = "document_timestamp"
	CustomerCountry   Field = "customer_country"
)

// FieldOrder is the canonical order of every field. Table rows with three or
// more cells are read positionally in this order.
var FieldOrder = []Field{
	CustomerName,
	CustomerID,
	TransactionID,
	TransactionAmount,
	PaymentDate,
	DocumentTimestamp,
	CustomerCountry,
}

// Fields maps a field to its extracted value. A missing key means the field
// was not found.
type Fields map[Field]string

// Get returns the value of f and whether it is present.
func (fs Fields) Get(f Field) (string, bool) {
	v, ok := fs[f]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Count returns how many fields hold a value.
func (fs Fields) Count() int {
	n := 0
	for _, f := range FieldOrder {
		if _, ok := fs.Get(f); ok {
			n++
		}
	}
	return n
}

// Confidence is the fraction of fields that hold a value.
func (fs Fields) Confidence() float64 {
	return float64(fs.Count()) / float64(len(FieldOrder))
}

// MarshalJSON writes every field in canonical order, with null for absent ones.
func (fs Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range FieldOrder {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(string(f))
		buf.Write(key)
		buf.WriteByte(':')
		if v, ok := fs.Get(f); ok {
			val, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("marshaling %s: %w", f, err)
			}
			buf.Write(val)
		} else {
			buf.WriteString("null")
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the object written by MarshalJSON. Null and empty
// values are dropped, and so are unknown keys.
func (fs *Fields) UnmarshalJSON(data []byte) error {
	var raw map[string]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Fields, len(raw))
	for _, f := range FieldOrder {
		if v := raw[string(f)]; v != nil && *v != "" {
			out[f] = *v
		}
	}
	*fs = out
	return nil
}

// Method records which phase produced a Result.
type Method string

const (
	MethodTable   Method = "table"
	MethodPattern Method = "pattern"
	MethodNone    Method = "none"
)

// Result is the outcome of a single extraction.
type Result struct {
	Fields     Fields  `json:"fields"`
	Confidence float64 `json:"confidence"`
	Method     Method  `json:"method"`
}
