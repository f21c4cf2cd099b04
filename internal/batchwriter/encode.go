package batchwriter

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nucleus/bridge-sync/internal/model"
)

// encodeRecordLine renders one record as a single canonical JSON line with
// fields emitted in fieldOrder (spec §4.3: "within one run the field order
// is fixed from the first record"). A field absent on this record is
// reconciled with an explicit null (spec §3 Batch invariant) rather than
// dropped, so every line in an artifact shares one schema.
func encodeRecordLine(rec model.Record, fieldOrder []string) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	for i, field := range fieldOrder {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(field)
		if err != nil {
			return nil, fmt.Errorf("encode field name %q: %w", field, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		val, ok := rec[field]
		if !ok {
			buf.WriteString("null")
			continue
		}
		valBytes, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", field, err)
		}
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
