package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"gorm.io/gorm"

	dbpkg "pulse/internal/db"
)

// serialize writes the source's rows to w in the requested format.
// Rows stream through in batches; nothing larger than one batch is held
// in memory.
func serialize(tx *gorm.DB, src source, format string, w io.Writer) error {
	switch format {
	case dbpkg.ReportFormatJSON:
		return writeJSON(tx, src, w)
	case dbpkg.ReportFormatCSV:
		return writeCSV(tx, src, w)
	}
	return fmt.Errorf("unknown report format %q", format)
}

// writeJSON emits an array of objects, one per row, with keys in the
// source's documented field order.
func writeJSON(tx *gorm.DB, src source, w io.Writer) error {
	bw := bufio.NewWriter(w)
	fields := src.fields()

	if _, err := bw.WriteString("[\n"); err != nil {
		return err
	}
	first := true
	err := src.forEach(tx, func(values []any) error {
		if !first {
			if _, err := bw.WriteString(",\n"); err != nil {
				return err
			}
		}
		first = false
		if err := bw.WriteByte(' '); err != nil {
			return err
		}
		return writeJSONObject(bw, fields, values)
	})
	if err != nil {
		return err
	}
	if _, err := bw.WriteString("\n]\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// writeJSONObject hand-assembles the object so key order follows the
// field list; encoding/json handles each value.
func writeJSONObject(bw *bufio.Writer, fields []string, values []any) error {
	if err := bw.WriteByte('{'); err != nil {
		return err
	}
	for i, field := range fields {
		if i > 0 {
			if err := bw.WriteByte(','); err != nil {
				return err
			}
		}
		key, err := json.Marshal(field)
		if err != nil {
			return err
		}
		if _, err := bw.Write(key); err != nil {
			return err
		}
		if err := bw.WriteByte(':'); err != nil {
			return err
		}
		val, err := json.Marshal(jsonValue(values[i]))
		if err != nil {
			return err
		}
		if _, err := bw.Write(val); err != nil {
			return err
		}
	}
	return bw.WriteByte('}')
}

// dateOnly marks a calendar-date field so the serializers render it as
// "2006-01-02". The field decides the rendering, not the value: a
// timestamp that happens to land on midnight still serializes RFC 3339.
type dateOnly time.Time

// jsonValue normalizes time values, independent of driver-specific time
// handling.
func jsonValue(v any) any {
	switch t := v.(type) {
	case dateOnly:
		return time.Time(t).UTC().Format("2006-01-02")
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	}
	return v
}

// writeCSV emits a header row of field names followed by one data row per
// record, quoted per RFC 4180 by encoding/csv.
func writeCSV(tx *gorm.DB, src source, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(src.fields()); err != nil {
		return err
	}

	record := make([]string, len(src.fields()))
	err := src.forEach(tx, func(values []any) error {
		for i, v := range values {
			record[i] = csvValue(v)
		}
		return cw.Write(record)
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func csvValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case dateOnly:
		return time.Time(val).UTC().Format("2006-01-02")
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}
