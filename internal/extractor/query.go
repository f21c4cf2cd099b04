package extractor

import (
	"fmt"
	"strings"

	"github.com/nucleus/bridge-sync/internal/model"
)

// Placeholder renders the nth (1-indexed) bound parameter in a driver's
// native syntax ("?" for MySQL, "$1" for Postgres).
type Placeholder func(n int) string

func questionPlaceholder(_ int) string { return "?" }

func dollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// buildQuery implements the deterministic query construction in spec §4.2
// point 1: incremental_pk compares strictly greater than the watermark,
// incremental_timestamp additionally distinguishes the first call after a
// --force reset (watermark.Inclusive) with >= from every later call (>),
// full reads the whole table ordered by order_by, and an explicit mapping
// query has :w/:n substituted verbatim — the caller owns correctness there.
func buildQuery(m *model.Mapping, wm model.Watermark, n int, ph Placeholder) (string, []interface{}, error) {
	if m.Query != "" {
		return buildCustomQuery(m.Query, wm, n, ph)
	}

	switch m.Transfer.IncrementalMode {
	case model.ModeFull:
		q := fmt.Sprintf("SELECT * FROM %s", m.Table)
		if m.Transfer.OrderBy != "" {
			q += " ORDER BY " + m.Transfer.OrderBy
		}
		return q, nil, nil

	case model.ModeIncrementalPK:
		if wm.Empty() {
			q := fmt.Sprintf("SELECT * FROM %s ORDER BY %s ASC LIMIT %s", m.Table, m.PrimaryKey, ph(1))
			return q, []interface{}{n}, nil
		}
		q := fmt.Sprintf("SELECT * FROM %s WHERE %s > %s ORDER BY %s ASC LIMIT %s",
			m.Table, m.PrimaryKey, ph(1), m.PrimaryKey, ph(2))
		return q, []interface{}{wm.Value, n}, nil

	case model.ModeIncrementalTimestamp:
		if wm.Empty() {
			q := fmt.Sprintf("SELECT * FROM %s ORDER BY %s ASC LIMIT %s", m.Table, m.TimestampColumn, ph(1))
			return q, []interface{}{n}, nil
		}
		op := ">"
		if wm.Inclusive {
			op = ">="
		}
		q := fmt.Sprintf("SELECT * FROM %s WHERE %s %s %s ORDER BY %s ASC LIMIT %s",
			m.Table, m.TimestampColumn, op, ph(1), m.TimestampColumn, ph(2))
		return q, []interface{}{wm.Value, n}, nil

	default:
		return "", nil, model.Wrap(model.CodeConfigInvalid, false, fmt.Errorf("unsupported incremental_mode %q", m.Transfer.IncrementalMode))
	}
}

// buildCustomQuery substitutes :w and :n tokens, in order of appearance,
// with driver-native placeholders and returns the matching bound args.
func buildCustomQuery(raw string, wm model.Watermark, n int, ph Placeholder) (string, []interface{}, error) {
	var args []interface{}
	var sb strings.Builder
	pos := 0
	for i := 0; i < len(raw); {
		switch {
		case strings.HasPrefix(raw[i:], ":w"):
			pos++
			sb.WriteString(ph(pos))
			args = append(args, wm.Value)
			i += 2
		case strings.HasPrefix(raw[i:], ":n"):
			pos++
			sb.WriteString(ph(pos))
			args = append(args, n)
			i += 2
		default:
			sb.WriteByte(raw[i])
			i++
		}
	}
	return sb.String(), args, nil
}
