// Package typecoerce implements the canonical wire-form coercion table from
// spec.md §6.2: turning a raw MQTT payload or OPC-UA value into the
// message's declared data_type, and back.
package typecoerce

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/armorclaw/iobridge/internal/bridgeerr"
	"github.com/armorclaw/iobridge/internal/model"
)

// Coerce validates raw against dt and returns its canonical string form
// (the form stored as Message.Value). Failures are always a
// *bridgeerr.Error with KindTypeCoercion — Permanent per spec.md §6.2.
func Coerce(dt model.DataType, raw string) (string, error) {
	switch dt {
	case model.TypeBoolean:
		return coerceBoolean(raw)
	case model.TypeInt32:
		return coerceInt32(raw)
	case model.TypeFloat:
		return coerceFloat(raw, 32)
	case model.TypeDouble:
		return coerceFloat(raw, 64)
	case model.TypeString:
		return raw, nil
	case model.TypeDateTime:
		return coerceDateTime(raw)
	case model.TypeJSON:
		return coerceJSON(raw)
	default:
		return "", bridgeerr.TypeCoercion(fmt.Sprintf("unknown data_type %q", dt), nil)
	}
}

func coerceBoolean(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true":
		return "true", nil
	case "false":
		return "false", nil
	default:
		return "", bridgeerr.TypeCoercion(fmt.Sprintf("cannot coerce %q to Boolean", raw), nil)
	}
}

func coerceInt32(raw string) (string, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return "", bridgeerr.TypeCoercion(fmt.Sprintf("cannot coerce %q to Int32", raw), err)
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return "", bridgeerr.TypeCoercion(fmt.Sprintf("%d out of Int32 range", n), nil)
	}
	return strconv.FormatInt(n, 10), nil
}

func coerceFloat(raw string, bitSize int) (string, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), bitSize)
	if err != nil {
		return "", bridgeerr.TypeCoercion(fmt.Sprintf("cannot coerce %q to float%d", raw, bitSize), err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", bridgeerr.TypeCoercion(fmt.Sprintf("%q is NaN/Inf, rejected", raw), nil)
	}
	if bitSize == 32 {
		if f32 := float32(f); math.IsInf(float64(f32), 0) && !math.IsInf(f, 0) {
			return "", bridgeerr.TypeCoercion(fmt.Sprintf("%q out of float32 range", raw), nil)
		}
	}
	return strconv.FormatFloat(f, 'f', -1, bitSize), nil
}

func coerceDateTime(raw string) (string, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return "", bridgeerr.TypeCoercion(fmt.Sprintf("cannot coerce %q to DateTime (want ISO 8601 with timezone)", raw), err)
	}
	return t.UTC().Format(time.RFC3339), nil
}

func coerceJSON(raw string) (string, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return "", bridgeerr.TypeCoercion(fmt.Sprintf("invalid JSON payload: %v", err), err)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", bridgeerr.TypeCoercion("cannot re-marshal JSON payload", err)
	}
	return string(canonical), nil
}
