package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"loadguard/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.RecordFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// ParseJSONMap pulls the known fields out of a loose JSON object, accepting
// the aliases the upstream exporters use.
func ParseJSONMap(obj map[string]interface{}) *normalize.RecordFields {
	fields := &normalize.RecordFields{Extras: map[string]string{}}
	for key, val := range obj {
		fields.Extras[strings.ToLower(key)] = fmt.Sprint(val)
	}
	fields.Kind = firstNonEmpty(fields.Extras, "kind", "type", "record_type")
	fields.TenantID = firstNonEmpty(fields.Extras, "tenant_id", "tenant", "org_id", "club_id")
	fields.AthleteID = firstNonEmpty(fields.Extras, "athlete_id", "athlete", "player_id", "player")
	fields.SessionID = firstNonEmpty(fields.Extras, "session_id", "session")
	fields.SessionType = firstNonEmpty(fields.Extras, "session_type", "activity_type")
	fields.EventDate = firstNonEmpty(fields.Extras, "event_date", "date", "timestamp", "ts")
	fields.RPE = firstNonEmpty(fields.Extras, "rpe")
	fields.Minutes = firstNonEmpty(fields.Extras, "minutes", "duration_min", "duration")
	fields.Load = firstNonEmpty(fields.Extras, "load", "session_load")
	fields.Metric = firstNonEmpty(fields.Extras, "metric", "metric_name")
	fields.Value = firstNonEmpty(fields.Extras, "value", "score")
	fields.ComputedAt = firstNonEmpty(fields.Extras, "computed_at", "recorded_at", "updated_at")
	return fields
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
