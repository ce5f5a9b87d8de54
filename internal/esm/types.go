package esm

// Field names under which the ESM API reports a record's most recent
// activity. Event rows use the canonical Alert.LastTime column; triggered
// alarms expose triggeredDate instead.
const (
	FieldLastTime      = "Alert.LastTime"
	FieldTriggeredDate = "triggeredDate"
)

// Record is one row returned by an alarm or event query. Field names vary
// by query type, so values are kept as a flat name/value map.
type Record struct {
	Fields map[string]string
}

// LastActivity returns the record's most recent activity timestamp,
// preferring the canonical Alert.LastTime field and falling back to
// triggeredDate. Both are valid shapes of the remote API.
func (r Record) LastActivity() (string, bool) {
	if v, ok := r.Fields[FieldLastTime]; ok && v != "" {
		return v, true
	}
	if v, ok := r.Fields[FieldTriggeredDate]; ok && v != "" {
		return v, true
	}
	return "", false
}

// Device is one entry of the ESM device tree.
type Device struct {
	Name         string `json:"name"`
	DataSourceID string `json:"dsId"`
	TypeID       string `json:"descId"`
}
