package overlay

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Field names of the system-managed attributes in the serialized record.
const (
	KeyID                 = "id"
	KeyType               = "type"
	KeyOwnerID            = "ownerId"
	KeyPeriod             = "period"
	KeyCreatedAt          = "createdAt"
	KeyModifiedAt         = "modifiedAt"
	KeyExpiresAt          = "expiresAt"
	KeyApprovalStatus     = "approvalStatus"
	KeyApprovedBy         = "approvedBy"
	KeyApprovedAt         = "approvedAt"
	KeyRejectedBy         = "rejectedBy"
	KeyRejectedAt         = "rejectedAt"
	KeyMotive             = "motive"
	KeyOriginalExternalID = "originalExternalId"
)

// timeLayout keeps microsecond precision in the durable mirror.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

var systemKeys = map[string]struct{}{
	KeyID: {}, KeyType: {}, KeyOwnerID: {}, KeyPeriod: {},
	KeyCreatedAt: {}, KeyModifiedAt: {}, KeyExpiresAt: {},
	KeyApprovalStatus: {}, KeyApprovedBy: {}, KeyApprovedAt: {},
	KeyRejectedBy: {}, KeyRejectedAt: {}, KeyMotive: {},
	KeyOriginalExternalID: {},
}

// IsSystemKey reports whether key names a system-managed attribute.
func IsSystemKey(key string) bool {
	_, ok := systemKeys[key]
	return ok
}

// Record is a temporary schedule entry. Fields carries the caller-supplied
// attributes (product code, supplier, quantity, ...); everything else is
// maintained by the store.
type Record struct {
	ID                 string
	Type               string
	OwnerID            string
	Period             string
	CreatedAt          time.Time
	ModifiedAt         time.Time
	ExpiresAt          time.Time
	ApprovalStatus     ApprovalStatus
	ApprovedBy         string
	ApprovedAt         *time.Time
	RejectedBy         string
	RejectedAt         *time.Time
	Motive             string
	OriginalExternalID string
	Fields             map[string]any
}

// IsMask reports whether the record masks a base record.
func (r Record) IsMask() bool {
	return r.OriginalExternalID != ""
}

// ExpiredAt reports whether the record is no longer visible at t.
func (r Record) ExpiredAt(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}

// Clone returns a deep-enough copy that callers may mutate freely.
func (r Record) Clone() Record {
	out := r
	out.Fields = maps.Clone(r.Fields)
	if out.Fields == nil {
		out.Fields = map[string]any{}
	}
	if r.ApprovedAt != nil {
		at := *r.ApprovedAt
		out.ApprovedAt = &at
	}
	if r.RejectedAt != nil {
		at := *r.RejectedAt
		out.RejectedAt = &at
	}
	return out
}

// Map flattens the record into a single object. System attributes win over
// caller fields with the same name.
func (r Record) Map() map[string]any {
	out := make(map[string]any, len(r.Fields)+10)
	for k, v := range r.Fields {
		if IsSystemKey(k) {
			continue
		}
		out[k] = v
	}
	out[KeyID] = r.ID
	out[KeyType] = r.Type
	out[KeyOwnerID] = r.OwnerID
	out[KeyPeriod] = r.Period
	out[KeyCreatedAt] = formatTime(r.CreatedAt)
	out[KeyModifiedAt] = formatTime(r.ModifiedAt)
	out[KeyExpiresAt] = formatTime(r.ExpiresAt)
	if r.ApprovalStatus != "" {
		out[KeyApprovalStatus] = string(r.ApprovalStatus)
	}
	if r.ApprovedBy != "" {
		out[KeyApprovedBy] = r.ApprovedBy
	}
	if r.ApprovedAt != nil {
		out[KeyApprovedAt] = formatTime(*r.ApprovedAt)
	}
	if r.RejectedBy != "" {
		out[KeyRejectedBy] = r.RejectedBy
	}
	if r.RejectedAt != nil {
		out[KeyRejectedAt] = formatTime(*r.RejectedAt)
	}
	if r.Motive != "" {
		out[KeyMotive] = r.Motive
	}
	if r.OriginalExternalID != "" {
		out[KeyOriginalExternalID] = r.OriginalExternalID
	}
	return out
}

// MarshalJSON encodes the flattened record.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

// UnmarshalJSON splits a flattened object back into system attributes and
// caller fields. Dates are parsed from ISO-8601 strings.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rec := Record{Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		if !IsSystemKey(k) {
			rec.Fields[k] = v
		}
	}
	rec.ID = stringValue(raw[KeyID])
	rec.Type = stringValue(raw[KeyType])
	rec.OwnerID = stringValue(raw[KeyOwnerID])
	rec.Period = stringValue(raw[KeyPeriod])
	rec.ApprovedBy = stringValue(raw[KeyApprovedBy])
	rec.RejectedBy = stringValue(raw[KeyRejectedBy])
	rec.Motive = stringValue(raw[KeyMotive])
	rec.OriginalExternalID = stringValue(raw[KeyOriginalExternalID])
	if s := stringValue(raw[KeyApprovalStatus]); s != "" {
		status, err := ParseApprovalStatus(s)
		if err != nil {
			return err
		}
		rec.ApprovalStatus = status
	}

	var err error
	if rec.CreatedAt, err = parseTime(raw[KeyCreatedAt]); err != nil {
		return fmt.Errorf("overlay: %s: %w", KeyCreatedAt, err)
	}
	if rec.ModifiedAt, err = parseTime(raw[KeyModifiedAt]); err != nil {
		return fmt.Errorf("overlay: %s: %w", KeyModifiedAt, err)
	}
	if rec.ExpiresAt, err = parseTime(raw[KeyExpiresAt]); err != nil {
		return fmt.Errorf("overlay: %s: %w", KeyExpiresAt, err)
	}
	if rec.ApprovedAt, err = parseOptionalTime(raw[KeyApprovedAt]); err != nil {
		return fmt.Errorf("overlay: %s: %w", KeyApprovedAt, err)
	}
	if rec.RejectedAt, err = parseOptionalTime(raw[KeyRejectedAt]); err != nil {
		return fmt.Errorf("overlay: %s: %w", KeyRejectedAt, err)
	}
	*r = rec
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(v any) (time.Time, error) {
	s := stringValue(v)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func parseOptionalTime(v any) (*time.Time, error) {
	t, err := parseTime(v)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}
