package firestore

import (
	"time"

	"github.com/fitglue/journey/pkg/types"
)

// Helper to safely get string from map
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Helper to safely get time from map (handles time.Time from Firestore)
func getTime(m map[string]interface{}, key string) time.Time {
	if v, ok := m[key]; ok {
		if t, ok := v.(time.Time); ok {
			return t.UTC()
		}
	}
	return time.Time{}
}

func getStrings(m map[string]interface{}, key string) []string {
	var out []string
	switch v := m[key].(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, v...)
	}
	return out
}

// --- TokenRecord Converters ---

func TokenRecordToFirestore(r *types.TokenRecord) map[string]interface{} {
	m := map[string]interface{}{
		"subject_id":    r.SubjectID,
		"access_token":  r.AccessToken,
		"refresh_token": r.RefreshToken,
		"expires_at":    r.ExpiresAt.UTC(),
		"created_at":    r.CreatedAt.UTC(),
		"updated_at":    r.UpdatedAt.UTC(),
	}
	if !r.JourneyStartDate.IsZero() {
		m["journey_start_date"] = r.JourneyStartDate.String()
	}
	if len(r.NotificationTokens) > 0 {
		m["fcm_tokens"] = r.NotificationTokens
	}
	return m
}

func FirestoreToTokenRecord(id string, m map[string]interface{}) *types.TokenRecord {
	r := &types.TokenRecord{
		SubjectID:          getString(m, "subject_id"),
		AccessToken:        getString(m, "access_token"),
		RefreshToken:       getString(m, "refresh_token"),
		ExpiresAt:          getTime(m, "expires_at"),
		NotificationTokens: getStrings(m, "fcm_tokens"),
		CreatedAt:          getTime(m, "created_at"),
		UpdatedAt:          getTime(m, "updated_at"),
	}
	if r.SubjectID == "" {
		r.SubjectID = id
	}
	if s := getString(m, "journey_start_date"); s != "" {
		if d, err := types.ParseDate(s); err == nil {
			r.JourneyStartDate = d
		}
	}
	return r
}

// CredentialsToFirestore is the field set replaced by a token refresh.
func CredentialsToFirestore(c types.Credentials, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"access_token":  c.AccessToken,
		"refresh_token": c.RefreshToken,
		"expires_at":    c.ExpiresAt.UTC(),
		"updated_at":    now.UTC(),
	}
}
