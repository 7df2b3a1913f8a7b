package firestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fitglue/journey/pkg/types"
)

func TestFirestoreToTokenRecord(t *testing.T) {
	expires := time.Date(2025, 12, 20, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		id   string
		in   map[string]interface{}
		want types.TokenRecord
	}{
		{
			name: "full document",
			id:   "2268957",
			in: map[string]interface{}{
				"subject_id":         "2268957",
				"access_token":       "a",
				"refresh_token":      "r",
				"expires_at":         expires,
				"journey_start_date": "2025-12-20",
				"fcm_tokens":         []interface{}{"tok-1", "", "tok-2"},
			},
			want: types.TokenRecord{
				SubjectID:          "2268957",
				AccessToken:        "a",
				RefreshToken:       "r",
				ExpiresAt:          expires,
				JourneyStartDate:   types.Date{Year: 2025, Month: time.December, Day: 20},
				NotificationTokens: []string{"tok-1", "tok-2"},
			},
		},
		{
			name: "subject id falls back to document id",
			id:   "42",
			in: map[string]interface{}{
				"access_token":       "a",
				"journey_start_date": "not-a-date",
			},
			want: types.TokenRecord{SubjectID: "42", AccessToken: "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FirestoreToTokenRecord(tt.id, tt.in)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestTokenRecordToFirestore_OmitsEmptyOptionalFields(t *testing.T) {
	m := TokenRecordToFirestore(&types.TokenRecord{SubjectID: "1"})

	assert.NotContains(t, m, "journey_start_date")
	assert.NotContains(t, m, "fcm_tokens")
	assert.Equal(t, "1", m["subject_id"])
}

func TestCredentialsToFirestore(t *testing.T) {
	now := time.Date(2025, 12, 20, 12, 0, 0, 0, time.FixedZone("X", 3600))
	m := CredentialsToFirestore(types.Credentials{AccessToken: "a", RefreshToken: "r", ExpiresAt: now}, now)

	assert.Len(t, m, 4)
	assert.Equal(t, now.UTC(), m["expires_at"])
	assert.Equal(t, now.UTC(), m["updated_at"])
}
