package oauth

import "fmt"

// AuthExpiredError means the provider rejected the refresh grant (revoked or
// malformed). The subject has to re-authorize; stored credentials were not touched.
type AuthExpiredError struct {
	SubjectID string
	Err       error
}

func (e *AuthExpiredError) Error() string {
	if e.SubjectID == "" {
		return fmt.Sprintf("re-authorization required: %v", e.Err)
	}
	return fmt.Sprintf("re-authorization required for subject %s: %v", e.SubjectID, e.Err)
}

func (e *AuthExpiredError) Unwrap() error {
	return e.Err
}
