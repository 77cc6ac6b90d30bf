package entity

import "time"

type Credential struct {
	APIKey    string
	Signature string
	// ExpiresAt is zero for material that never expires.
	ExpiresAt time.Time
}

func (c Credential) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}

	return !now.Add(margin).Before(c.ExpiresAt)
}

// CredentialKeyFile is the on-disk JSON format of an exchange API key.
type CredentialKeyFile struct {
	Name       string `json:"name"`
	PrivateKey string `json:"privateKey"`
}
