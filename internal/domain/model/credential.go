package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedMapping is returned by DecodeMapping when content is not a JSON
// object of credential records. Adapters wrap it with their own sentinel.
var ErrMalformedMapping = errors.New("content is not a credential mapping")

// CredentialRecord is the persisted state for a single athlete. The athlete ID
// is the key of the enclosing CredentialMapping and is not repeated here.
type CredentialRecord struct {
	DisplayName       string     `json:"display_name"`
	RefreshCredential string     `json:"refresh_credential"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

// UnmarshalJSON accepts both the current field names and the legacy
// {"name", "refresh_token"} layout written by earlier deployments.
func (r *CredentialRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		DisplayName       *string    `json:"display_name"`
		RefreshCredential *string    `json:"refresh_credential"`
		UpdatedAt         *time.Time `json:"updated_at"`
		LegacyName        *string    `json:"name"`
		LegacyRefresh     *string    `json:"refresh_token"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	rec := CredentialRecord{UpdatedAt: raw.UpdatedAt}
	switch {
	case raw.DisplayName != nil:
		rec.DisplayName = *raw.DisplayName
	case raw.LegacyName != nil:
		rec.DisplayName = *raw.LegacyName
	}
	switch {
	case raw.RefreshCredential != nil:
		rec.RefreshCredential = *raw.RefreshCredential
	case raw.LegacyRefresh != nil:
		rec.RefreshCredential = *raw.LegacyRefresh
	}

	*r = rec
	return nil
}

// CredentialMapping maps an athlete ID to its credential record. It is the
// entire persisted state, both locally and in the remote mirror.
type CredentialMapping map[string]CredentialRecord

// Clone returns a shallow copy of the mapping. A nil mapping clones to an
// empty, non-nil mapping.
func (m CredentialMapping) Clone() CredentialMapping {
	out := make(CredentialMapping, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// With returns a copy of the mapping with userID set to rec. The receiver is
// not modified.
func (m CredentialMapping) With(userID string, rec CredentialRecord) CredentialMapping {
	out := m.Clone()
	out[userID] = rec
	return out
}

// EncodeMapping serializes the mapping as an indented JSON object with a
// trailing newline. Keys are sorted by encoding/json, so output is stable.
func EncodeMapping(m CredentialMapping) ([]byte, error) {
	if m == nil {
		m = CredentialMapping{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode credential mapping: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeMapping parses content produced by EncodeMapping. Empty content and a
// literal null decode to an empty mapping. Anything else that is not an object
// of objects yields ErrMalformedMapping and no partial result.
func DecodeMapping(data []byte) (CredentialMapping, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return CredentialMapping{}, nil
	}

	var m CredentialMapping
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMapping, err)
	}
	if m == nil {
		m = CredentialMapping{}
	}
	for userID, rec := range m {
		if userID == "" {
			return nil, fmt.Errorf("%w: empty user id", ErrMalformedMapping)
		}
		if rec.RefreshCredential == "" {
			return nil, fmt.Errorf("%w: record %q has no refresh credential", ErrMalformedMapping, userID)
		}
	}
	return m, nil
}

// RemoteSnapshot is the mapping as last read from the remote mirror together
// with the content version (blob SHA) it was read at.
type RemoteSnapshot struct {
	Mapping CredentialMapping
	Version string
}
