package admin

import "aigateway/internal/core"

// CreateCredentialRequest is the body of POST /credentials.
type CreateCredentialRequest struct {
	Provider core.ProviderKind `json:"provider"`
	Secret   string            `json:"secret"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RotateCredentialRequest is the body of PUT /credentials/{id}.
type RotateCredentialRequest struct {
	Secret string `json:"secret"`
}

// CredentialsResponse is the JSON response for GET /credentials.
type CredentialsResponse struct {
	Credentials []core.CredentialInfo `json:"credentials"`
}

// EndpointRequest is the body of POST /endpoints and PUT /endpoints/{name}.
// Name is ignored on update.
type EndpointRequest struct {
	Name         string            `json:"name,omitempty"`
	Provider     core.ProviderKind `json:"provider"`
	Model        string            `json:"model"`
	CredentialID string            `json:"credential_id"`
	Options      core.Options      `json:"options,omitempty"`
}

// EndpointsResponse is the JSON response for endpoint listings.
type EndpointsResponse struct {
	Endpoints []core.Endpoint `json:"endpoints"`
	Version   uint64          `json:"version"`
}

// SnapshotResponse is the JSON response for GET /snapshot.
type SnapshotResponse struct {
	Version     uint64 `json:"version"`
	Digest      string `json:"digest"`
	Endpoints   int    `json:"endpoints"`
	Credentials int    `json:"credentials"`
	Persistent  bool   `json:"persistent"`
}
