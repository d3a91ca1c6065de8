package llmdispatch

import (
	"net/http"
	"time"
)

// ArtifactStore persists per-request artifacts. Implementations must not
// block the caller and must be safe for concurrent use; write failures are
// theirs to log.
type ArtifactStore interface {
	// WriteMetadata records the request and the response status of one
	// attempt, replacing the previous attempt's record.
	WriteMetadata(ref ArtifactRef, meta ResponseMeta)

	// AppendChunk appends one raw stream chunk to the request transcript.
	AppendChunk(ref ArtifactRef, raw []byte)

	// WriteResult stores the final text of a successful request.
	WriteResult(ref ArtifactRef, text string)
}

// ArtifactRef identifies the artifacts of one request.
type ArtifactRef struct {
	ID         string
	Label      string
	Bucket     Bucket
	Submitted  time.Time
	Structured bool
	Request    ProviderRequest
}

// ResponseMeta is the per-attempt response metadata.
type ResponseMeta struct {
	Attempt    int         `json:"attempt"`
	StatusCode int         `json:"status_code,omitempty"`
	Header     http.Header `json:"header,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type noopArtifactStore struct{}

func (noopArtifactStore) WriteMetadata(ArtifactRef, ResponseMeta) {}
func (noopArtifactStore) AppendChunk(ArtifactRef, []byte)         {}
func (noopArtifactStore) WriteResult(ArtifactRef, string)         {}
