package repocapsule

import (
	"github.com/sievio/repocapsule/chunker"
	"github.com/sievio/repocapsule/config"
	"github.com/sievio/repocapsule/fingerprint"
	"github.com/sievio/repocapsule/httpsafe"
	"github.com/sievio/repocapsule/plan"
)

// These re-export the sentinel errors owned by the sub-packages that
// actually detect and wrap them, so callers can errors.Is/As against a
// single repocapsule.ErrX set without reaching into plan/config/
// chunker/fingerprint/httpsafe themselves. Each one is wrapped with %w
// at its real point of origin; see that package for the call site.
var (
	// ErrUnknownSourceKind is returned (wrapped in a warning, not
	// aborting the run) when a SourceSpec names a kind with no
	// registered factory. See plan.SourceRegistry.Build.
	ErrUnknownSourceKind = plan.ErrUnknownSourceKind

	// ErrUnknownSinkKind is returned (wrapped in a warning, not aborting
	// the run) when a SinkSpec names a kind with no registered factory.
	// See plan.SinkRegistry.Build.
	ErrUnknownSinkKind = plan.ErrUnknownSinkKind

	// ErrScorerRequired is returned when QC mode is inline or advisory
	// but no quality scorer could be resolved. See config.Validate and
	// plan.Builder.prepareQC.
	ErrScorerRequired = config.ErrScorerRequired

	// ErrSinkPathCollision is returned when the primary JSONL sink and a
	// prompt_text sink resolve to the same filesystem path. See
	// plan.Builder.Build.
	ErrSinkPathCollision = plan.ErrSinkPathCollision

	// ErrLSHParamMismatch is returned when an LSH store is reopened with
	// parameters that differ from those recorded in its metadata table.
	// See fingerprint.OpenLSHStore.
	ErrLSHParamMismatch = fingerprint.ErrParamMismatch

	// ErrInvalidChunkPolicy is returned when a chunker.Policy violates
	// its sizing invariants. See chunker.Policy.Validate.
	ErrInvalidChunkPolicy = chunker.ErrInvalidChunkPolicy

	// ErrSignatureLength is returned when a MinHash signature handed to
	// the LSH store does not match the configured n_perm. See
	// fingerprint.LSHStore.
	ErrSignatureLength = fingerprint.ErrSignatureLength

	// ErrUnsafeAddress is returned when an outbound HTTP request would
	// resolve to a private/reserved address and no allow-list covers
	// it. See httpsafe.Client.
	ErrUnsafeAddress = httpsafe.ErrUnsafeAddress
)
