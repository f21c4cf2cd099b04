// Package uploader drives the three-phase handoff to the control plane named
// in spec §4.4: request an upload token, PUT/POST the artifact, notify the
// control plane the object landed. It tracks the state machine named in
// spec §9 Design Notes (NeedToken → HaveToken → Uploading → Uploaded →
// Notifying → Committed, with Failed reachable from any phase once the
// shared retry budget is exhausted). Retry shape is grounded on the
// teacher's rudder-server/warehouse/warehouse.go RetryNotify usage, carried
// over into internal/extractor/sqlbase.go earlier in this pipeline; here the
// backoff policy implements spec §4.4's own formula (2^attempt seconds plus
// jitter, capped at 60s) rather than cenkalti's stock exponential curve.
package uploader

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/nucleus/bridge-sync/internal/controlplane"
	"github.com/nucleus/bridge-sync/internal/model"
	"github.com/nucleus/bridge-sync/internal/obslog"
)

// State is one node of the upload state machine (spec §9).
type State string

const (
	StateNeedToken State = "NeedToken"
	StateHaveToken State = "HaveToken"
	StateUploading State = "Uploading"
	StateUploaded  State = "Uploaded"
	StateNotifying State = "Notifying"
	StateCommitted State = "Committed"
	StateFailed    State = "Failed"
)

// Receipt is returned once an artifact reaches StateCommitted.
type Receipt struct {
	UploadID    string
	State       State
	NotifiedAt  time.Time
	RecordCount int
	Bytes       int64
}

// Uploader owns the per-artifact upload state machine.
type Uploader struct {
	cp     *controlplane.Client
	logger obslog.LoggerI
}

func New(cp *controlplane.Client, logger obslog.LoggerI) *Uploader {
	return &Uploader{cp: cp, logger: logger.Child("uploader")}
}

// Put drives one artifact through every phase of the handoff, sharing a
// single retry budget across the token, upload, and notify calls (spec §4.4:
// "Token requests and notify calls share the retry budget with the object
// upload"). watermarkAfter is the batch's tentative watermark, forwarded to
// the control plane so it can correlate the notification with a position in
// the source even though bridge-sync's own StateStore commit is local.
func (u *Uploader) Put(ctx context.Context, mapping *model.Mapping, artifact *model.TransferArtifact, watermarkAfter string) (*Receipt, error) {
	attempts := mapping.Transfer.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	budget := &retryBudget{max: attempts}
	uploadID := uuid.NewString()
	state := StateNeedToken

	var token controlplane.TokenResponse

	for {
		switch state {
		case StateNeedToken:
			resp, err := u.requestToken(ctx, budget, mapping, artifact, uploadID)
			if err != nil {
				return nil, u.fail(uploadID, state, err)
			}
			token = resp
			state = StateHaveToken

		case StateHaveToken:
			state = StateUploading

		case StateUploading:
			if err := u.uploadObject(ctx, budget, token, artifact); err != nil {
				return nil, u.fail(uploadID, state, err)
			}
			state = StateUploaded

		case StateUploaded:
			state = StateNotifying

		case StateNotifying:
			if err := u.notify(ctx, budget, mapping, artifact, uploadID, watermarkAfter); err != nil {
				return nil, u.fail(uploadID, state, err)
			}
			state = StateCommitted

		case StateCommitted:
			u.logger.Infof("artifact %s committed as upload %s", artifact.Path, uploadID)
			return &Receipt{
				UploadID:    uploadID,
				State:       StateCommitted,
				NotifiedAt:  time.Now(),
				RecordCount: artifact.RecordCount,
				Bytes:       artifact.Bytes,
			}, nil
		}
	}
}

func (u *Uploader) fail(uploadID string, state State, err error) error {
	u.logger.Errorf("upload %s failed in state %s: %v", uploadID, state, err)
	return model.Wrap(model.CodeUploadFailed, false, fmt.Errorf("upload %s failed in state %s: %w", uploadID, state, err))
}

func (u *Uploader) requestToken(ctx context.Context, budget *retryBudget, mapping *model.Mapping, artifact *model.TransferArtifact, uploadID string) (controlplane.TokenResponse, error) {
	var resp controlplane.TokenResponse
	err := u.retry(ctx, budget, "generate-upload-token", func() error {
		r, err := u.cp.GenerateUploadToken(ctx, mapping.SchemaSlug, controlplane.TokenRequest{
			Filename:      filepath.Base(artifact.Path),
			ContentLength: artifact.Bytes,
			ContentType:   "application/x-ndjson",
			Encoding:      "gzip",
			UploadID:      uploadID,
		})
		if err != nil {
			return classifyErr(err)
		}
		resp = r
		return nil
	})
	return resp, err
}

func (u *Uploader) uploadObject(ctx context.Context, budget *retryBudget, token controlplane.TokenResponse, artifact *model.TransferArtifact) error {
	return u.retry(ctx, budget, "upload-object", func() error {
		f, err := os.Open(artifact.Path)
		if err != nil {
			return backoff.Permanent(model.Wrap(model.CodeUploadFailed, false, err))
		}
		defer f.Close()
		return classifyErr(u.cp.Upload(ctx, token, f, artifact.Bytes))
	})
}

func (u *Uploader) notify(ctx context.Context, budget *retryBudget, mapping *model.Mapping, artifact *model.TransferArtifact, uploadID, watermarkAfter string) error {
	return u.retry(ctx, budget, "notify-upload", func() error {
		_, err := u.cp.NotifyUpload(ctx, mapping.SchemaSlug, controlplane.NotifyRequest{
			UploadID:       uploadID,
			RecordCount:    artifact.RecordCount,
			Bytes:          artifact.Bytes,
			WatermarkAfter: watermarkAfter,
		})
		return classifyErr(err)
	})
}

// classifyErr wraps a *model.Error whose Retryable bit is false in
// backoff.Permanent so RetryNotify stops immediately instead of burning the
// shared budget on a failure that will never succeed.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(model.CodedError); ok && !ce.RetryableStatus() {
		return backoff.Permanent(err)
	}
	return err
}

func (u *Uploader) retry(ctx context.Context, budget *retryBudget, label string, fn func() error) error {
	policy := &sharedBackoff{budget: budget}
	return backoff.RetryNotify(fn, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		u.logger.Warnf("%s failed, retrying in %s: %v", label, wait, err)
	})
}

// retryBudget is shared across the token/upload/notify phases of one Put
// call so a flaky token endpoint cannot let a single artifact retry forever.
type retryBudget struct {
	max  int
	used int
}

// sharedBackoff implements backoff.BackOff with the exact schedule spec
// §4.4 names: 2^attempt seconds of base delay plus up to 1s of jitter,
// capped at 60s, stopping once the shared budget is exhausted. Reset is a
// no-op deliberately: backoff.Retry calls it once per RetryNotify
// invocation, and the budget must persist across the three separate
// RetryNotify calls making up one Put.
type sharedBackoff struct {
	budget *retryBudget
}

func (b *sharedBackoff) NextBackOff() time.Duration {
	b.budget.used++
	if b.budget.used > b.budget.max {
		return backoff.Stop
	}
	wait := time.Duration(1<<uint(b.budget.used)) * time.Second
	jitter := time.Duration(rand.Float64() * float64(time.Second))
	total := wait + jitter
	if total > 60*time.Second {
		total = 60 * time.Second
	}
	return total
}

func (b *sharedBackoff) Reset() {}
