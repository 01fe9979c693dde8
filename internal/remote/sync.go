// Package remote implements the synced-session service: ingesting
// encrypted session uploads from authenticated daemons, storing them at
// rest under per-owner envelope crypto, and serving them back out. The
// OAuth handshake and billing-webhook verification a full hosted version
// would need are explicit non-goals here; they're represented as
// interface seams (Authenticator, BillingVerifier) with no implementation.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/thebushidocollective/han/internal/crypto"
	"github.com/thebushidocollective/han/internal/storage"
)

// ErrNotEntitled is returned when a BillingVerifier denies an operation.
var ErrNotEntitled = errors.New("remote: owner not entitled")

// Authenticator resolves an inbound request's owner scope. The concrete
// OAuth/session-token handshake is out of scope here; production
// deployments supply their own implementation.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (ownerScope string, err error)
}

// BillingVerifier gates sync operations on an account's entitlement.
// Billing-webhook verification is out of scope here; a no-op
// implementation that always allows is used when none is configured.
type BillingVerifier interface {
	Allow(ctx context.Context, ownerScope string) (bool, error)
}

// AllowAll is a BillingVerifier that never denies — the default when no
// billing integration is wired.
type AllowAll struct{}

// Allow always returns true.
func (AllowAll) Allow(ctx context.Context, ownerScope string) (bool, error) { return true, nil }

// Service implements the synced-session and envelope-key operations the
// remote daemon exposes, on top of the Postgres-backed RemoteStore. Every
// encrypted field carries its own independently wrapped DEK, derived from
// rootSecret scoped by owner — there is no shared per-tenant key to leak
// across owners.
type Service struct {
	Store      storage.RemoteStore
	Billing    BillingVerifier
	rootSecret string
}

// NewService returns a Service backed by store, deriving every owner's
// master secret from rootSecret. billing may be nil, in which case
// AllowAll is used.
func NewService(store storage.RemoteStore, rootSecret string, billing BillingVerifier) *Service {
	if billing == nil {
		billing = AllowAll{}
	}
	return &Service{Store: store, Billing: billing, rootSecret: rootSecret}
}

func (s *Service) masterSecret(ownerScope string) string {
	return s.rootSecret + ":" + ownerScope
}

// UploadSession encrypts plaintextMessages (and, if present,
// plaintextSummary) under ownerScope's master secret and upserts the
// resulting SyncedSession.
func (s *Service) UploadSession(ctx context.Context, ownerScope, sessionID, plaintextMessages, plaintextSummary, metadata string, messageCount int) error {
	allowed, err := s.Billing.Allow(ctx, ownerScope)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrNotEntitled
	}

	secret := s.masterSecret(ownerScope)

	encMessages, err := crypto.EncryptField(secret, plaintextMessages)
	if err != nil {
		return err
	}
	var encSummary string
	if plaintextSummary != "" {
		encSummary, err = crypto.EncryptField(secret, plaintextSummary)
		if err != nil {
			return err
		}
	}

	return s.Store.UpsertSyncedSession(ctx, storage.SyncedSession{
		ID:                sessionID,
		OwnerScope:        ownerScope,
		EncryptedMessages: encMessages,
		EncryptedSummary:  encSummary,
		MessageCount:      messageCount,
		Metadata:          metadata,
		UpdatedAt:         time.Now().UTC(),
	})
}

// DownloadSession fetches and decrypts a previously uploaded session.
func (s *Service) DownloadSession(ctx context.Context, ownerScope, sessionID string) (messages, summary string, err error) {
	sess, err := s.Store.GetSyncedSession(ctx, sessionID)
	if err != nil {
		return "", "", err
	}
	secret := s.masterSecret(ownerScope)

	messages, err = crypto.DecryptField(secret, sess.EncryptedMessages)
	if err != nil {
		return "", "", err
	}
	if sess.EncryptedSummary != "" {
		summary, err = crypto.DecryptField(secret, sess.EncryptedSummary)
		if err != nil {
			return "", "", err
		}
	}
	return messages, summary, nil
}

// ListSessions returns every synced session for ownerScope (metadata and
// ciphertext only — callers decrypt individually via DownloadSession).
func (s *Service) ListSessions(ctx context.Context, ownerScope string) ([]storage.SyncedSession, error) {
	return s.Store.ListSyncedSessions(ctx, ownerScope)
}

// RotateRootSecret re-wraps every stored session's encrypted fields for
// ownerScope from oldRootSecret to s.rootSecret, leaving every ciphertext
// byte-for-byte unchanged — only the key wrap changes. It records the
// rotation as a new active EncryptionKey version and deactivates the one
// it supersedes.
func (s *Service) RotateRootSecret(ctx context.Context, ownerScope, oldRootSecret string) error {
	oldSecret := oldRootSecret + ":" + ownerScope
	newSecret := s.masterSecret(ownerScope)

	sessions, err := s.Store.ListSyncedSessions(ctx, ownerScope)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		rotatedMessages, err := crypto.RotateFieldKEK(oldSecret, newSecret, sess.EncryptedMessages)
		if err != nil {
			return err
		}
		sess.EncryptedMessages = rotatedMessages
		if sess.EncryptedSummary != "" {
			rotatedSummary, err := crypto.RotateFieldKEK(oldSecret, newSecret, sess.EncryptedSummary)
			if err != nil {
				return err
			}
			sess.EncryptedSummary = rotatedSummary
		}
		sess.UpdatedAt = time.Now().UTC()
		if err := s.Store.UpsertSyncedSession(ctx, sess); err != nil {
			return err
		}
	}

	nextVersion := 1
	if active, err := s.Store.GetActiveEncryptionKey(ctx, ownerScope); err == nil {
		nextVersion = active.Version + 1
		if err := s.Store.DeactivateEncryptionKey(ctx, active.ID); err != nil {
			return err
		}
	} else if !storage.IsNotFound(err) {
		return err
	}

	return s.Store.UpsertEncryptionKey(ctx, storage.EncryptionKey{
		ID:         uuid.NewString(),
		OwnerScope: ownerScope,
		Version:    nextVersion,
		Algorithm:  "AES-256-GCM",
		Active:     true,
		RotatedAt:  timePtr(time.Now().UTC()),
	})
}

func timePtr(t time.Time) *time.Time { return &t }
