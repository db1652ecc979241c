package store

import (
	"context"
	"time"

	"github.com/Dalaqa25/automation-runner/internal/credentials"
)

// Store defines the persistence layer contract. All implementations must
// be safe for concurrent use.
type Store interface {
	// User automations
	CreateAutomation(ctx context.Context, a *UserAutomation) error
	GetAutomation(ctx context.Context, userID, automationID string) (*UserAutomation, error)
	UpdateAutomation(ctx context.Context, userID, automationID string, update UserAutomationUpdate) error
	ListAutomations(ctx context.Context, filter UserAutomationFilter) ([]*UserAutomation, error)
	DeleteAutomation(ctx context.Context, userID, automationID string) error
	RecordRun(ctx context.Context, userID, automationID string, ranAt time.Time) error

	// UpdateCredentialTokens satisfies internal/credentials.Store: it is
	// the write-back path the refresher uses after rotating a token.
	UpdateCredentialTokens(ctx context.Context, userID, automationID, provider string, tokens credentials.TokenSet) error

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, userID, automationID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Templates
	StoreTemplate(ctx context.Context, tpl *WorkflowTemplate) error
	GetTemplate(ctx context.Context, name, version string) (*WorkflowTemplate, error)
	ListTemplates(ctx context.Context, filter TemplateFilter) ([]*WorkflowTemplate, error)

	// Secrets. Satisfies internal/secrets.SecretStore: values are opaque
	// ciphertext blobs the vault encrypts/decrypts, never plaintext.
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
