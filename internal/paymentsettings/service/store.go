package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paygate/internal/config"
	"github.com/smallbiznis/paygate/internal/migration"
	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"github.com/smallbiznis/paygate/internal/paymentsettings/domain"
	"github.com/smallbiznis/paygate/internal/paymentsettings/masking"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   domain.Repository
	Cfg    config.Config
	Schema migration.Applied
}

// Store is the copy-on-write settings store. Readers load the current
// snapshot without locking; writers serialize on mu, persist, then swap.
type Store struct {
	db     *gorm.DB
	log    *zap.Logger
	repo   domain.Repository
	genID  *snowflake.Node
	cipher *sealer
	env    map[paymentdomain.ProviderID]paymentdomain.Credentials
	now    func() time.Time

	mu      sync.Mutex
	current atomic.Pointer[domain.Snapshot]
}

func New(p Params) (*Store, error) {
	store := NewStore(p.DB, p.Log, p.GenID, p.Repo, p.Cfg.Payments)
	if err := store.Load(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

// NewStore builds an empty store. Call Load before use.
func NewStore(db *gorm.DB, log *zap.Logger, genID *snowflake.Node, repo domain.Repository, env config.PaymentsEnv) *Store {
	s := &Store{
		db:     db,
		log:    log.Named("paymentsettings.store"),
		repo:   repo,
		genID:  genID,
		cipher: newSealer(env.SettingsSecret),
		env:    envCredentials(env),
		now:    time.Now,
	}
	s.current.Store((*domain.Snapshot)(nil).Clone())
	return s
}

func envCredentials(env config.PaymentsEnv) map[paymentdomain.ProviderID]paymentdomain.Credentials {
	out := make(map[paymentdomain.ProviderID]paymentdomain.Credentials, len(env.Credentials))
	for name, creds := range env.Credentials {
		id, err := paymentdomain.ParseProviderID(name)
		if err != nil {
			continue
		}
		out[id] = paymentdomain.Credentials{
			APIKey:        creds.APIKey,
			SecretKey:     creds.SecretKey,
			BaseURL:       creds.BaseURL,
			WebhookURL:    creds.WebhookURL,
			WebhookSecret: creds.WebhookSecret,
		}
	}
	return out
}

// Snapshot returns the current immutable snapshot.
func (s *Store) Snapshot() *domain.Snapshot {
	return s.current.Load()
}

// Load replaces the snapshot with what is persisted. Rows that cannot be
// decrypted are skipped and logged.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().Clone()
	next.ActiveProvider = ""
	next.Credentials = map[paymentdomain.ProviderID]paymentdomain.Credentials{}
	next.UpdatedAt = map[paymentdomain.ProviderID]time.Time{}

	setting, err := s.repo.GetSetting(ctx, s.db, domain.SettingActiveProvider)
	if err != nil {
		return fmt.Errorf("load active provider: %w", err)
	}
	if setting != nil {
		id, perr := paymentdomain.ParseProviderID(setting.Value)
		if perr != nil {
			s.log.Warn("ignoring persisted active provider", zap.String("value", setting.Value))
		} else {
			next.ActiveProvider = id
		}
	}

	rows, err := s.repo.ListCredentials(ctx, s.db)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	for _, row := range rows {
		id, perr := paymentdomain.ParseProviderID(row.Provider)
		if perr != nil {
			continue
		}
		creds, derr := s.decode(row.Config)
		if derr != nil {
			s.log.Warn("skipping stored credentials", zap.String("provider", row.Provider), zap.Error(derr))
			continue
		}
		next.Credentials[id] = creds
		next.UpdatedAt[id] = row.UpdatedAt
	}

	next.LoadedAt = s.now().UTC()
	s.current.Store(next)
	return nil
}

// ActiveProvider returns the persisted selection, if any.
func (s *Store) ActiveProvider() (paymentdomain.ProviderID, bool) {
	snap := s.current.Load()
	return snap.ActiveProvider, snap.ActiveProvider != ""
}

// SetActiveProvider persists id before it becomes visible to readers.
func (s *Store) SetActiveProvider(ctx context.Context, id paymentdomain.ProviderID) error {
	if _, err := paymentdomain.ParseProviderID(string(id)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().Clone()
	next.ActiveProvider = id

	err := s.repo.UpsertSetting(ctx, s.db, &domain.Setting{
		Key:       domain.SettingActiveProvider,
		Value:     string(id),
		UpdatedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("persist active provider: %w", err)
	}

	s.current.Store(next)
	s.log.Info("active payment provider changed", zap.String("provider", string(id)), zap.Int64("version", next.Version))
	return nil
}

// StoredCredentials returns the credentials kept in the store, without env fallback.
func (s *Store) StoredCredentials(id paymentdomain.ProviderID) (paymentdomain.Credentials, bool) {
	creds, ok := s.current.Load().Credentials[id]
	return creds, ok
}

// EffectiveCredentials overlays stored credentials on the env defaults.
func (s *Store) EffectiveCredentials(id paymentdomain.ProviderID) paymentdomain.Credentials {
	stored := s.current.Load().Credentials[id]
	return stored.Merge(s.env[id])
}

// IsConfigured reports whether any credential material is known for id.
func (s *Store) IsConfigured(id paymentdomain.ProviderID) bool {
	return !s.EffectiveCredentials(id).IsZero()
}

// SetCredentials encrypts and persists creds for id, replacing what was stored.
func (s *Store) SetCredentials(ctx context.Context, id paymentdomain.ProviderID, creds paymentdomain.Credentials) (domain.CredentialsView, error) {
	if _, err := paymentdomain.ParseProviderID(string(id)); err != nil {
		return domain.CredentialsView{}, err
	}
	creds = normalizeCredentials(creds)
	if creds.IsZero() {
		return domain.CredentialsView{}, domain.ErrInvalidCredentials
	}

	payload, err := json.Marshal(creds)
	if err != nil {
		return domain.CredentialsView{}, domain.ErrInvalidCredentials
	}
	sealed, err := s.cipher.seal(payload)
	if err != nil {
		return domain.CredentialsView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.repo.FindCredentials(ctx, s.db, string(id))
	if err != nil {
		return domain.CredentialsView{}, err
	}

	now := s.now().UTC()
	row := domain.ProviderCredentials{
		ID:        s.genID.Generate().Int64(),
		Provider:  string(id),
		Config:    sealed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
	}
	if err := s.repo.UpsertCredentials(ctx, s.db, &row); err != nil {
		return domain.CredentialsView{}, fmt.Errorf("persist credentials: %w", err)
	}

	next := s.current.Load().Clone()
	next.Credentials[id] = creds
	next.UpdatedAt[id] = now
	s.current.Store(next)

	action := "rotated"
	if existing == nil {
		action = "created"
	}
	s.log.Info("provider credentials "+action, zap.String("provider", string(id)))
	return viewOf(id, creds, now, true), nil
}

// CredentialsView returns the masked effective credentials of id.
func (s *Store) CredentialsView(id paymentdomain.ProviderID) domain.CredentialsView {
	snap := s.current.Load()
	effective := s.EffectiveCredentials(id)
	updatedAt, stored := snap.UpdatedAt[id]
	return viewOf(id, effective, updatedAt, stored || !effective.IsZero())
}

func viewOf(id paymentdomain.ProviderID, creds paymentdomain.Credentials, updatedAt time.Time, configured bool) domain.CredentialsView {
	masked := masking.MaskCredentials(creds)
	view := domain.CredentialsView{
		Provider:         id,
		Configured:       configured && !creds.IsZero(),
		APIKey:           masked.APIKey,
		SecretKey:        masked.SecretKey,
		BaseURL:          masked.BaseURL,
		WebhookURL:       masked.WebhookURL,
		WebhookSecretSet: creds.WebhookSecret != "",
	}
	if !updatedAt.IsZero() {
		ts := updatedAt
		view.UpdatedAt = &ts
	}
	return view
}

func (s *Store) decode(raw []byte) (paymentdomain.Credentials, error) {
	plain, err := s.cipher.open(raw)
	if err != nil {
		return paymentdomain.Credentials{}, err
	}
	var creds paymentdomain.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return paymentdomain.Credentials{}, domain.ErrDecryptFailed
	}
	return creds, nil
}

func normalizeCredentials(creds paymentdomain.Credentials) paymentdomain.Credentials {
	return paymentdomain.Credentials{
		APIKey:        strings.TrimSpace(creds.APIKey),
		SecretKey:     strings.TrimSpace(creds.SecretKey),
		BaseURL:       strings.TrimRight(strings.TrimSpace(creds.BaseURL), "/"),
		WebhookURL:    strings.TrimSpace(creds.WebhookURL),
		WebhookSecret: strings.TrimSpace(creds.WebhookSecret),
	}
}

var _ paymentdomain.CredentialsResolver = (*Store)(nil)
