package domain

import (
	"time"

	paymentdomain "github.com/smallbiznis/paygate/internal/payment/domain"
	"gorm.io/datatypes"
)

const SettingActiveProvider = "payments.active_provider"

// Setting is a single persisted key/value pair.
type Setting struct {
	Key       string    `json:"key" gorm:"column:setting_key;primaryKey;type:text"`
	Value     string    `json:"value" gorm:"column:setting_value;type:text;not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Setting) TableName() string { return "payment_settings" }

// ProviderCredentials holds the encrypted credentials of one provider.
type ProviderCredentials struct {
	ID        int64          `json:"id" gorm:"primaryKey"`
	Provider  string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_provider_credentials_provider"`
	Config    datatypes.JSON `json:"config" gorm:"not null"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ProviderCredentials) TableName() string { return "payment_provider_credentials" }

// Snapshot is an immutable view of the settings. A new value replaces it on
// every write; holders of an old pointer keep a consistent view.
type Snapshot struct {
	ActiveProvider paymentdomain.ProviderID
	Credentials    map[paymentdomain.ProviderID]paymentdomain.Credentials
	UpdatedAt      map[paymentdomain.ProviderID]time.Time
	Version        int64
	LoadedAt       time.Time
}

// Clone returns a deep copy with Version bumped.
func (s *Snapshot) Clone() *Snapshot {
	next := &Snapshot{
		Credentials: map[paymentdomain.ProviderID]paymentdomain.Credentials{},
		UpdatedAt:   map[paymentdomain.ProviderID]time.Time{},
	}
	if s == nil {
		next.Version = 1
		return next
	}
	next.ActiveProvider = s.ActiveProvider
	next.LoadedAt = s.LoadedAt
	next.Version = s.Version + 1
	for id, creds := range s.Credentials {
		next.Credentials[id] = creds
	}
	for id, ts := range s.UpdatedAt {
		next.UpdatedAt[id] = ts
	}
	return next
}
