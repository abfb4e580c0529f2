package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PaymentsConfig is the hot-reloadable part of the payment configuration.
type PaymentsConfig struct {
	USSD         USSDConfig         `mapstructure:"ussd"`
	ProviderHTTP ProviderHTTPConfig `mapstructure:"provider_http"`
}

type USSDConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Timeout        time.Duration `mapstructure:"timeout"`
	TriggerTimeout time.Duration `mapstructure:"trigger_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ProviderHTTPConfig tunes vendor HTTP calls and their circuit breakers.
type ProviderHTTPConfig struct {
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxHalfOpenRequests uint32        `mapstructure:"max_half_open_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

func DefaultPaymentsConfig() PaymentsConfig {
	return PaymentsConfig{
		USSD: USSDConfig{
			PollInterval:   5 * time.Second,
			Timeout:        5 * time.Minute,
			TriggerTimeout: 30 * time.Second,
			RequestTimeout: 10 * time.Second,
		},
		ProviderHTTP: ProviderHTTPConfig{
			Timeout:             15 * time.Second,
			MaxHalfOpenRequests: 1,
			Interval:            time.Minute,
			OpenTimeout:         30 * time.Second,
			ConsecutiveFailures: 5,
		},
	}
}

type PaymentsConfigHolder struct {
	current atomic.Value // holds PaymentsConfig
}

// NewStaticPaymentsConfigHolder returns a holder that never reloads.
func NewStaticPaymentsConfigHolder(cfg PaymentsConfig) *PaymentsConfigHolder {
	holder := &PaymentsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPaymentsConfigHolder() (*PaymentsConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("payments")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/paygate")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPaymentsConfig()
	v.SetDefault("payments.ussd.poll_interval", defaults.USSD.PollInterval)
	v.SetDefault("payments.ussd.timeout", defaults.USSD.Timeout)
	v.SetDefault("payments.ussd.trigger_timeout", defaults.USSD.TriggerTimeout)
	v.SetDefault("payments.ussd.request_timeout", defaults.USSD.RequestTimeout)
	v.SetDefault("payments.provider_http.timeout", defaults.ProviderHTTP.Timeout)
	v.SetDefault("payments.provider_http.max_half_open_requests", defaults.ProviderHTTP.MaxHalfOpenRequests)
	v.SetDefault("payments.provider_http.interval", defaults.ProviderHTTP.Interval)
	v.SetDefault("payments.provider_http.open_timeout", defaults.ProviderHTTP.OpenTimeout)
	v.SetDefault("payments.provider_http.consecutive_failures", defaults.ProviderHTTP.ConsecutiveFailures)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := decodePaymentsConfig(v)
	if err != nil {
		return nil, err
	}
	if err := validatePaymentsConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticPaymentsConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePaymentsConfig(v)
		if err != nil {
			log.Printf("[payments-config] reload failed: %v", err)
			return
		}
		if err := validatePaymentsConfig(updated); err != nil {
			log.Printf("[payments-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[payments-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PaymentsConfigHolder) Get() PaymentsConfig {
	return h.current.Load().(PaymentsConfig)
}

// decodePaymentsConfig goes through AllSettings so partial files still pick up
// the leaf defaults.
func decodePaymentsConfig(v *viper.Viper) (PaymentsConfig, error) {
	var root struct {
		Payments PaymentsConfig `mapstructure:"payments"`
	}
	if err := v.Unmarshal(&root); err != nil {
		return PaymentsConfig{}, err
	}
	return root.Payments, nil
}

func validatePaymentsConfig(cfg PaymentsConfig) error {
	if cfg.USSD.PollInterval <= 0 {
		return errors.New("payments.ussd.poll_interval must be positive")
	}
	if cfg.USSD.Timeout < cfg.USSD.PollInterval {
		return errors.New("payments.ussd.timeout must not be shorter than poll_interval")
	}
	if cfg.USSD.TriggerTimeout <= 0 || cfg.USSD.RequestTimeout <= 0 {
		return errors.New("payments.ussd trigger and request timeouts must be positive")
	}
	return nil
}
