package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/thrillee/esmelink/internal/charset"
	"github.com/thrillee/esmelink/pkg/codes"
	"github.com/thrillee/esmelink/pkg/pdu"
)

// ErrMutuallyExclusive is wrapped by validation errors for segmentation modes
// enabled together.
var ErrMutuallyExclusive = errors.New("mutually exclusive")

// Config holds the overall application configuration.
type Config struct {
	LogLevel      string       `envconfig:"LOG_LEVEL"       default:"info"`
	TransportName string       `envconfig:"TRANSPORT_NAME"  default:"smpp_transport"`
	BindsFile     string       `envconfig:"SMPP_BINDS_FILE"`
	Store         StoreConfig
	Bus           BusConfig
	OpsAPI        OpsAPIConfig
	Bind          BindConfig
	Binds         []BindConfig `ignored:"true"`
}

// StoreConfig selects the shared keyspace backend.
type StoreConfig struct {
	Backend       string        `envconfig:"STORE_BACKEND"        default:"redis"`
	RedisAddr     string        `envconfig:"REDIS_ADDR"           default:"localhost:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB"             default:"0"`
	DatabaseURL   string        `envconfig:"DATABASE_URL"`
	PurgeInterval time.Duration `envconfig:"STORE_PURGE_INTERVAL" default:"1m"`
}

// BusConfig locates the Redis lists used as the message bus.
type BusConfig struct {
	RedisAddr   string        `envconfig:"BUS_REDIS_ADDR"`
	PollTimeout time.Duration `envconfig:"BUS_POLL_TIMEOUT" default:"1s"`
}

type OpsAPIConfig struct {
	Addr         string        `envconfig:"OPS_API_ADDR"          default:":8090"`
	ReadTimeout  time.Duration `envconfig:"OPS_API_READ_TIMEOUT"  default:"10s"`
	WriteTimeout time.Duration `envconfig:"OPS_API_WRITE_TIMEOUT" default:"10s"`
}

// BindConfig describes one SMPP bind to an SMSC. Without SMPP_BINDS_FILE a
// single bind is read from the environment; with it, each YAML entry starts
// from the environment values and overrides what it sets.
type BindConfig struct {
	// Endpoint and credentials
	Name               string `yaml:"name" envconfig:"SMPP_BIND_NAME" default:"default"`
	Address            string `yaml:"address" envconfig:"SMPP_ADDRESS" default:"localhost:2775"`
	BindType           string `yaml:"bind_type" envconfig:"SMPP_BIND_TYPE" default:"trx"`
	KeyPrefix          string `yaml:"key_prefix" envconfig:"SMPP_KEY_PREFIX"`
	SystemID           string `yaml:"system_id" envconfig:"SMPP_SYSTEM_ID"`
	Password           string `yaml:"password" envconfig:"SMPP_PASSWORD"`
	SystemType         string `yaml:"system_type" envconfig:"SMPP_SYSTEM_TYPE"`
	InterfaceVersion   uint8  `yaml:"interface_version" envconfig:"SMPP_INTERFACE_VERSION" default:"0x34"`
	ServiceType        string `yaml:"service_type" envconfig:"SMPP_SERVICE_TYPE"`
	SourceAddrTON      uint8  `yaml:"source_addr_ton" envconfig:"SMPP_SOURCE_ADDR_TON" default:"0"`
	SourceAddrNPI      uint8  `yaml:"source_addr_npi" envconfig:"SMPP_SOURCE_ADDR_NPI" default:"0"`
	DestAddrTON        uint8  `yaml:"dest_addr_ton" envconfig:"SMPP_DEST_ADDR_TON" default:"0"`
	DestAddrNPI        uint8  `yaml:"dest_addr_npi" envconfig:"SMPP_DEST_ADDR_NPI" default:"0"`
	RegisteredDelivery uint8  `yaml:"registered_delivery" envconfig:"SMPP_REGISTERED_DELIVERY" default:"1"`

	// Timers
	BindTimeout         time.Duration `yaml:"smpp_bind_timeout" envconfig:"SMPP_BIND_TIMEOUT" default:"30s"`
	EnquireLinkInterval time.Duration `yaml:"smpp_enquire_link_interval" envconfig:"SMPP_ENQUIRE_LINK_INTERVAL" default:"55s"`
	UnbindTimeout       time.Duration `yaml:"smpp_unbind_timeout" envconfig:"SMPP_UNBIND_TIMEOUT" default:"10s"`
	WriteTimeout        time.Duration `yaml:"write_timeout" envconfig:"SMPP_WRITE_TIMEOUT" default:"10s"`

	// Submission
	SubmitSMEncoding   string `yaml:"submit_sm_encoding" envconfig:"SMPP_SUBMIT_SM_ENCODING" default:"utf-8"`
	SubmitSMDataCoding uint8  `yaml:"submit_sm_data_coding" envconfig:"SMPP_SUBMIT_SM_DATA_CODING" default:"0"`
	SendLongMessages   bool   `yaml:"send_long_messages" envconfig:"SMPP_SEND_LONG_MESSAGES" default:"false"`
	SendMultipartSAR   bool   `yaml:"send_multipart_sar" envconfig:"SMPP_SEND_MULTIPART_SAR" default:"false"`
	SendMultipartUDH   bool   `yaml:"send_multipart_udh" envconfig:"SMPP_SEND_MULTIPART_UDH" default:"false"`
	USSDDialect        string `yaml:"ussd_dialect" envconfig:"SMPP_USSD_DIALECT" default:"default"`

	// Inbound decoding
	DataCodingOverrides    map[string]string `yaml:"data_coding_overrides" envconfig:"SMPP_DATA_CODING_OVERRIDES"`
	DeliverSMDecodingError string            `yaml:"deliver_sm_decoding_error" envconfig:"SMPP_DELIVER_SM_DECODING_ERROR" default:"ESME_RDELIVERYFAILURE"`
	StrictDataCoding       bool              `yaml:"strict_data_coding" envconfig:"SMPP_STRICT_DATA_CODING" default:"false"`

	// Throttling and reconnection
	MTTPS             int           `yaml:"mt_tps" envconfig:"SMPP_MT_TPS" default:"0"`
	ThrottleDelay     time.Duration `yaml:"throttle_delay" envconfig:"SMPP_THROTTLE_DELAY" default:"100ms"`
	InitialDelay      time.Duration `yaml:"initial_delay" envconfig:"SMPP_INITIAL_DELAY" default:"1s"`
	Factor            float64       `yaml:"factor" envconfig:"SMPP_RECONNECT_FACTOR" default:"2.7182818284590451"`
	Jitter            float64       `yaml:"jitter" envconfig:"SMPP_RECONNECT_JITTER" default:"0.11962656472"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay" envconfig:"SMPP_MAX_RECONNECT_DELAY" default:"1h"`
	MaxRetries        int           `yaml:"max_retries" envconfig:"SMPP_MAX_RETRIES" default:"0"`

	// Store expiries
	ThirdPartyIDExpiry time.Duration `yaml:"third_party_id_expiry" envconfig:"SMPP_THIRD_PARTY_ID_EXPIRY" default:"168h"`
	SubmitSMExpiry     time.Duration `yaml:"submit_sm_expiry" envconfig:"SMPP_SUBMIT_SM_EXPIRY" default:"24h"`
	MultipartExpiry    time.Duration `yaml:"multipart_expiry" envconfig:"SMPP_MULTIPART_EXPIRY" default:"1h"`
	RolloverAt         uint32        `yaml:"rollover_at" envconfig:"SMPP_SEQUENCE_ROLLOVER_AT" default:"0xFFFF0000"`
	RolloverLockExpiry time.Duration `yaml:"rollover_lock_expiry" envconfig:"SMPP_SEQUENCE_LOCK_EXPIRY" default:"10s"`
}

const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

var ussdDialects = map[string]bool{"default": true, "sixdee": true, "mica": true}

// Load reads configuration from environment variables and the optional binds file.
func Load() (*Config, error) {
	var cfg Config
	log.Println("Loading configuration from environment variables...")

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, skipping: %v", err)
	} else {
		log.Println(".env loaded")
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if cfg.BindsFile != "" {
		binds, err := LoadBinds(cfg.BindsFile, cfg.Bind)
		if err != nil {
			return nil, err
		}
		cfg.Binds = binds
	} else {
		cfg.Binds = []BindConfig{cfg.Bind}
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Printf("Configuration loaded successfully (%d bind(s), store %s)", len(cfg.Binds), cfg.Store.Backend)
	return &cfg, nil
}

// LoadBinds reads a YAML document with a top-level "binds" list. Each entry
// is decoded over a copy of defaults.
func LoadBinds(path string, defaults BindConfig) ([]BindConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read binds file: %w", err)
	}
	return ParseBinds(raw, defaults)
}

// ParseBinds is LoadBinds on an in-memory document.
func ParseBinds(raw []byte, defaults BindConfig) ([]BindConfig, error) {
	var doc struct {
		Binds []yaml.Node `yaml:"binds"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse binds file: %w", err)
	}
	binds := make([]BindConfig, 0, len(doc.Binds))
	for i := range doc.Binds {
		b := defaults
		b.DataCodingOverrides = make(map[string]string, len(defaults.DataCodingOverrides))
		for k, v := range defaults.DataCodingOverrides {
			b.DataCodingOverrides[k] = v
		}
		if err := doc.Binds[i].Decode(&b); err != nil {
			return nil, fmt.Errorf("binds[%d]: %w", i, err)
		}
		binds = append(binds, b)
	}
	return binds, nil
}

func (c *Config) applyDefaults() {
	if c.Bus.RedisAddr == "" {
		c.Bus.RedisAddr = c.Store.RedisAddr
	}
	for i := range c.Binds {
		if c.Binds[i].KeyPrefix == "" {
			c.Binds[i].KeyPrefix = c.TransportName + ":" + c.Binds[i].Name
		}
	}
}

// Validate fails fast on settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreRedis, StoreMemory:
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}

	if len(c.Binds) == 0 {
		return errors.New("no SMPP binds configured")
	}
	seen := make(map[string]bool, len(c.Binds))
	for i := range c.Binds {
		b := &c.Binds[i]
		if seen[b.Name] {
			return fmt.Errorf("duplicate bind name %q", b.Name)
		}
		seen[b.Name] = true
		if err := b.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks one bind.
func (b *BindConfig) Validate() error {
	if b.Address == "" {
		return fmt.Errorf("bind %q: address is required", b.Name)
	}
	if b.SystemID == "" {
		return fmt.Errorf("bind %q: system_id is required", b.Name)
	}
	switch b.BindType {
	case codes.BindTypeTransmitter, codes.BindTypeReceiver, codes.BindTypeTransceiver:
	default:
		return fmt.Errorf("bind %q: bind_type must be tx, rx or trx, got %q", b.Name, b.BindType)
	}

	var modes []string
	if b.SendLongMessages {
		modes = append(modes, "send_long_messages")
	}
	if b.SendMultipartSAR {
		modes = append(modes, "send_multipart_sar")
	}
	if b.SendMultipartUDH {
		modes = append(modes, "send_multipart_udh")
	}
	if len(modes) > 1 {
		return fmt.Errorf("bind %q: %s are %w", b.Name, strings.Join(modes, " and "), ErrMutuallyExclusive)
	}

	if _, err := charset.NewTable(b.DataCodingOverrides); err != nil {
		return fmt.Errorf("bind %q: %w", b.Name, err)
	}
	if _, err := charset.Lookup(b.SubmitSMEncoding); err != nil {
		return fmt.Errorf("bind %q: submit_sm_encoding: %w", b.Name, err)
	}
	if _, ok := pdu.StatusByName(b.DeliverSMDecodingError); !ok {
		return fmt.Errorf("bind %q: deliver_sm_decoding_error %q is not an SMPP status", b.Name, b.DeliverSMDecodingError)
	}
	if !ussdDialects[b.USSDDialect] {
		return fmt.Errorf("bind %q: unknown ussd_dialect %q", b.Name, b.USSDDialect)
	}

	if b.BindTimeout <= 0 || b.EnquireLinkInterval <= 0 || b.UnbindTimeout <= 0 {
		return fmt.Errorf("bind %q: bind, enquire link and unbind timers must be positive", b.Name)
	}
	if b.MTTPS < 0 || b.MaxRetries < 0 {
		return fmt.Errorf("bind %q: mt_tps and max_retries must not be negative", b.Name)
	}
	if b.Factor < 1 || b.Jitter < 0 || b.Jitter >= 1 {
		return fmt.Errorf("bind %q: factor must be >= 1 and jitter in [0, 1)", b.Name)
	}
	return nil
}

// CanTransmit reports whether the bind type sends submit_sm.
func (b *BindConfig) CanTransmit() bool {
	return b.BindType != codes.BindTypeReceiver
}

// CanReceive reports whether the bind type receives deliver_sm.
func (b *BindConfig) CanReceive() bool {
	return b.BindType != codes.BindTypeTransmitter
}
