// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/netSkope/phantom-qa-tool/internal/apperr"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when no --config flag is given. JSON is accepted
// as well, since it is a subset of YAML.
const DefaultConfigFile = "phantomqa.yaml"

const envPrefix = "PHANTOMQA_"

// Config holds all configuration for the phantom QA tool.
type Config struct {
	// Web service
	WebserviceURL         string `yaml:"webservice_url"`
	WebserviceToken       string `yaml:"webservice_token"`
	WebserviceTokenSecret string `yaml:"webservice_token_secret"` // AWS Secrets Manager secret holding {"token": "..."}
	HTTPTimeoutSeconds    int    `yaml:"http_timeout_seconds"`    // Default: 60

	// Local folders
	TempFolder   string `yaml:"temp_folder"`   // Archive staging, default: os.TempDir()
	OutputFolder string `yaml:"output_folder"` // Root of case folders written by analyses
	ConfigDir    string `yaml:"config_dir"`    // Holds config.<site>.<device>.<phantom>.json, default: dir of config file

	// Application identity sent with every record
	AppName    string `yaml:"app_name"` // Default: phantomqa
	AppVersion string `yaml:"app_version"`

	// Optional S3 mirror of uploaded archives
	AWSRegion          string `yaml:"aws_region"`
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`
	S3Bucket           string `yaml:"s3_bucket"`
	S3Prefix           string `yaml:"s3_prefix"` // Default: phantom-qa

	// Optional publish-run journal
	JournalDriver string `yaml:"journal_driver"` // mysql | sqlite, empty disables the journal
	JournalDSN    string `yaml:"journal_dsn"`

	// Logging & control API
	LogDir     string `yaml:"log_dir"`
	Debug      bool   `yaml:"debug"`
	ListenAddr string `yaml:"listen_addr"` // Default: 127.0.0.1:8765

	// Catalog of selectable combinations
	Sites    []Site    `yaml:"sites"`
	Phantoms []Phantom `yaml:"phantoms"`
	Users    []string  `yaml:"users"` // "Name|email"

	path string
}

// Site is a clinical location and the imaging devices installed there.
type Site struct {
	ID      string   `yaml:"id" json:"id"`
	Devices []Device `yaml:"devices" json:"devices"`
}

// Device is one piece of imaging hardware at a site.
type Device struct {
	ID string `yaml:"id" json:"id"`
}

// Phantom describes a calibration phantom and the program that analyses it.
type Phantom struct {
	ID      string   `yaml:"id" json:"id"`
	Dim     int      `yaml:"dim" json:"dim"`                   // 2 for a single image, 3 for a series
	Command []string `yaml:"command" json:"command,omitempty"` // analysis program and arguments
	Name    string   `yaml:"name" json:"name,omitempty"`
}

// Flags carries command-line overrides. Zero values leave the loaded value alone.
type Flags struct {
	WebserviceURL string
	TempFolder    string
	OutputFolder  string
	LogDir        string
	ListenAddr    string
	HTTPTimeout   int
	Debug         bool
}

// LoadConfig loads configuration from the YAML file, environment variables and flags.
// Priority: CLI flags > environment variables > YAML file > defaults
func LoadConfig(configFile string, flags Flags) (*Config, error) {
	cfg := &Config{}

	if configFile == "" {
		configFile = DefaultConfigFile
	}
	if err := loadFromYAML(cfg, configFile); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg.path = configFile
	}

	loadFromEnv(cfg)
	applyFlags(cfg, flags)
	cfg.setDefaults()

	if err := cfg.validateBasics(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the config file that was loaded, or "" when none was found.
func (c *Config) Path() string {
	return c.path
}

// HTTPTimeout returns the request timeout as a duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// loadFromYAML loads configuration from a YAML (or JSON) file.
func loadFromYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// loadFromEnv loads configuration from environment variables.
func loadFromEnv(cfg *Config) {
	strVars := map[string]*string{
		"WEBSERVICE_URL":          &cfg.WebserviceURL,
		"WEBSERVICE_TOKEN_SECRET": &cfg.WebserviceTokenSecret,
		"TEMP_FOLDER":             &cfg.TempFolder,
		"OUTPUT_FOLDER":           &cfg.OutputFolder,
		"CONFIG_DIR":              &cfg.ConfigDir,
		"APP_NAME":                &cfg.AppName,
		"APP_VERSION":             &cfg.AppVersion,
		"AWS_REGION":              &cfg.AWSRegion,
		"S3_BUCKET":               &cfg.S3Bucket,
		"S3_PREFIX":               &cfg.S3Prefix,
		"JOURNAL_DRIVER":          &cfg.JournalDriver,
		"JOURNAL_DSN":             &cfg.JournalDSN,
		"LOG_DIR":                 &cfg.LogDir,
		"LISTEN_ADDR":             &cfg.ListenAddr,
	}
	for name, dst := range strVars {
		if val := os.Getenv(envPrefix + name); val != "" {
			*dst = val
		}
	}

	if val := os.Getenv(envPrefix + "HTTP_TIMEOUT_SECONDS"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil {
			cfg.HTTPTimeoutSeconds = secs
		}
	}
	if val := os.Getenv(envPrefix + "DEBUG"); val != "" {
		cfg.Debug = val == "true" || val == "1"
	}
}

func applyFlags(cfg *Config, f Flags) {
	if f.WebserviceURL != "" {
		cfg.WebserviceURL = f.WebserviceURL
	}
	if f.TempFolder != "" {
		cfg.TempFolder = f.TempFolder
	}
	if f.OutputFolder != "" {
		cfg.OutputFolder = f.OutputFolder
	}
	if f.LogDir != "" {
		cfg.LogDir = f.LogDir
	}
	if f.ListenAddr != "" {
		cfg.ListenAddr = f.ListenAddr
	}
	if f.HTTPTimeout > 0 {
		cfg.HTTPTimeoutSeconds = f.HTTPTimeout
	}
	if f.Debug {
		cfg.Debug = true
	}
}

func (c *Config) setDefaults() {
	if c.HTTPTimeoutSeconds == 0 {
		c.HTTPTimeoutSeconds = 60
	}
	if c.TempFolder == "" {
		c.TempFolder = os.TempDir()
	}
	if c.AppName == "" {
		c.AppName = "phantomqa"
	}
	if c.S3Prefix == "" {
		c.S3Prefix = "phantom-qa"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8765"
	}
	if c.ConfigDir == "" {
		if c.path != "" {
			c.ConfigDir = filepath.Dir(c.path)
		} else {
			c.ConfigDir = "."
		}
	}
	c.JournalDriver = strings.ToLower(strings.TrimSpace(c.JournalDriver))
}

func (c *Config) validateBasics() error {
	if c.HTTPTimeoutSeconds < 0 {
		return fmt.Errorf("http_timeout_seconds must not be negative")
	}
	switch c.JournalDriver {
	case "", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported journal_driver: %s (must be mysql or sqlite)", c.JournalDriver)
	}
	if c.JournalDriver != "" && c.JournalDSN == "" {
		return fmt.Errorf("journal_dsn is required when journal_driver is set")
	}
	for _, p := range c.Phantoms {
		if p.ID == "" {
			return fmt.Errorf("phantom entry without id")
		}
		if p.Dim != 0 && p.Dim != 2 && p.Dim != 3 {
			return fmt.Errorf("phantom %s: dim must be 2 or 3, got %d", p.ID, p.Dim)
		}
	}
	return nil
}

// ValidateWebservice checks the settings needed to publish results.
func (c *Config) ValidateWebservice() error {
	if c.WebserviceURL == "" {
		return fmt.Errorf("webservice_url is required")
	}
	u, err := url.Parse(c.WebserviceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webservice_url must be an http(s) URL, got %q", c.WebserviceURL)
	}
	if c.TempFolder == "" {
		return fmt.Errorf("temp_folder is required")
	}
	return nil
}

// ValidateSelection checks a site/device/phantom combination against the catalog.
// An empty catalog section accepts any non-empty value. Failures are
// validation errors.
func (c *Config) ValidateSelection(site, device, phantom string) error {
	if site == "" {
		return invalidSelection("please select a site")
	}
	if device == "" {
		return invalidSelection("please select a device")
	}
	if phantom == "" {
		return invalidSelection("please select a phantom")
	}

	if len(c.Sites) > 0 {
		s, ok := c.Site(site)
		if !ok {
			return invalidSelection("site %s not found in the configuration", site)
		}
		if len(s.Devices) > 0 && !s.HasDevice(device) {
			return invalidSelection("device %s not found at site %s", device, site)
		}
	}
	if len(c.Phantoms) > 0 {
		if _, ok := c.Phantom(phantom); !ok {
			return invalidSelection("phantom %s not found in the configuration", phantom)
		}
	}
	return nil
}

func invalidSelection(format string, args ...any) error {
	return &apperr.Error{Kind: apperr.KindValidation, Err: fmt.Errorf(format, args...)}
}

// Site looks up a site by id.
func (c *Config) Site(id string) (Site, bool) {
	for _, s := range c.Sites {
		if s.ID == id {
			return s, true
		}
	}
	return Site{}, false
}

// HasDevice reports whether the site lists a device with the given id.
func (s Site) HasDevice(id string) bool {
	for _, d := range s.Devices {
		if d.ID == id {
			return true
		}
	}
	return false
}

// Phantom looks up a phantom by id, ignoring case.
func (c *Config) Phantom(id string) (Phantom, bool) {
	for _, p := range c.Phantoms {
		if strings.EqualFold(p.ID, id) {
			return p, true
		}
	}
	return Phantom{}, false
}

// UserNames returns the display names of the configured users, sorted.
func (c *Config) UserNames() []string {
	names := make([]string, 0, len(c.Users))
	for _, u := range c.Users {
		name, _, _ := strings.Cut(u, "|")
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
