package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// DefaultPluginGUID names the plugin data directory sibling caches live in.
const DefaultPluginGUID = "9700aa21-447d-41b4-a989-acd38f407d9f"

// Playlist scopes accepted by resolve.playlist_scope.
const (
	PlaylistScopeVariant = "variant"
	PlaylistScopeJob     = "job"
)

// Transfer sources accepted by source.
const (
	SourceRomM = "romm"
	SourceS3   = "s3"
)

// Config describes the application level configuration loaded from json.
type Config struct {
	Log       LogConfig        `json:"log"`
	Library   LibraryConfig    `json:"library"`
	Plugin    PluginConfig     `json:"plugin"`
	Archive   ArchiveConfig    `json:"archive"`
	Resolve   ResolveConfig    `json:"resolve"`
	Queue     QueueConfig      `json:"queue"`
	Layout    LayoutConfig     `json:"layout"`
	Source    string           `json:"source" validate:"oneof=romm s3"`
	RomM      RomMConfig       `json:"romm"`
	S3        S3Config         `json:"s3"`
	Mappings  []MappingConfig  `json:"mappings" validate:"dive"`
	Emulators []EmulatorConfig `json:"emulators" validate:"dive"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	File    string `json:"file"`
	Level   string `json:"level" validate:"oneof=debug info warn error"`
	Console bool   `json:"console"`
}

// LibraryConfig selects the game library backend.
type LibraryConfig struct {
	Driver string `json:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `json:"dsn" validate:"required"`
}

// PluginConfig locates plugin data such as sibling caches.
type PluginConfig struct {
	DataRoot string `json:"data_root" validate:"required"`
	GUID     string `json:"guid" validate:"required,uuid"`
}

// ArchiveConfig selects the archive tool used for extraction.
type ArchiveConfig struct {
	Use7z    bool   `json:"use_7z"`
	PathTo7z string `json:"path_to_7z"`
}

// ResolveConfig tunes post download rom resolution.
type ResolveConfig struct {
	PlaylistScope string `json:"playlist_scope" validate:"oneof=variant job"`
}

// QueueConfig sizes the local download queue.
type QueueConfig struct {
	Workers int `json:"workers" validate:"min=1,max=16"`
}

// LayoutConfig tunes install directory naming.
type LayoutConfig struct {
	Romanize bool `json:"romanize"`
}

// RomMConfig holds the RomM server credentials.
type RomMConfig struct {
	Host      string `json:"host"`
	Session   string `json:"session"`
	CSRFToken string `json:"csrf_token"`
}

// S3Config holds the options for accessing the object store.
type S3Config struct {
	Host            string `json:"host"`
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
	ForcePathStyle  bool   `json:"force_path_style"`
	Prefix          string `json:"prefix"`
}

// MappingConfig maps a catalog platform onto a local destination and
// emulator profile.
type MappingConfig struct {
	ID          string `json:"id" validate:"required"`
	PlatformID  int64  `json:"platform_id"`
	Destination string `json:"destination"`
	AutoExtract bool   `json:"auto_extract"`
	EmulatorID  string `json:"emulator_id"`
	ProfileID   string `json:"profile_id"`
	UseM3U      bool   `json:"use_m3u"`
}

// EmulatorConfig describes an emulator installed on this machine.
type EmulatorConfig struct {
	ID              string          `json:"id" validate:"required"`
	BuiltInConfigID string          `json:"builtin_config_id"`
	Profiles        []ProfileConfig `json:"profiles" validate:"dive"`
}

// ProfileConfig is one emulator profile. Custom profiles list their own
// extensions, the others reuse a built-in profile of the same name.
type ProfileConfig struct {
	ID         string   `json:"id" validate:"required"`
	Name       string   `json:"name"`
	Custom     bool     `json:"custom"`
	Extensions []string `json:"extensions"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadFirst tries to load configuration from the given paths, returning the
// first successfully decoded configuration. If none of the paths contain a
// readable config, an error is returned.
func LoadFirst(paths ...string) (*Config, error) {
	var lastErr error
	for _, path := range paths {
		if path == "" {
			continue
		}
		cfg, err := Load(path)
		if errors.Is(err, os.ErrNotExist) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("config not found in paths: %v", paths)
	}
	return nil, lastErr
}

// Load reads configuration from a single json file path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a json document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every optional field filled.
func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: "info", Console: true},
		Library: LibraryConfig{Driver: "sqlite", DSN: "./romget.db"},
		Plugin:  PluginConfig{DataRoot: "./data", GUID: DefaultPluginGUID},
		Resolve: ResolveConfig{PlaylistScope: PlaylistScopeVariant},
		Queue:   QueueConfig{Workers: 2},
		Source:  SourceRomM,
	}
}

// Validate performs basic validation of the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := uuid.Parse(c.Plugin.GUID); err != nil {
		return fmt.Errorf("config.plugin.guid: %w", err)
	}
	if c.Archive.Use7z && strings.TrimSpace(c.Archive.PathTo7z) == "" {
		return errors.New("config.archive.path_to_7z must be set when use_7z is enabled")
	}
	switch c.Source {
	case SourceRomM:
		if c.RomM.Host == "" {
			return errors.New("config.romm.host must be set")
		}
	case SourceS3:
		if c.S3.Host == "" {
			return errors.New("config.s3.host must be set")
		}
		if c.S3.Bucket == "" {
			return errors.New("config.s3.bucket must be set")
		}
	}
	mappingIDs := make(map[string]struct{}, len(c.Mappings))
	for _, m := range c.Mappings {
		if _, ok := mappingIDs[m.ID]; ok {
			return fmt.Errorf("config.mappings: duplicate id %s", m.ID)
		}
		mappingIDs[m.ID] = struct{}{}
	}
	return nil
}

// Mapping looks up a mapping by id.
func (c *Config) Mapping(id string) (MappingConfig, bool) {
	for _, m := range c.Mappings {
		if m.ID == id {
			return m, true
		}
	}
	return MappingConfig{}, false
}

// MappingForPlatform looks up the mapping of a catalog platform.
func (c *Config) MappingForPlatform(platformID int64) (MappingConfig, bool) {
	for _, m := range c.Mappings {
		if m.PlatformID == platformID {
			return m, true
		}
	}
	return MappingConfig{}, false
}
