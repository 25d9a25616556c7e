package core

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/jo-hoe/cardscan/internal/backend/blobstore"
	"github.com/jo-hoe/cardscan/internal/backend/imageprocessing"
	"github.com/jo-hoe/cardscan/internal/backend/queue"
	"github.com/jo-hoe/cardscan/internal/common"
	"github.com/jo-hoe/cardscan/internal/logger"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort           = 8080
	defaultMaxUploadBytes = 5 * 1024 * 1024
	defaultOCRTimeout     = 60 * time.Second
)

var defaultAllowedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp", imageprocessing.MimeTIFF}

const pngConverterCommand = "PngConverterCommand"

type Database struct {
	Type             string `yaml:"type" validate:"required,oneof=sqlite"`
	ConnectionString string `yaml:"connectionString" validate:"required"`
}

type RemoteOCR struct {
	URL      string `yaml:"url"`
	APIToken string `yaml:"apiToken"`
}

type OCR struct {
	Engine      string        `yaml:"engine" validate:"oneof=tesseract remote"`
	Languages   []string      `yaml:"languages"`
	Timeout     time.Duration `yaml:"timeout"`
	PageSegMode int           `yaml:"pageSegMode" validate:"gte=0,lte=13"`
	Remote      RemoteOCR     `yaml:"remote"`
	// Preprocess is run on every image before recognition, in order.
	Preprocess []imageprocessing.CommandConfig `yaml:"preprocess"`
}

type Upload struct {
	MaxBytes     int64    `yaml:"maxBytes" validate:"gte=0"`
	AllowedTypes []string `yaml:"allowedTypes"`
	// TempDir holds uploaded images until their recognition run finishes.
	TempDir string `yaml:"tempDir"`
	// RateLimit is the sustained number of uploads per second per user, zero disables limiting.
	RateLimit float64 `yaml:"rateLimit" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`
}

type ServiceConfig struct {
	Port      int              `yaml:"port" validate:"gte=0,lte=65535"`
	Log       logger.Config    `yaml:"log"`
	Database  Database         `yaml:"database"`
	BlobStore blobstore.Config `yaml:"blobStore"`
	OCR       OCR              `yaml:"ocr"`
	Queue     queue.Config     `yaml:"queue"`
	Upload    Upload           `yaml:"upload"`
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config ServiceConfig
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", configPath, err)
	}

	return &config, nil
}

func (c *ServiceConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.BlobStore.Type == "" {
		c.BlobStore.Type = "filesystem"
	}
	if c.BlobStore.Type == "filesystem" && c.BlobStore.Directory == "" {
		c.BlobStore.Directory = "data/blobs"
	}
	if c.OCR.Engine == "" {
		c.OCR.Engine = "tesseract"
	}
	if c.OCR.Timeout <= 0 {
		c.OCR.Timeout = defaultOCRTimeout
	}
	if len(c.OCR.Languages) == 0 {
		c.OCR.Languages = []string{"eng"}
	}
	if c.Queue.Type == "" {
		c.Queue.Type = "memory"
	}
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = queue.DefaultCapacity
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = queue.DefaultWorkers
	}
	if c.Upload.MaxBytes == 0 {
		c.Upload.MaxBytes = defaultMaxUploadBytes
	}
	if len(c.Upload.AllowedTypes) == 0 {
		c.Upload.AllowedTypes = append([]string(nil), defaultAllowedTypes...)
		if c.convertsToPNG() {
			c.Upload.AllowedTypes = append(c.Upload.AllowedTypes, imageprocessing.MimeSVG)
		}
	}
	if c.Upload.TempDir == "" {
		c.Upload.TempDir = os.TempDir()
	}
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *ServiceConfig) Validate() error {
	if err := common.ValidateStruct(c); err != nil {
		return err
	}

	if c.OCR.Engine == "remote" && c.OCR.Remote.URL == "" {
		return fmt.Errorf("ocr.remote.url is required for the remote engine")
	}
	if c.BlobStore.Type == "minio" && (c.BlobStore.Minio.Endpoint == "" || c.BlobStore.Minio.Bucket == "") {
		return fmt.Errorf("blobStore.minio.endpoint and blobStore.minio.bucket are required")
	}
	if c.Queue.Type == "redis" && c.Queue.Redis.Addr == "" {
		return fmt.Errorf("queue.redis.addr is required for the redis queue")
	}

	if slices.Contains(c.Upload.AllowedTypes, imageprocessing.MimeSVG) && !c.convertsToPNG() {
		return fmt.Errorf("upload.allowedTypes contains %s, which requires %s in ocr.preprocess", imageprocessing.MimeSVG, pngConverterCommand)
	}

	if err := validateCommands(c.OCR.Preprocess); err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}
	return nil
}

// convertsToPNG reports whether preprocessing rasterizes vector uploads.
func (c *ServiceConfig) convertsToPNG() bool {
	return slices.ContainsFunc(c.OCR.Preprocess, func(cmd imageprocessing.CommandConfig) bool {
		return cmd.Name == pngConverterCommand
	})
}

// validateCommands ensures all command configurations have required fields
func validateCommands(commands []imageprocessing.CommandConfig) error {
	seenNames := make(map[string]bool)

	for i, cmd := range commands {
		if cmd.Name == "" {
			return fmt.Errorf("command at index %d has empty name", i)
		}

		if seenNames[cmd.Name] {
			return fmt.Errorf("duplicate command name: %s", cmd.Name)
		}
		seenNames[cmd.Name] = true

		if !imageprocessing.DefaultRegistry.IsRegistered(cmd.Name) {
			return fmt.Errorf("unknown command at index %d: %s (available: %s)",
				i, cmd.Name, strings.Join(imageprocessing.DefaultRegistry.GetRegisteredNames(), ", "))
		}
	}

	// surface parameter errors at startup rather than on the first card
	if _, err := imageprocessing.BuildCommands(commands); err != nil {
		return err
	}
	return nil
}
