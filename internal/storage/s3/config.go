package s3

import (
	"strings"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"

	"github.com/objectfs/fatvfs/pkg/errors"
)

// Storage classes accepted in Config.StorageClass.
const (
	ClassStandard     = "STANDARD"
	ClassStandardIA   = "STANDARD_IA"
	ClassOneZoneIA    = "ONEZONE_IA"
	ClassIntelligent  = "INTELLIGENT_TIERING"
	ClassGlacier      = "GLACIER"
	ClassDeepArchive  = "DEEP_ARCHIVE"
	defaultPartSize   = 16 * 1024 * 1024
	defaultThreshold  = 32 * 1024 * 1024
	defaultConcurrent = 4
)

// Config represents S3 image store configuration
type Config struct {
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	MaxRetries     int    `yaml:"max_retries"`

	// AccessKeyID and SecretAccessKey replace the default credential chain,
	// for S3-compatible endpoints.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// StorageClass applies to uploaded images.
	StorageClass string `yaml:"storage_class"`

	// EnableCargoShip routes uploads through the cargoship transporter,
	// falling back to a plain PutObject if it fails.
	EnableCargoShip bool `yaml:"enable_cargoship"`
	Concurrency     int  `yaml:"concurrency"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Region:          "us-east-1",
		MaxRetries:      3,
		StorageClass:    ClassStandard,
		EnableCargoShip: true,
		Concurrency:     defaultConcurrent,
	}
}

// Validate checks the storage class and fills zero values.
func (c *Config) Validate() error {
	if c.StorageClass == "" {
		c.StorageClass = ClassStandard
	}
	c.StorageClass = strings.ToUpper(c.StorageClass)
	if _, ok := storageClasses[c.StorageClass]; !ok {
		return errors.Newf(errors.ErrCodeInvalidConfig, "unknown storage class %q", c.StorageClass).
			WithComponent("s3")
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrent
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return nil
}

type classPair struct {
	sdk   s3types.StorageClass
	cargo awsconfig.StorageClass
}

var storageClasses = map[string]classPair{
	ClassStandard:    {s3types.StorageClassStandard, awsconfig.StorageClassStandard},
	ClassStandardIA:  {s3types.StorageClassStandardIa, awsconfig.StorageClassStandardIA},
	ClassOneZoneIA:   {s3types.StorageClassOnezoneIa, awsconfig.StorageClassOneZoneIA},
	ClassIntelligent: {s3types.StorageClassIntelligentTiering, awsconfig.StorageClassIntelligentTiering},
	ClassGlacier:     {s3types.StorageClassGlacier, awsconfig.StorageClassGlacier},
	ClassDeepArchive: {s3types.StorageClassDeepArchive, awsconfig.StorageClassDeepArchive},
}

func sdkStorageClass(class string) s3types.StorageClass {
	if p, ok := storageClasses[class]; ok {
		return p.sdk
	}
	return s3types.StorageClassStandard
}

func cargoStorageClass(class string) awsconfig.StorageClass {
	if p, ok := storageClasses[class]; ok {
		return p.cargo
	}
	return awsconfig.StorageClassStandard
}
