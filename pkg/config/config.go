// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fawa-io/drop/pkg/fwlog"
)

const (
	MetaBackendFile      = "file"
	MetaBackendDragonfly = "dragonfly"

	BlobBackendDisk  = "disk"
	BlobBackendMinio = "minio"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Meta      MetaConfig      `mapstructure:"meta"`
	Minio     MinioConfig     `mapstructure:"minio"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Retention RetentionConfig `mapstructure:"retention"`
	GC        GCConfig        `mapstructure:"gc"`
}

type ServerConfig struct {
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays"`
}

// StorageConfig selects where blob bytes live.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

// MetaConfig selects where file records live.
type MetaConfig struct {
	Backend      string `mapstructure:"backend"`
	Path         string `mapstructure:"path"`
	DragonflyURL string `mapstructure:"dragonflyURL"`
}

type MinioConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"accessKeyID"`
	SecretAccessKey string `mapstructure:"secretAccessKey"`
	Bucket          string `mapstructure:"bucket"`
}

type UploadConfig struct {
	MaxMB    int64 `mapstructure:"maxMB"`
	IDLength int   `mapstructure:"idLength"`
}

// MaxBytes is the declared-length ceiling for one upload request.
func (u UploadConfig) MaxBytes() int64 {
	return u.MaxMB * 1024 * 1024
}

type RetentionConfig struct {
	Day   time.Duration `mapstructure:"day"`
	Week  time.Duration `mapstructure:"week"`
	Month time.Duration `mapstructure:"month"`
}

// GCConfig controls the in-process sweep loop. Zero leaves scheduling to
// an external runner invoking the clean command.
type GCConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

var (
	once sync.Once

	mu sync.RWMutex

	config Config
)

func InitConfig() error {
	var initErr error
	once.Do(func() {
		initErr = LoadAndWatch()
	})
	return initErr
}

func Get() Config {
	mu.RLock()
	defer mu.RUnlock()
	return config
}

// Args returns the positional arguments left after flag parsing.
func Args() []string {
	return pflag.Args()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:3001")
	v.SetDefault("server.certFile", "")
	v.SetDefault("server.keyFile", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.maxSizeMB", 100)
	v.SetDefault("log.maxBackups", 3)
	v.SetDefault("log.maxAgeDays", 28)
	v.SetDefault("storage.backend", BlobBackendDisk)
	v.SetDefault("storage.dir", "files")
	v.SetDefault("meta.backend", MetaBackendFile)
	v.SetDefault("meta.path", "db.yaml")
	v.SetDefault("meta.dragonflyURL", "redis://localhost:6379/0")
	v.SetDefault("minio.bucket", "drop")
	v.SetDefault("upload.maxMB", 512)
	v.SetDefault("upload.idLength", 6)
	v.SetDefault("retention.day", 24*time.Hour)
	v.SetDefault("retention.week", 7*24*time.Hour)
	v.SetDefault("retention.month", 28*24*time.Hour)
	v.SetDefault("gc.interval", time.Duration(0))
}

func registerFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to the config file (default: ./config.yaml or /etc/fawa/config.yaml)")
	fs.String("server.addr", "", "HTTP service address (e.g., '127.0.0.1:3001')")
	fs.String("server.certFile", "", "Path to the TLS certificate file.")
	fs.String("server.keyFile", "", "Path to the TLS private key file.")
	fs.String("log.level", "", "Log level: debug, info, warn, error.")
	fs.String("log.file", "", "Also write logs to this file, rotated by size.")
	fs.String("storage.backend", "", "Blob backend: disk or minio.")
	fs.String("storage.dir", "", "Directory holding uploaded files.")
	fs.String("meta.backend", "", "Metadata backend: file or dragonfly.")
	fs.String("meta.path", "", "Path of the metadata file.")
	fs.String("meta.dragonflyURL", "", "Dragonfly/Redis URL for the metadata backend.")
	fs.Int64("upload.maxMB", 0, "Maximum declared upload size in MiB.")
	fs.Duration("gc.interval", 0, "Run the collector every interval (0 disables).")
}

// bindChanged binds only flags the user set, so unset flags do not mask
// config file values or defaults.
func bindChanged(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || err != nil {
			return
		}
		err = v.BindPFlag(f.Name, f)
	})
	return err
}

func newViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if err := bindChanged(v, fs); err != nil {
		return nil, fmt.Errorf("failed to bind pflags: %w", err)
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fawa/")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fwlog.Infof("Config file not found, using defaults and flags.")
		} else {
			return nil, fmt.Errorf("fatal error config file: %w", err)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("the configuration cannot be decoded into the struct: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load parses args into fs and returns the resulting configuration
// without touching package state.
func Load(fs *pflag.FlagSet, args []string) (Config, error) {
	registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	v, err := newViper(fs)
	if err != nil {
		return Config{}, err
	}
	return decode(v)
}

func LoadAndWatch() error {
	registerFlags(pflag.CommandLine)
	pflag.Parse()

	v, err := newViper(pflag.CommandLine)
	if err != nil {
		return err
	}

	c, err := decode(v)
	if err != nil {
		return err
	}
	mu.Lock()
	config = c
	mu.Unlock()

	if v.ConfigFileUsed() == "" {
		return nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		fwlog.Infof("config file %s changed, reloading", e.Name)

		c, err := decode(v)
		if err != nil {
			fwlog.Errorf("Error while reloading config: %v", err)
			return
		}

		mu.Lock()
		config = c
		mu.Unlock()

		newLogLevel, err := fwlog.ParseLevel(c.Log.Level)
		if err != nil {
			fwlog.Warnf("New log level in config is invalid: %v. Keeping previous level.", err)
			return
		}
		fwlog.SetLevel(newLogLevel)
		fwlog.Infof("Log level reloaded successfully to: %s", c.Log.Level)
	})
	v.WatchConfig()

	return nil
}

// Validate checks values that would otherwise surface as confusing
// runtime failures.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is empty"))
	}
	switch c.Storage.Backend {
	case BlobBackendDisk:
		if c.Storage.Dir == "" {
			errs = append(errs, errors.New("storage.dir is empty"))
		}
	case BlobBackendMinio:
		if c.Minio.Endpoint == "" || c.Minio.Bucket == "" {
			errs = append(errs, errors.New("minio.endpoint and minio.bucket are required for the minio backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	switch c.Meta.Backend {
	case MetaBackendFile:
		if c.Meta.Path == "" {
			errs = append(errs, errors.New("meta.path is empty"))
		}
	case MetaBackendDragonfly:
		if c.Meta.DragonflyURL == "" {
			errs = append(errs, errors.New("meta.dragonflyURL is empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown meta.backend %q", c.Meta.Backend))
	}
	if c.Upload.MaxMB <= 0 {
		errs = append(errs, fmt.Errorf("upload.maxMB must be positive, got %d", c.Upload.MaxMB))
	}
	if c.Upload.IDLength <= 0 {
		errs = append(errs, fmt.Errorf("upload.idLength must be positive, got %d", c.Upload.IDLength))
	}
	if c.Retention.Day <= 0 || c.Retention.Week <= 0 || c.Retention.Month <= 0 {
		errs = append(errs, errors.New("retention durations must be positive"))
	}
	if c.GC.Interval < 0 {
		errs = append(errs, errors.New("gc.interval must not be negative"))
	}
	return errors.Join(errs...)
}
