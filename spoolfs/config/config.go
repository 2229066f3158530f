package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jacobsa/fuse"
	"github.com/rarydzu/spoolfs/spoolfs/file"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultFilesystemName  = "spoolfs"
	DefaultSpoolThreshold  = "1MiB"
	DefaultShutdownTimeout = 60 * time.Second
	DefaultAttrTimeout     = 300 * time.Second
	DefaultLockStripes     = 1024
	envPrefix              = "SPOOLFS"
)

type Config struct {
	//FilesystemName name of the filesystem
	FilesystemName string
	//Mountpoint filesystem mountpoint
	Mountpoint string
	// SpoolDir directory for spooled files, OS temp dir when empty
	SpoolDir string
	// SpoolThreshold largest file kept in memory, nil never spools
	SpoolThreshold *uint64
	// WriteMode what in-place writes do with trailing bytes
	WriteMode file.WriteMode
	//DebugMode run in debug mode
	DebugMode bool
	//FuseDebug log every fuse operation
	FuseDebug bool
	//ReadOnly run in read only mode
	ReadOnly bool
	//ShutdownTimeout timeout for shutdown
	ShutdownTimeout time.Duration
	// AttrTimeout how long the kernel may cache entries and attributes
	AttrTimeout time.Duration
	// LockStripes number of inode lock stripes
	LockStripes uint64
	// MetricsAddress address of prometheus endpoint, disabled when empty
	MetricsAddress string
	// fuse config
	FuseCfg *fuse.MountConfig
}

// RegisterFlags adds every option to flags
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to a YAML config file.")
	flags.String("fs_name", DefaultFilesystemName, "Filesystem name.")
	flags.String("mount_point", "", "Path to mount point.")
	flags.String("spool_dir", "", "Directory for spooled files (default: OS temp dir).")
	flags.String("spool_threshold", DefaultSpoolThreshold, `Largest file kept in memory, "off" never spools.`)
	flags.String("write_mode", file.WriteModePreserve.String(), "In-place write semantics: preserve or truncate.")
	flags.Bool("read_only", false, "Mount in read-only mode.")
	flags.Bool("dev", false, "Run in development mode")
	flags.Bool("fuse_debug", false, "Run in fuse debug mode")
	flags.Duration("shutdown_timeout", DefaultShutdownTimeout, "Force exit after this long on shutdown.")
	flags.Duration("attr_timeout", DefaultAttrTimeout, "Kernel entry and attribute cache timeout.")
	flags.Uint64("lock_stripes", DefaultLockStripes, "Number of inode lock stripes.")
	flags.String("metrics_address", "", "Address of the prometheus endpoint.")
}

// Load builds a Config from flags, SPOOLFS_* environment variables and the
// optional config file, in that order of precedence.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	threshold, err := ParseThreshold(v.GetString("spool_threshold"))
	if err != nil {
		return nil, err
	}
	mode, err := file.ParseWriteMode(v.GetString("write_mode"))
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		FilesystemName:  v.GetString("fs_name"),
		Mountpoint:      v.GetString("mount_point"),
		SpoolDir:        v.GetString("spool_dir"),
		SpoolThreshold:  threshold,
		WriteMode:       mode,
		DebugMode:       v.GetBool("dev"),
		FuseDebug:       v.GetBool("fuse_debug"),
		ReadOnly:        v.GetBool("read_only"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		AttrTimeout:     v.GetDuration("attr_timeout"),
		LockStripes:     v.GetUint64("lock_stripes"),
		MetricsAddress:  v.GetString("metrics_address"),
	}
	if cfg.LockStripes == 0 {
		return nil, fmt.Errorf("lock_stripes must be positive")
	}
	return cfg, nil
}

// ParseThreshold parses sizes like "10", "64KiB" or "1MB". "off", "none"
// and "" disable spooling.
func ParseThreshold(s string) (*uint64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "none":
		return nil, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return nil, fmt.Errorf("spool threshold %q: %w", s, err)
	}
	return &n, nil
}

// ThresholdString formats the threshold for logs
func (c *Config) ThresholdString() string {
	if c.SpoolThreshold == nil {
		return "off"
	}
	return humanize.IBytes(*c.SpoolThreshold)
}

// SpoolOptions returns the store options this configuration implies
func (c *Config) SpoolOptions() []file.Option {
	opts := []file.Option{
		file.WithSpoolDir(c.SpoolDir),
		file.WithWriteMode(c.WriteMode),
	}
	if c.SpoolThreshold == nil {
		return append(opts, file.WithoutSpooling())
	}
	return append(opts, file.WithThreshold(*c.SpoolThreshold))
}
