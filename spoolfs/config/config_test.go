package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rarydzu/spoolfs/spoolfs/file"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultFilesystemName, cfg.FilesystemName)
	require.NotNil(t, cfg.SpoolThreshold)
	assert.EqualValues(t, 1<<20, *cfg.SpoolThreshold)
	assert.Equal(t, file.WriteModePreserve, cfg.WriteMode)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, DefaultAttrTimeout, cfg.AttrTimeout)
	assert.EqualValues(t, DefaultLockStripes, cfg.LockStripes)
	assert.Equal(t, "1.0 MiB", cfg.ThresholdString())
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load(newFlags(t,
		"--mount_point", "/mnt/spool",
		"--spool_threshold", "off",
		"--write_mode", "truncate",
		"--shutdown_timeout", "5s",
		"--read_only",
	))
	require.NoError(t, err)
	assert.Equal(t, "/mnt/spool", cfg.Mountpoint)
	assert.Nil(t, cfg.SpoolThreshold)
	assert.Equal(t, "off", cfg.ThresholdString())
	assert.Equal(t, file.WriteModeTruncate, cfg.WriteMode)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.ReadOnly)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spoolfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("spool_threshold: 64KiB\nspool_dir: /var/tmp\nfs_name: fromfile\n"), 0600))
	t.Setenv("SPOOLFS_FS_NAME", "fromenv")

	cfg, err := Load(newFlags(t, "--config", path))
	require.NoError(t, err)
	require.NotNil(t, cfg.SpoolThreshold)
	assert.EqualValues(t, 64*1024, *cfg.SpoolThreshold)
	assert.Equal(t, "/var/tmp", cfg.SpoolDir)
	assert.Equal(t, "fromenv", cfg.FilesystemName)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(newFlags(t, "--spool_threshold", "lots"))
	assert.Error(t, err)
	_, err = Load(newFlags(t, "--write_mode", "append"))
	assert.Error(t, err)
	_, err = Load(newFlags(t, "--lock_stripes", "0"))
	assert.Error(t, err)
	_, err = Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Error(t, err)
}

func TestParseThreshold(t *testing.T) {
	for in, want := range map[string]uint64{"10": 10, "1KiB": 1024, "1kB": 1000, "2 MiB": 2 << 20} {
		got, err := ParseThreshold(in)
		require.NoError(t, err, in)
		require.NotNil(t, got, in)
		assert.Equal(t, want, *got, in)
	}
	for _, in := range []string{"", "off", "NONE"} {
		got, err := ParseThreshold(in)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
}

func TestSpoolOptions(t *testing.T) {
	n := uint64(4)
	cfg := &Config{SpoolThreshold: &n, SpoolDir: t.TempDir()}
	s := file.NewSpoolStore(1, 0644, cfg.SpoolOptions()...)
	_, err := s.Write([]byte("abcde"), 0)
	require.NoError(t, err)
	assert.Equal(t, file.DiskBacked, s.State())
	require.NoError(t, s.Cleanup())

	cfg.SpoolThreshold = nil
	s = file.NewSpoolStore(1, 0644, cfg.SpoolOptions()...)
	_, err = s.Write([]byte("abcde"), 0)
	require.NoError(t, err)
	assert.Equal(t, file.MemoryBacked, s.State())
	require.NoError(t, s.Cleanup())
}
