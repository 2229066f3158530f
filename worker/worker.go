package worker

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jinzhu/copier"
	"github.com/rarydzu/spoolfs/processor"
	"github.com/rarydzu/spoolfs/spoolfs"
	"github.com/rarydzu/spoolfs/spoolfs/config"
	"github.com/rarydzu/spoolfs/spoolfs/file"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

type Worker struct {
	active bool
	sync.RWMutex
	Processor *processor.Processor
	log       *zap.SugaredLogger
	fs        *spoolfs.Spoolfs
	fsServer  fuse.Server
	fusemfs   *fuse.MountedFileSystem
	cfg       *config.Config
	reload    func() (*config.Config, error)
}

// New creates the filesystem described by cfg. metrics may be nil.
func New(cfg *config.Config, log *zap.SugaredLogger, metrics file.Metrics) (*Worker, error) {
	w := &Worker{
		Processor: nil,
		log:       log,
		cfg:       &config.Config{},
		fusemfs:   nil,
		fsServer:  nil,
	}
	if err := copier.Copy(w.cfg, cfg); err != nil {
		return nil, err
	}
	if w.cfg.FuseCfg == nil {
		w.cfg.FuseCfg = &fuse.MountConfig{
			FSName:   w.cfg.FilesystemName,
			ReadOnly: w.cfg.ReadOnly,
		}
	}
	fs, err := spoolfs.NewSpoolFS(w.cfg, w.log, metrics)
	if err != nil {
		return nil, err
	}
	w.fs = fs
	w.fsServer = spoolfs.NewSpoolFuseFS(fs)
	return w, nil
}

// SetReloader sets the config source used on SIGHUP
func (w *Worker) SetReloader(fn func() (*config.Config, error)) {
	w.Lock()
	defer w.Unlock()
	w.reload = fn
}

func (w *Worker) Start() error {
	w.Lock()
	defer w.Unlock()
	if w.active {
		return fmt.Errorf("Worker already active")
	}
	w.Processor = processor.New(w.cfg.ShutdownTimeout, w.log)
	if err := w.Processor.Register(processor.Shutdown, "filesystem", w.Umount); err != nil {
		return err
	}
	if err := w.Processor.Register(processor.Reload, "spool", w.Reload); err != nil {
		return err
	}
	mfs, err := fuse.Mount(w.cfg.Mountpoint, w.fsServer, w.cfg.FuseCfg)
	if err != nil {
		return fmt.Errorf("mount %s: %w", w.cfg.Mountpoint, err)
	}
	w.active = true
	w.fusemfs = mfs
	w.Processor.Run()
	w.log.Infof("%s mounted at %s, spool threshold %s", w.cfg.FilesystemName, w.cfg.Mountpoint, w.cfg.ThresholdString())
	return nil
}

// Reload re-reads the configuration and applies spool settings to new files
func (w *Worker) Reload() error {
	w.Lock()
	defer w.Unlock()
	if w.reload == nil {
		return nil
	}
	cfg, err := w.reload()
	if err != nil {
		return err
	}
	w.cfg.SpoolThreshold = cfg.SpoolThreshold
	w.cfg.WriteMode = cfg.WriteMode
	w.fs.Reload(w.cfg)
	return nil
}

func (w *Worker) Umount() error {
	tStart := time.Now()
	delay := 10 * time.Millisecond
	for {
		if time.Since(tStart) > w.cfg.ShutdownTimeout/2 {
			w.log.Infof("Timeout exceeded; killing processes")
			if err := w.Kill(); err != nil {
				w.log.Errorf("error killing processes: %v", err)
			}
		}
		err := fuse.Unmount(w.cfg.Mountpoint)
		if err == nil {
			return err
		}
		if strings.Contains(err.Error(), "resource busy") {
			w.log.Infof("Resource busy error while unmounting; trying again")
			time.Sleep(delay)
			delay = time.Duration(1.3 * float64(delay))
			continue
		}
		return fmt.Errorf("unmount (%s): %v", w.cfg.Mountpoint, err)
	}
}

// Kill every other process holding files under the mount point
func (w *Worker) Kill() error {
	myPid := os.Getpid()
	processes, err := process.Processes()
	if err != nil {
		return err
	}
	for _, p := range processes {
		if p.Pid == int32(myPid) {
			continue
		}
		openFiles, err := p.OpenFiles()
		if err != nil {
			continue
		}
		for _, f := range openFiles {
			if strings.HasPrefix(f.Path, w.cfg.Mountpoint+"/") || f.Path == w.cfg.Mountpoint {
				w.log.Infof("Killing process %d", p.Pid)
				if err := p.Kill(); err != nil {
					w.log.Errorf("error killing process %d: %v", p.Pid, err)
				}
				break
			}
		}
	}
	return nil
}

// Wait blocks until the filesystem is unmounted
func (w *Worker) Wait() {
	if err := w.fusemfs.Join(context.Background()); err != nil {
		w.log.Errorf("spoolfs join: %v", err)
	}
	w.Processor.Close()
	w.Processor.Wait()
}
