package processor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	Reload   = "reload"
	Shutdown = "shutdown"
)

type Processor struct {
	ForceShutdownTimeout time.Duration // force shudown timeout
	rChan                chan os.Signal
	mu                   sync.Mutex
	shutOps              map[string]func() error
	reloadOps            map[string]func() error
	quit                 chan struct{}
	quitOnce             sync.Once
	done                 chan struct{}
	exit                 func(code int)
	log                  *zap.SugaredLogger
}

// New - creates new processor
func New(timeout time.Duration, log *zap.SugaredLogger) *Processor {
	return &Processor{
		ForceShutdownTimeout: timeout,
		rChan:                make(chan os.Signal, 1),
		shutOps:              map[string]func() error{},
		reloadOps:            map[string]func() error{},
		quit:                 make(chan struct{}),
		done:                 make(chan struct{}),
		exit:                 os.Exit,
		log:                  log,
	}
}

// Run starts watching SIGINT/SIGTERM for shutdown and SIGHUP for reload
func (p *Processor) Run() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	signal.Notify(p.rChan, syscall.SIGHUP)
	go p.loop(ctx, stop)
}

func (p *Processor) loop(ctx context.Context, stop context.CancelFunc) {
	defer close(p.done)
	defer stop()
	defer signal.Stop(p.rChan)
	for {
		select {
		case <-p.quit:
			return
		case <-ctx.Done():
			p.shutdownWithDeadline()
			return
		case <-p.rChan:
			if err := p.Reload(); err != nil {
				p.log.Warnf("reload: %v", err)
			}
		}
	}
}

// shutdownWithDeadline runs Shutdown and forces exit after ForceShutdownTimeout
func (p *Processor) shutdownWithDeadline() {
	tF := time.AfterFunc(p.ForceShutdownTimeout, func() {
		p.log.Warnf("timeout %d ms has been elapsed, force exit, umount fs manually", p.ForceShutdownTimeout.Milliseconds())
		p.exit(1)
	})
	defer tF.Stop()
	if err := p.Shutdown(); err != nil {
		p.log.Warnf("shutdown: %v", err)
	}
}

// callProcess runs all operations of a process concurrently
func (p *Processor) callProcess(oper map[string]func() error, process string) error {
	var g errgroup.Group
	p.mu.Lock()
	for key, op := range oper {
		name, call := key, op
		g.Go(func() error {
			if err := call(); err != nil {
				p.log.Warnf("%s %s: failed (%s)", process, name, err.Error())
				return fmt.Errorf("%s %s: %w", process, name, err)
			}
			p.log.Infof("%s %s: succeeded", process, name)
			return nil
		})
	}
	p.mu.Unlock()
	err := g.Wait()
	p.log.Infof("%s sequence completed", process)
	return err
}

// Register register shutdown and reload operation
func (p *Processor) Register(process, operationName string, operationFunction func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch process {
	case Shutdown:
		p.shutOps[operationName] = operationFunction
	case Reload:
		p.reloadOps[operationName] = operationFunction
	default:
		return fmt.Errorf("%s process unknown", process)
	}
	return nil
}

// Shutdown - runs all shutdown operations
func (p *Processor) Shutdown() error {
	return p.callProcess(p.shutOps, Shutdown)
}

// Reload - runs all reload operations
func (p *Processor) Reload() error {
	return p.callProcess(p.reloadOps, Reload)
}

// Close stops watching signals without running shutdown operations
func (p *Processor) Close() {
	p.quitOnce.Do(func() { close(p.quit) })
}

// Wait blocks until the signal loop exits
func (p *Processor) Wait() {
	<-p.done
}
