package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

const stderrTail = 4096

type process struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}
	err  error

	mu     sync.Mutex
	stderr bytes.Buffer
}

func (p *process) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderr.Write(b)
}

func (p *process) tail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stderr.String()
	if len(s) > stderrTail {
		s = s[len(s)-stderrTail:]
	}
	return s
}

func (p *process) alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// stop sends SIGTERM, then kills after grace.
func (p *process) stop(grace time.Duration) error {
	if !p.alive() {
		return nil
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill runner pid %d: %w", p.pid, err)
	}
	<-p.done
	return nil
}

func spawn(ctx context.Context, hc *http.Client, cfg Config, log zerolog.Logger) (*process, string, error) {
	var port int
	var err error
	if cfg.PortStart > 0 && cfg.PortEnd >= cfg.PortStart {
		port, err = pickPortInRange(cfg.Host, cfg.PortStart, cfg.PortEnd)
	} else {
		port, err = pickFreePort(cfg.Host)
	}
	if err != nil {
		return nil, "", err
	}
	base := fmt.Sprintf("http://%s", net.JoinHostPort(cfg.Host, strconv.Itoa(port)))

	args := append([]string{"--host", cfg.Host, "--port", strconv.Itoa(port)}, cfg.Args...)
	p := &process{done: make(chan struct{})}
	// The process must outlive the build request that started it.
	p.cmd = exec.Command(cfg.Bin, args...)
	p.cmd.Stderr = p
	if err := p.cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start runner: %w", err)
	}
	p.pid = p.cmd.Process.Pid
	go func() {
		p.err = p.cmd.Wait()
		close(p.done)
	}()
	log.Info().Str("bin", cfg.Bin).Int("pid", p.pid).Int("port", port).Msg("runner starting")

	waitCtx, cancel := context.WithTimeout(ctx, cfg.StartTimeout)
	defer cancel()
	backoff := retry.WithCappedDuration(time.Second, retry.NewExponential(50*time.Millisecond))
	err = retry.Do(waitCtx, backoff, func(ctx context.Context) error {
		select {
		case <-p.done:
			// Early exit is permanent; no point retrying.
			if p.err != nil {
				return fmt.Errorf("runner exited early: %v; stderr tail: %s", p.err, p.tail())
			}
			return fmt.Errorf("runner exited before ready; stderr tail: %s", p.tail())
		default:
		}
		if !isHealthy(ctx, hc, base, time.Second) {
			return retry.RetryableError(errors.New("runner not healthy yet"))
		}
		return nil
	})
	if err != nil {
		_ = p.stop(2 * time.Second)
		if waitCtx.Err() != nil && ctx.Err() == nil {
			log.Warn().Int("pid", p.pid).Msg("runner start timed out")
			return nil, "", fmt.Errorf("runner not ready in %s at %s", cfg.StartTimeout, base)
		}
		return nil, "", err
	}
	log.Info().Int("pid", p.pid).Str("url", base).Msg("runner ready")
	return p, base, nil
}

func isHealthy(ctx context.Context, hc *http.Client, base string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := hc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// waitHealthy polls an attached runner until it answers or timeout passes.
func waitHealthy(ctx context.Context, hc *http.Client, base string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	backoff := retry.WithCappedDuration(time.Second, retry.NewExponential(50*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if isHealthy(ctx, hc, base, time.Second) {
			return nil
		}
		return retry.RetryableError(errors.New("health check failed"))
	})
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	addr := l.Addr().String()
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return 0, fmt.Errorf("unexpected addr: %s", addr)
	}
	return strconv.Atoi(addr[i+1:])
}
