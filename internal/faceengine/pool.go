package faceengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/accessgate/internal/monitoring"
)

// PoolOptions configures a WorkerPool.
type PoolOptions struct {
	Command string
	Args    []string
	Workers int
	// Timeout bounds one request. A helper that misses it is restarted.
	Timeout time.Duration
}

type slot struct {
	id int
	c  conn
}

// WorkerPool is an Engine backed by a fixed set of helper processes. Each
// request takes an idle helper, so at most Workers requests run at once.
type WorkerPool struct {
	opts  PoolOptions
	spawn func(id int) (conn, error)

	idle      chan *slot
	closed    chan struct{}
	closeOnce sync.Once
}

// NewWorkerPool starts opts.Workers helpers and pings each one.
func NewWorkerPool(ctx context.Context, opts PoolOptions) (*WorkerPool, error) {
	spawn := func(id int) (conn, error) {
		return startProcess(id, opts.Command, opts.Args...)
	}
	return newWorkerPool(ctx, opts, spawn)
}

func newWorkerPool(ctx context.Context, opts PoolOptions, spawn func(int) (conn, error)) (*WorkerPool, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	p := &WorkerPool{
		opts:   opts,
		spawn:  spawn,
		idle:   make(chan *slot, opts.Workers),
		closed: make(chan struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		c, err := spawn(i)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.idle <- &slot{id: i, c: c}
	}
	for i := 0; i < opts.Workers; i++ {
		if _, err := p.call(ctx, request{Op: opPing}); err != nil {
			p.Close()
			return nil, fmt.Errorf("face engine ping: %w", err)
		}
	}
	monitoring.Logf("face engine: %d workers ready (%s)", opts.Workers, strings.Join(append([]string{opts.Command}, opts.Args...), " "))
	return p, nil
}

func (p *WorkerPool) Detect(ctx context.Context, img []byte) ([]Face, error) {
	resp, err := p.call(ctx, request{Op: opDetect, Image: img})
	if err != nil {
		return nil, err
	}
	return resp.faces(), nil
}

func (p *WorkerPool) Encode(ctx context.Context, img []byte, box Box) ([]float64, error) {
	resp, err := p.call(ctx, request{Op: opEncode, Image: img, Box: &box})
	if err != nil {
		return nil, err
	}
	if len(resp.Encoding) == 0 {
		return nil, ErrNoFace
	}
	return resp.Encoding, nil
}

func (p *WorkerPool) acquire(ctx context.Context) (*slot, error) {
	select {
	case s := <-p.idle:
		return s, nil
	case <-p.closed:
		return nil, ErrUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *WorkerPool) release(s *slot) {
	select {
	case <-p.closed:
		if s.c != nil {
			s.c.Close()
		}
	default:
		p.idle <- s
	}
}

// restart replaces a helper that crashed or timed out. On failure the slot
// goes back empty and the next request retries the spawn.
func (p *WorkerPool) restart(s *slot) {
	if s.c != nil {
		s.c.Close()
		s.c = nil
	}
	c, err := p.spawn(s.id)
	if err != nil {
		monitoring.Logf("face engine: restart worker %d: %v", s.id, err)
		return
	}
	s.c = c
}

type callResult struct {
	body []byte
	err  error
}

func (p *WorkerPool) call(ctx context.Context, req request) (response, error) {
	s, err := p.acquire(ctx)
	if err != nil {
		return response{}, err
	}
	defer p.release(s)

	if s.c == nil {
		p.restart(s)
		if s.c == nil {
			return response{}, ErrUnavailable
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return response{}, err
	}

	done := make(chan callResult, 1)
	c := s.c
	go func() {
		b, err := c.Communicate(body)
		done <- callResult{b, err}
	}()

	timer := time.NewTimer(p.opts.Timeout)
	defer timer.Stop()

	var res callResult
	select {
	case res = <-done:
	case <-timer.C:
		monitoring.Logf("face engine: worker %d timed out after %s, restarting", s.id, p.opts.Timeout)
		p.restart(s)
		return response{}, fmt.Errorf("face engine %s: timeout after %s", req.Op, p.opts.Timeout)
	case <-ctx.Done():
		p.restart(s)
		return response{}, ctx.Err()
	}

	if res.err != nil {
		logs := c.Logs()
		monitoring.Logf("face engine: worker %d crashed: %v\n%s", s.id, res.err, logs)
		p.restart(s)
		return response{}, fmt.Errorf("face engine %s: %w", req.Op, res.err)
	}

	var resp response
	if err := json.Unmarshal(res.body, &resp); err != nil {
		return response{}, fmt.Errorf("face engine %s: malformed response: %w", req.Op, err)
	}
	if resp.Error != "" {
		if resp.Error == "no_face" {
			return response{}, ErrNoFace
		}
		return response{}, errors.New("face engine " + req.Op + ": " + resp.Error)
	}
	return resp, nil
}

// Close stops every idle helper. Helpers busy with a request are stopped
// when they are released.
func (p *WorkerPool) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		for {
			select {
			case s := <-p.idle:
				if s.c != nil {
					s.c.Close()
				}
			default:
				return
			}
		}
	})
	return nil
}
