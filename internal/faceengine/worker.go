package faceengine

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// conn is one helper connection. Communicate sends a single request body
// and returns the matching response body.
type conn interface {
	Communicate(data []byte) ([]byte, error)
	Logs() string
	Close() error
}

// tailBuffer keeps the last limit bytes written to it. The helper's stderr
// is copied into one so a crash can be reported with its output.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// process is a helper subprocess. Requests go in on stdin; responses come
// back on file descriptor 3 so stray prints on stdout cannot corrupt the
// stream.
type process struct {
	id     int
	cmd    *exec.Cmd
	stderr *tailBuffer
	stdin  io.WriteCloser
	data   io.ReadCloser

	exited chan struct{}
	once   sync.Once
}

func startProcess(id int, name string, args ...string) (*process, error) {
	cmd := exec.Command(name, args...)
	stderr := &tailBuffer{limit: 8 << 10}
	cmd.Stderr = stderr

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}
	// Only the child holds the write end now.
	w.Close()

	p := &process{id: id, cmd: cmd, stderr: stderr, stdin: stdin, data: r, exited: make(chan struct{})}
	go func() {
		cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

func (p *process) Communicate(data []byte) ([]byte, error) {
	if err := writeFrame(p.stdin, data); err != nil {
		return nil, err
	}
	return readFrame(p.data)
}

func (p *process) Logs() string { return p.stderr.String() }

// Close asks the helper to exit by closing stdin and kills it if it has not
// gone within two seconds.
func (p *process) Close() error {
	p.once.Do(func() {
		p.stdin.Close()
		select {
		case <-p.exited:
		case <-time.After(2 * time.Second):
			p.cmd.Process.Kill()
			<-p.exited
		}
		p.data.Close()
	})
	return nil
}
