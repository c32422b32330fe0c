package concurrency

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
)

// workerRequest and workerResponse are the JSON envelopes exchanged with
// a ProcessExecutor worker subprocess over its stdin/stdout pipes, each
// sent as a frame: a 4-byte big-endian length prefix followed by that
// many bytes of JSON.
// This stands in for Python's pickle-based ProcessPoolExecutor IPC,
// which Go has no equivalent of.
type workerRequest struct {
	ID   uint64          `json:"id"`
	Item json.RawMessage `json:"item"`
}

type workerResponse struct {
	ID    uint64          `json:"id"`
	OK    bool            `json:"ok"`
	Out   json.RawMessage `json:"out,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ProcessExecutor runs a fixed number of re-exec'd worker subprocesses
// (the same binary invoked with workerArgs, conventionally a
// "-repocapsule-worker" flag whose main() branch calls
// repocapsule.WorkerMain, which runs RunWorkerLoop) and hands each item
// to whichever worker is free, over length-prefixed JSON frames. The
// Task passed to Run is never invoked here -- the actual per-item logic
// runs inside the worker subprocess's own RunWorkerLoop, which must be
// wired to the same operation Task would have performed in-process; Run
// ignores Task, which is in its signature only so that
// ThreadExecutor/ProcessExecutor share one interface.
type ProcessExecutor[I, O any] struct {
	selfExe    string
	workerArgs []string
	numWorkers int
	logger     *slog.Logger

	mu      sync.Mutex
	procs   []*exec.Cmd
}

// NewProcessExecutor returns a ProcessExecutor that will spawn
// numWorkers copies of selfExe (os.Args[0], typically) with
// workerArgs appended, on first use of Run.
func NewProcessExecutor[I, O any](selfExe string, workerArgs []string, numWorkers int, logger *slog.Logger) *ProcessExecutor[I, O] {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessExecutor[I, O]{selfExe: selfExe, workerArgs: workerArgs, numWorkers: numWorkers, logger: logger}
}

type procPipe struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
}

func (e *ProcessExecutor[I, O]) spawn(ctx context.Context) ([]*procPipe, error) {
	pipes := make([]*procPipe, 0, e.numWorkers)
	for i := 0; i < e.numWorkers; i++ {
		cmd := exec.CommandContext(ctx, e.selfExe, e.workerArgs...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("concurrency: starting worker %d: %w", i, err)
		}
		e.mu.Lock()
		e.procs = append(e.procs, cmd)
		e.mu.Unlock()
		pipes = append(pipes, &procPipe{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)})
	}
	return pipes, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Run pulls items out of produce one at a time, handing each to the
// next free worker pipe; the free-pipe channel below blocks the
// producer's next yield until a worker finishes its current item, the
// same bounded-concurrency backpressure ThreadExecutor.Run provides.
// Responses are collected on a single consumer goroutine so
// onResult/onError still see completion order.
func (e *ProcessExecutor[I, O]) Run(ctx context.Context, produce Producer[I], opts Options, _ Task[I, O], onResult func(O) error, onError func(I, error)) error {
	opts = opts.normalized()
	pipes, err := e.spawn(ctx)
	if err != nil {
		return err
	}

	free := make(chan *procPipe, len(pipes))
	for _, p := range pipes {
		free <- p
	}

	type outcome struct {
		item I
		out  O
		err  error
	}
	results := make(chan outcome, opts.Window)
	var wg sync.WaitGroup
	var nextID uint64

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var produceErr error
	go func() {
		defer close(results)
		produceErr = produce(func(item I) bool {
			var pipe *procPipe
			select {
			case <-runCtx.Done():
				return false
			case pipe = <-free:
			}
			nextID++
			reqID := nextID

			wg.Add(1)
			go func(p *procPipe, in I, reqID uint64) {
				defer wg.Done()
				defer func() { free <- p }()

				itemJSON, err := json.Marshal(in)
				if err != nil {
					results <- outcome{item: in, err: err}
					return
				}
				req, err := json.Marshal(workerRequest{ID: reqID, Item: itemJSON})
				if err != nil {
					results <- outcome{item: in, err: err}
					return
				}

				p.mu.Lock()
				writeErr := writeFrame(p.stdin, req)
				var resp workerResponse
				if writeErr == nil {
					raw, readErr := readFrame(p.stdout)
					if readErr != nil {
						writeErr = readErr
					} else {
						writeErr = json.Unmarshal(raw, &resp)
					}
				}
				p.mu.Unlock()

				if writeErr != nil {
					results <- outcome{item: in, err: writeErr}
					return
				}
				if !resp.OK {
					results <- outcome{item: in, err: fmt.Errorf("concurrency: worker error: %s", resp.Error)}
					return
				}
				var out O
				if len(resp.Out) > 0 {
					if err := json.Unmarshal(resp.Out, &out); err != nil {
						results <- outcome{item: in, err: err}
						return
					}
				}
				results <- outcome{item: in, out: out}
			}(pipe, item, reqID)
			return true
		})
		wg.Wait()
	}()

	var firstErr error
	for res := range results {
		if res.err != nil {
			onError(res.item, res.err)
			if opts.FailFast && firstErr == nil {
				firstErr = res.err
				cancel()
			}
			continue
		}
		if err := onResult(res.out); err != nil {
			onError(res.item, err)
			if opts.FailFast && firstErr == nil {
				firstErr = err
				cancel()
			}
		}
	}

	e.shutdownPipes(pipes)
	if firstErr != nil {
		return firstErr
	}
	return produceErr
}

func (e *ProcessExecutor[I, O]) shutdownPipes(pipes []*procPipe) {
	for _, p := range pipes {
		p.stdin.Close()
	}
}

// Close waits for every spawned worker process to exit after its stdin
// has been closed. Safe to call more than once.
func (e *ProcessExecutor[I, O]) Close() error {
	e.mu.Lock()
	procs := e.procs
	e.procs = nil
	e.mu.Unlock()

	var firstErr error
	for _, cmd := range procs {
		if err := cmd.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RunWorkerLoop is the subprocess side of the protocol: it reads
// length-prefixed JSON requests from r, applies handle to each
// decoded item, and writes length-prefixed JSON responses to w until r
// is closed. cmd/repocapsule's main() reaches it through
// repocapsule.WorkerMain when its "-repocapsule-worker" flag is set.
func RunWorkerLoop[I, O any](r io.Reader, w io.Writer, handle func(I) (O, error)) error {
	reader := bufio.NewReader(r)
	for {
		raw, err := readFrame(reader)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		var req workerRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return err
		}
		var in I
		resp := workerResponse{ID: req.ID}
		if err := json.Unmarshal(req.Item, &in); err != nil {
			resp.Error = err.Error()
		} else {
			out, err := handle(in)
			if err != nil {
				resp.Error = err.Error()
			} else {
				resp.OK = true
				outJSON, err := json.Marshal(out)
				if err != nil {
					resp.OK = false
					resp.Error = err.Error()
				} else {
					resp.Out = outJSON
				}
			}
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		if err := writeFrame(w, payload); err != nil {
			return err
		}
	}
}
