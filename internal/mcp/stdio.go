package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxLineSize bounds one newline-delimited JSON-RPC message.
const maxLineSize = 10 << 20

// ServeStdio reads newline-delimited JSON-RPC messages from in and writes
// one response line per request to out. Requests are handled concurrently;
// at EOF it waits for in-flight requests before returning. Cancelling ctx
// returns promptly even while in is idle.
func ServeStdio(ctx context.Context, r *Router, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	write := func(resp *Response) {
		data, err := json.Marshal(resp)
		if err != nil {
			r.logger.Error().Str("error", err.Error()).Msg("Failed to encode JSON-RPC response")
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if _, err := out.Write(append(data, '\n')); err != nil {
			r.logger.Error().Str("error", err.Error()).Msg("Failed to write JSON-RPC response")
		}
	}

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			msg := make([]byte, len(line))
			copy(msg, line)
			select {
			case lines <- msg:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	// The reader goroutine stays blocked in Read until in is closed; a
	// cancelled context returns without waiting for it.
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case msg, ok := <-lines:
			if !ok || ctx.Err() != nil {
				break loop
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if resp := r.Handle(ctx, msg); resp != nil {
					write(resp)
				}
			}()
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := <-readErr; err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}
	return nil
}
