package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/soyeahso/memarena/internal/chat"
	"github.com/soyeahso/memarena/internal/stream"
)

// ErrIncompleteStream is returned when a stream closes before a finish or
// error fragment.
var ErrIncompleteStream = errors.New("Upstream stream ended unexpectedly")

// StreamChat posts one agent's chat request and writes every fragment of the
// reply to w in order. A non-200 reply is returned as *Error before any
// fragment is written. Cancelling ctx aborts the request.
func (c *Client) StreamChat(ctx context.Context, req chat.Request, w stream.Writer) error {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/chat", nil, req)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("chat stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return decodeError(resp.StatusCode, data)
	}

	sc := stream.NewScanner(resp.Body)
	terminated := false
	for sc.Next() {
		ev := sc.Event()
		if ev.Done() {
			break
		}
		frag, err := stream.DecodeFragment(ev.Data)
		if err != nil {
			c.log.Warn().Err(err).Str("agent", string(req.AgentID)).Msg("skipping undecodable event")
			continue
		}
		if err := w.Write(frag); err != nil {
			return err
		}
		if frag.Terminal() {
			terminated = true
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read chat stream: %w", err)
	}
	if !terminated {
		return ErrIncompleteStream
	}
	return nil
}
