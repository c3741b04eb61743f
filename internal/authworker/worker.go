package authworker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/codefionn/scee/internal/consts"
	"github.com/codefionn/scee/internal/logger"
	"github.com/codefionn/scee/internal/protocol"
	"github.com/codefionn/scee/internal/storage"
)

// Verifier checks a username and password against the credential store
type Verifier interface {
	VerifyCredentials(ctx context.Context, username, password string) (*storage.User, error)
}

// Serve answers requests from in until in is exhausted, a shutdown command
// arrives, or ctx is cancelled. Requests are handled strictly one at a time.
func Serve(ctx context.Context, in io.Reader, out io.Writer, verifier Verifier) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, consts.BufferSize4KB), consts.MaxFrameSize)
	enc := json.NewEncoder(out)

	logger.Info("auth worker ready")

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			logger.Warn("auth worker: dropping malformed request: %v", err)
			if err := enc.Encode(Response{Status: StatusError, Message: MsgMalformedRequest}); err != nil {
				return fmt.Errorf("failed to write response: %w", err)
			}
			continue
		}

		resp, stop := handle(ctx, verifier, &req)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
		if stop {
			logger.Info("auth worker: shutdown requested")
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}
	logger.Info("auth worker: input closed")
	return nil
}

func handle(ctx context.Context, verifier Verifier, req *Request) (Response, bool) {
	resp := Response{ID: req.ID, Status: StatusOK}

	switch req.Command {
	case CommandPing:
		return resp, false

	case CommandShutdown:
		return resp, true

	case CommandAuth:
		user, err := verifier.VerifyCredentials(ctx, req.User, req.Password)
		req.Password = ""
		switch {
		case errors.Is(err, storage.ErrInvalidCredentials):
			logger.Info("auth worker: rejected credentials for %q", req.User)
			return Response{ID: req.ID, Status: StatusError, Message: MsgInvalidCredentials}, false
		case err != nil:
			logger.Error("auth worker: credential lookup failed: %v", err)
			return Response{ID: req.ID, Status: StatusError, Message: MsgInternalError}, false
		}

		resp.UserData = &protocol.User{ID: user.ID, Username: user.Username, Role: user.Role}
		return resp, false

	default:
		return Response{ID: req.ID, Status: StatusError, Message: fmt.Sprintf("unknown command: %s", req.Command)}, false
	}
}
