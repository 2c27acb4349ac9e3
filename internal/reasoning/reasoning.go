package reasoning

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

type Purpose string

const (
	PurposeEvaluation Purpose = "evaluation"
	PurposeUtterance  Purpose = "utterance"
	PurposeDecision   Purpose = "decision"
)

type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

type Block struct {
	Role Role
	Text string
}

type Request struct {
	Purpose Purpose
	Blocks  []Block
}

// Engine is the narrow reasoning contract: role-tagged text blocks in,
// free text or an error out. Callers own all parsing and all fallbacks.
type Engine interface {
	Complete(ctx context.Context, req Request) (string, error)
}

func (r Request) LastUserText() string {
	for i := len(r.Blocks) - 1; i >= 0; i-- {
		if r.Blocks[i].Role == RoleUser {
			return strings.TrimSpace(r.Blocks[i].Text)
		}
	}
	return ""
}

func retryableTransport(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded)
}
