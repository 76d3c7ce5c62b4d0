// Package push sends targeted notifications to the devices registered by users.
//
// A Gateway delivers one notification to a list of device tokens and reports per-token
// outcomes. Service selects the audience from the users collection, de-duplicates their
// tokens and fans the send out in gateway-sized chunks.
package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MaxTokensPerSend is the largest token list passed to one Gateway.Send call.
const MaxTokensPerSend = 500

var (
	// ErrInvalidNotification rejects notifications without title or body.
	ErrInvalidNotification = errors.New("push invalid notification")
	// ErrInvalidTarget rejects unknown audiences.
	ErrInvalidTarget = errors.New("push invalid target")
	// ErrPermissionDenied is returned when the caller is not an administrator.
	ErrPermissionDenied = errors.New("push permission denied")
	// ErrGatewayFailed wraps a transport failure of the gateway.
	ErrGatewayFailed = errors.New("push gateway failed")
)

func pushError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

// Notification is the visible payload plus optional key/value data.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Validate requires a title and a body.
func (n Notification) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return pushError(ErrInvalidNotification, "title is required")
	}
	if strings.TrimSpace(n.Body) == "" {
		return pushError(ErrInvalidNotification, "body is required")
	}
	return nil
}

// Report counts delivered and rejected tokens of one send.
type Report struct {
	SuccessCount int
	FailureCount int
	FailedTokens []string
}

func (r *Report) merge(o Report) {
	r.SuccessCount += o.SuccessCount
	r.FailureCount += o.FailureCount
	r.FailedTokens = append(r.FailedTokens, o.FailedTokens...)
}

// Gateway delivers a notification to device tokens. Callers pass at most
// MaxTokensPerSend tokens, already de-duplicated.
type Gateway interface {
	Send(ctx context.Context, tokens []string, n Notification) (Report, error)
	Close() error
}

// DedupeTokens trims tokens, drops empty ones and keeps the first occurrence of each.
func DedupeTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

func chunk(tokens []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(tokens); start += size {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		out = append(out, tokens[start:end])
	}
	return out
}
