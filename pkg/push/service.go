package push

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/signalmax/signalmax/pkg/models"
	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/pagination"
	"github.com/signalmax/signalmax/pkg/repository/document"
)

// Target selects the audience of a broadcast.
type Target string

const (
	TargetAll        Target = "all"
	TargetPremium    Target = "premium"
	TargetNonPremium Target = "non-premium"
)

// ParseTarget accepts "all", "premium" and "non-premium".
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case TargetAll, TargetPremium, TargetNonPremium:
		return t, nil
	default:
		return "", pushError(ErrInvalidTarget, fmt.Sprintf("%q", s))
	}
}

// Directory is the read access to the users collection.
type Directory interface {
	document.Source
	document.Getter
}

// Request is one targeted broadcast.
type Request struct {
	Target Target
	Title  string
	Body   string
	Data   map[string]string
}

// Result summarizes a broadcast.
type Result struct {
	Users        int
	Tokens       int
	Skipped      int
	SuccessCount int
	FailureCount int
	FailedTokens []string
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// ScanPageSize is the number of users read per page; 0 means MaxTokensPerSend.
	ScanPageSize int
	// GatewayName labels metrics.
	GatewayName string
}

// Service sends targeted notifications on behalf of an administrator.
type Service struct {
	users    Directory
	gateway  Gateway
	pageSize int
	name     string
	logger   logger.Logger
}

// NewService builds a Service.
func NewService(users Directory, gateway Gateway, cfg ServiceConfig, log logger.Logger) (*Service, error) {
	if users == nil || gateway == nil {
		return nil, errors.New("push service requires a user directory and a gateway")
	}
	if cfg.ScanPageSize <= 0 {
		cfg.ScanPageSize = MaxTokensPerSend
	}
	if cfg.GatewayName == "" {
		cfg.GatewayName = "custom"
	}
	return &Service{
		users:    users,
		gateway:  gateway,
		pageSize: cfg.ScanPageSize,
		name:     cfg.GatewayName,
		logger:   logger.OrNop(log).With("component", "push"),
	}, nil
}

// SendTargeted checks that callerID is an administrator, collects the device tokens of the
// target audience and sends the notification to each distinct token once. An audience
// without tokens is a successful no-op.
func (s *Service) SendTargeted(ctx context.Context, callerID string, req Request) (Result, error) {
	if err := s.authorize(ctx, callerID); err != nil {
		return Result{}, err
	}
	n := Notification{Title: req.Title, Body: req.Body, Data: req.Data}
	if err := n.Validate(); err != nil {
		return Result{}, err
	}
	target, err := ParseTarget(string(req.Target))
	if err != nil {
		return Result{}, err
	}
	log := s.logger.WithContext(ctx).With("target", target)

	res, tokens, err := s.audience(ctx, target)
	if err != nil {
		return res, err
	}
	if len(tokens) == 0 {
		log.Info("no target tokens found", "users", res.Users)
		recordSend(s.name, "empty", 0)
		return res, nil
	}

	var sent Report
	for _, part := range chunk(tokens, MaxTokensPerSend) {
		rep, err := s.gateway.Send(ctx, part, n)
		if err != nil {
			recordSend(s.name, "failed", len(part))
			log.Error("push send failed", "tokens", len(part), "sent", res.SuccessCount, "error", err)
			return res, fmt.Errorf("%w: %w", ErrGatewayFailed, err)
		}
		sent.merge(rep)
		res.SuccessCount, res.FailureCount, res.FailedTokens = sent.SuccessCount, sent.FailureCount, sent.FailedTokens
		recordSend(s.name, "ok", len(part))
		recordTokens(rep)
	}
	log.Info("push sent", "users", res.Users, "tokens", res.Tokens, "success", res.SuccessCount, "failure", res.FailureCount)
	return res, nil
}

func (s *Service) authorize(ctx context.Context, callerID string) error {
	if strings.TrimSpace(callerID) == "" {
		return pushError(ErrPermissionDenied, "caller is not authenticated")
	}
	d, err := s.users.Get(ctx, models.CollectionUsers, callerID)
	if errors.Is(err, document.ErrNotFound) {
		return pushError(ErrPermissionDenied, "unknown caller "+callerID)
	}
	if err != nil {
		return fmt.Errorf("load caller %s: %w", callerID, err)
	}
	caller, err := models.ParseUser(d)
	if err != nil || !caller.IsAdmin {
		return pushError(ErrPermissionDenied, "caller "+callerID+" is not an administrator")
	}
	return nil
}

// audience walks the users of target page by page and returns their distinct tokens.
func (s *Service) audience(ctx context.Context, target Target) (Result, []string, error) {
	// Users without a token field never join the audience.
	q := document.Query{
		Collection: models.CollectionUsers,
		Order:      document.SortAsc,
		Filters:    []document.Condition{document.Where("fcmTokens", document.OpNotEqual, nil)},
	}
	switch target {
	case TargetPremium:
		q.Filters = append(q.Filters, document.Where("isPremium", document.OpEqual, true))
	case TargetNonPremium:
		q.Filters = append(q.Filters, document.Where("isPremium", document.OpNotEqual, true))
	}

	w, err := pagination.NewWindow[document.Document](s.users, func(d document.Document) (document.Document, error) { return d, nil }, s.logger)
	if err != nil {
		return Result{}, nil, err
	}
	var (
		res    Result
		tokens []string
	)
	page, err := w.LoadFirst(ctx, q, s.pageSize)
	for {
		if errors.Is(err, pagination.ErrEmptyPage) {
			break
		}
		if err != nil {
			return res, nil, err
		}
		for _, it := range page.Items {
			u, err := models.ParseUser(it.Value)
			if err != nil {
				res.Skipped++
				s.logger.Warn("skipping malformed user", "id", it.ID, "error", err)
				continue
			}
			res.Users++
			tokens = append(tokens, u.FCMTokens...)
		}
		if !page.HasNext {
			break
		}
		page, err = w.LoadNext(ctx)
	}
	tokens = DedupeTokens(tokens)
	res.Tokens = len(tokens)
	return res, tokens, nil
}
