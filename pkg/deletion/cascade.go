package deletion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/repository/document"
	s3store "github.com/signalmax/signalmax/pkg/store/s3"
)

// DefaultClaimTTL bounds how long a cascade claim survives a crashed holder.
const DefaultClaimTTL = 10 * time.Minute

// BlobDeleter removes a stored object given its download URL.
type BlobDeleter interface {
	DeleteURL(ctx context.Context, rawURL string) error
}

// Claimer de-duplicates cascades across processes (the Redis adapter implements it).
type Claimer interface {
	Key(parts ...string) string
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// TriggerKind names the parent entity whose removal started a cascade.
type TriggerKind string

const (
	TriggerUser   TriggerKind = "user"
	TriggerCourse TriggerKind = "course"
)

// Trigger is one parent deletion.
type Trigger struct {
	Kind TriggerKind
	ID   string
}

// ParseTriggerKind accepts "user" and "course".
func ParseTriggerKind(s string) (TriggerKind, error) {
	switch TriggerKind(strings.ToLower(strings.TrimSpace(s))) {
	case TriggerUser:
		return TriggerUser, nil
	case TriggerCourse:
		return TriggerCourse, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTrigger, s)
	}
}

// Report summarizes a cascade. Collections is keyed by collection path.
type Report struct {
	Trigger      Trigger
	Skipped      bool
	Collections  map[string]Result
	BlobsDeleted int
	BlobsMissing int
	BlobFailures int
}

// Total sums every collection result.
func (r Report) Total() Result {
	var total Result
	for _, res := range r.Collections {
		total.add(res)
	}
	return total
}

// CascadeConfig configures a Cascade. Blobs and Claims are optional.
type CascadeConfig struct {
	Blobs    BlobDeleter
	Claims   Claimer
	ClaimTTL time.Duration
}

// Cascade removes the documents owned by a deleted user or course.
type Cascade struct {
	deleter *Deleter
	blobs   BlobDeleter
	claims  Claimer
	ttl     time.Duration
	logger  logger.Logger
	wg      sync.WaitGroup
}

// NewCascade builds a Cascade over deleter.
func NewCascade(deleter *Deleter, cfg CascadeConfig, log logger.Logger) (*Cascade, error) {
	if deleter == nil {
		return nil, errors.New("cascade deleter is required")
	}
	ttl := cfg.ClaimTTL
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &Cascade{
		deleter: deleter,
		blobs:   cfg.Blobs,
		claims:  cfg.Claims,
		ttl:     ttl,
		logger:  logger.OrNop(log).With("component", "cascade"),
	}, nil
}

// OnUserDeleted removes the user's posts and stories (with their images) and empties the
// notifications and completedLessons subcollections. Every step runs even when an
// earlier one fails; the failures are joined.
func (c *Cascade) OnUserDeleted(ctx context.Context, userID string) (Report, error) {
	return c.run(ctx, Trigger{Kind: TriggerUser, ID: userID}, func(ctx context.Context, rep *Report) error {
		var errs []error
		errs = append(errs, c.step(ctx, rep, document.Query{
			Collection: "posts",
			Filters:    []document.Condition{document.Where("authorId", document.OpEqual, userID)},
		}, nil))
		errs = append(errs, c.step(ctx, rep, document.Query{
			Collection: "stories",
			Filters:    []document.Condition{document.Where("userId", document.OpEqual, userID)},
		}, func(ctx context.Context, docs []document.Document) {
			c.deleteStoryImages(ctx, rep, docs)
		}))
		for _, sub := range []string{"notifications", "completedLessons"} {
			errs = append(errs, c.step(ctx, rep, document.Query{Collection: "users/" + userID + "/" + sub}, nil))
		}
		return errors.Join(errs...)
	})
}

// OnCourseDeleted empties the chapters, questions and quizSettings subcollections.
func (c *Cascade) OnCourseDeleted(ctx context.Context, courseID string) (Report, error) {
	return c.run(ctx, Trigger{Kind: TriggerCourse, ID: courseID}, func(ctx context.Context, rep *Report) error {
		var errs []error
		for _, sub := range []string{"chapters", "questions", "quizSettings"} {
			errs = append(errs, c.step(ctx, rep, document.Query{Collection: "courses/" + courseID + "/" + sub}, nil))
		}
		return errors.Join(errs...)
	})
}

// Run executes the cascade for t.
func (c *Cascade) Run(ctx context.Context, t Trigger) (Report, error) {
	switch t.Kind {
	case TriggerUser:
		return c.OnUserDeleted(ctx, t.ID)
	case TriggerCourse:
		return c.OnCourseDeleted(ctx, t.ID)
	default:
		return Report{Trigger: t}, fmt.Errorf("%w: %q", ErrUnknownTrigger, t.Kind)
	}
}

// Dispatch runs the cascade in the background and only logs its outcome. The returned
// channel is closed when the run ends; Wait blocks for every dispatched run.
func (c *Cascade) Dispatch(ctx context.Context, t Trigger) <-chan struct{} {
	done := make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		rep, err := c.Run(context.WithoutCancel(ctx), t)
		if err != nil {
			c.logger.WithContext(ctx).Error("cascade failed", "trigger", t.Kind, "id", t.ID, "error", err)
			return
		}
		total := rep.Total()
		c.logger.WithContext(ctx).Info("cascade finished", "trigger", t.Kind, "id", t.ID,
			"skipped", rep.Skipped, "deleted", total.Deleted, "batches", total.Batches)
	}()
	return done
}

// Wait blocks until every dispatched cascade has ended.
func (c *Cascade) Wait() { c.wg.Wait() }

func (c *Cascade) run(ctx context.Context, t Trigger, body func(context.Context, *Report) error) (Report, error) {
	rep := Report{Trigger: t, Collections: map[string]Result{}}
	if strings.TrimSpace(t.ID) == "" || strings.Contains(t.ID, "/") {
		recordCascade(t.Kind, "rejected")
		return rep, fmt.Errorf("cascade %s: invalid id %q", t.Kind, t.ID)
	}
	log := c.logger.WithContext(ctx).With("trigger", t.Kind, "id", t.ID)

	if c.claims != nil {
		key := c.claims.Key("cascade", string(t.Kind), t.ID)
		ok, err := c.claims.Claim(ctx, key, c.ttl)
		if err != nil {
			recordCascade(t.Kind, "claim_failed")
			return rep, fmt.Errorf("cascade %s %s: %w", t.Kind, t.ID, err)
		}
		if !ok {
			log.Info("cascade already running elsewhere")
			recordCascade(t.Kind, "skipped")
			rep.Skipped = true
			return rep, nil
		}
		defer func() {
			if err := c.claims.Release(context.WithoutCancel(ctx), key); err != nil {
				log.Warn("releasing cascade claim failed", "error", err)
			}
		}()
	}

	log.Info("cascade started")
	if err := body(ctx, &rep); err != nil {
		recordCascade(t.Kind, "failed")
		return rep, fmt.Errorf("cascade %s %s: %w", t.Kind, t.ID, err)
	}
	recordCascade(t.Kind, "ok")
	total := rep.Total()
	log.Info("cascade completed", "deleted", total.Deleted, "blobs_deleted", rep.BlobsDeleted)
	return rep, nil
}

func (c *Cascade) step(ctx context.Context, rep *Report, q document.Query, committed CommittedFunc) error {
	res, err := c.deleter.DeleteQueryThen(ctx, q, nil, committed)
	prev := rep.Collections[q.Collection]
	prev.add(res)
	rep.Collections[q.Collection] = prev
	return err
}

// deleteStoryImages removes the images of a batch of stories once their documents are
// gone. Blob failures are counted, never returned.
func (c *Cascade) deleteStoryImages(ctx context.Context, rep *Report, docs []document.Document) {
	if c.blobs == nil {
		return
	}
	for _, d := range docs {
		raw, _ := d.Data["imageUrl"].(string)
		if strings.TrimSpace(raw) == "" {
			continue
		}
		err := c.blobs.DeleteURL(ctx, raw)
		switch {
		case err == nil:
			rep.BlobsDeleted++
			recordBlob("deleted")
		case errors.Is(err, s3store.ErrObjectNotFound):
			rep.BlobsMissing++
			recordBlob("missing")
			c.logger.Debug("story image already gone", "story", d.ID)
		default:
			rep.BlobFailures++
			recordBlob("failed")
			c.logger.Warn("deleting story image failed", "story", d.ID, "error", err)
		}
	}
}
