// Package community implements the write paths of the community feed: likes, comments
// and the notifications they produce. Every counter change is committed in one atomic
// batch with field transforms, so concurrent likes never lose updates.
package community

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/signalmax/signalmax/pkg/models"
	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/repository/document"
)

const (
	// ExpertReputation is the reputation an expert's like is worth.
	ExpertReputation = 5
	// MemberReputation is the reputation any other like is worth.
	MemberReputation = 1

	previewRunes = 30
)

var (
	// ErrPostNotFound is returned when the target post does not exist.
	ErrPostNotFound = errors.New("community post not found")
	// ErrInvalidComment rejects empty comments.
	ErrInvalidComment = errors.New("community invalid comment")
	// ErrUnauthenticated is returned when no actor is given.
	ErrUnauthenticated = errors.New("community unauthenticated")
)

func communityError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

// Store is the document access the service needs.
type Store interface {
	document.Source
	document.Getter
	document.Batcher
}

// Service applies likes and comments.
type Service struct {
	store  Store
	now    func() time.Time
	logger logger.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for createdAt fields.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a Service.
func NewService(store Store, log logger.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("community store is required")
	}
	s := &Service{store: store, now: time.Now, logger: logger.OrNop(log).With("component", "community")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LikeResult describes the state after a toggle.
type LikeResult struct {
	Liked    bool
	Notified bool
}

// ToggleLike likes postID on behalf of actor, or removes the like if actor already liked
// it. The post counter, the likedBy set and the author's reputation change in one batch;
// liking someone else's post also notifies the author. Own posts never change reputation.
func (s *Service) ToggleLike(ctx context.Context, postID string, actor models.User) (LikeResult, error) {
	if actor.ID == "" {
		return LikeResult{}, ErrUnauthenticated
	}
	post, err := s.loadPost(ctx, postID)
	if err != nil {
		return LikeResult{}, err
	}

	liked := post.LikedByUser(actor.ID)
	delta, points := int64(1), int64(MemberReputation)
	if actor.IsExpert {
		points = ExpertReputation
	}
	likedBy := document.ArrayUnion(actor.ID)
	if liked {
		delta, points = -1, -points
		likedBy = document.ArrayRemove(actor.ID)
	}

	writes := []document.Write{
		document.Update(models.CollectionPosts, postID, map[string]any{
			"stats.likesCount": document.Increment(delta),
			"likedBy":          likedBy,
		}),
	}
	own := post.AuthorID == actor.ID
	if !own {
		writes = append(writes, document.Update(models.CollectionUsers, post.AuthorID, map[string]any{
			"stats.reputation": document.Increment(points),
		}))
	}
	notify := !liked && !own
	if notify {
		n := models.Notification{
			Title:     "Postingan Anda disukai",
			Body:      fmt.Sprintf("%s menyukai postingan Anda.", actor.Name),
			Type:      models.NotificationLike,
			CreatedAt: s.now().UTC(),
			Link:      &models.Link{Screen: "community", Params: map[string]any{"postId": postID}},
		}
		writes = append(writes, document.Set(models.NotificationsPath(post.AuthorID), document.NewID(), n.Data()))
	}

	if err := s.store.Commit(ctx, writes); err != nil {
		return LikeResult{}, fmt.Errorf("toggle like on %s: %w", postID, err)
	}
	s.logger.WithContext(ctx).Debug("like toggled", "post_id", postID, "user_id", actor.ID, "liked", !liked)
	return LikeResult{Liked: !liked, Notified: notify}, nil
}

// Comment is a new comment or reply.
type Comment struct {
	PostID string
	// ParentID makes the comment a reply; the parent's replyCount is incremented.
	ParentID string
	Text     string
}

// CommentResult reports what AddComment wrote.
type CommentResult struct {
	ID        string
	Notified  bool
	Mentioned []string
}

// AddComment stores c under the post's comments, increments the post's comment counter
// (and the parent's reply counter for replies) in one batch, then notifies the post author
// and every @mentioned user other than the commenter.
func (s *Service) AddComment(ctx context.Context, c Comment, actor models.User) (CommentResult, error) {
	if actor.ID == "" {
		return CommentResult{}, ErrUnauthenticated
	}
	text := strings.TrimSpace(c.Text)
	if text == "" {
		return CommentResult{}, communityError(ErrInvalidComment, "text is required")
	}
	post, err := s.loadPost(ctx, c.PostID)
	if err != nil {
		return CommentResult{}, err
	}

	now := s.now().UTC()
	comments := models.CommentsPath(c.PostID)
	data := map[string]any{
		"text":         text,
		"authorId":     actor.ID,
		"authorName":   actor.Name,
		"authorAvatar": actor.AvatarURL,
		"createdAt":    now,
		"replyCount":   int64(0),
	}
	var writes []document.Write
	if c.ParentID != "" {
		data["parentId"] = c.ParentID
		writes = append(writes, document.Update(comments, c.ParentID, map[string]any{"replyCount": document.Increment(1)}))
	}
	res := CommentResult{ID: document.NewID()}
	writes = append(writes,
		document.Set(comments, res.ID, data),
		document.Update(models.CollectionPosts, c.PostID, map[string]any{"stats.commentsCount": document.Increment(1)}),
	)
	link := &models.Link{Screen: "community", Params: map[string]any{"postId": c.PostID}}
	if post.AuthorID != actor.ID {
		title := "Postingan Anda dikomentari"
		if c.ParentID != "" {
			title = "Ada balasan di postingan Anda"
		}
		n := models.Notification{
			Title:     title,
			Body:      fmt.Sprintf("%s: %q", actor.Name, preview(text)),
			Type:      models.NotificationComment,
			CreatedAt: now,
			Link:      link,
		}
		writes = append(writes, document.Set(models.NotificationsPath(post.AuthorID), document.NewID(), n.Data()))
		res.Notified = true
	}

	if err := s.store.Commit(ctx, writes); err != nil {
		return CommentResult{}, fmt.Errorf("add comment to %s: %w", c.PostID, err)
	}

	// Mentions are best effort after the comment is stored.
	res.Mentioned = s.notifyMentions(ctx, text, actor, link, now)
	return res, nil
}

// EditComment replaces the text of a comment and stamps editedAt.
func (s *Service) EditComment(ctx context.Context, postID, commentID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return communityError(ErrInvalidComment, "text is required")
	}
	err := s.store.Commit(ctx, []document.Write{
		document.Update(models.CommentsPath(postID), commentID, map[string]any{"text": text, "editedAt": s.now().UTC()}),
	})
	if err != nil {
		return fmt.Errorf("edit comment %s: %w", commentID, err)
	}
	return nil
}

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// Mentions returns the distinct lower-cased names mentioned in text, in order.
func Mentions(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		name := strings.ToLower(m[1])
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func (s *Service) notifyMentions(ctx context.Context, text string, actor models.User, link *models.Link, now time.Time) []string {
	log := s.logger.WithContext(ctx)
	var notified []string
	for _, name := range Mentions(text) {
		docs, err := s.store.Find(ctx, document.Query{
			Collection: models.CollectionUsers,
			Filters:    []document.Condition{document.Where("name_lowercase", document.OpEqual, name)},
			Limit:      1,
		})
		if err != nil {
			log.Warn("mention lookup failed", "name", name, "error", err)
			continue
		}
		if len(docs) == 0 || docs[0].ID == actor.ID {
			continue
		}
		n := models.Notification{
			Title:     "Anda disebut dalam komentar",
			Body:      fmt.Sprintf("%s menyebut Anda: %q", actor.Name, preview(text)),
			Type:      models.NotificationComment,
			CreatedAt: now,
			Link:      link,
		}
		err = s.store.Commit(ctx, []document.Write{
			document.Set(models.NotificationsPath(docs[0].ID), document.NewID(), n.Data()),
		})
		if err != nil {
			log.Warn("mention notification failed", "user_id", docs[0].ID, "error", err)
			continue
		}
		notified = append(notified, docs[0].ID)
	}
	return notified
}

func (s *Service) loadPost(ctx context.Context, postID string) (models.Post, error) {
	if postID == "" || strings.Contains(postID, "/") {
		return models.Post{}, communityError(ErrPostNotFound, fmt.Sprintf("%q", postID))
	}
	d, err := s.store.Get(ctx, models.CollectionPosts, postID)
	if errors.Is(err, document.ErrNotFound) {
		return models.Post{}, communityError(ErrPostNotFound, postID)
	}
	if err != nil {
		return models.Post{}, fmt.Errorf("load post %s: %w", postID, err)
	}
	return models.ParsePost(d)
}

func preview(text string) string {
	r := []rune(text)
	if len(r) <= previewRunes {
		return text
	}
	return string(r[:previewRunes]) + "..."
}
