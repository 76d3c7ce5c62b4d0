package models

import (
	"time"

	"github.com/signalmax/signalmax/pkg/repository/document"
)

// Collection names.
const (
	CollectionUsers   = "users"
	CollectionPosts   = "posts"
	CollectionStories = "stories"
	CollectionSignals = "signals"
	CollectionCourses = "courses"
	CollectionEvents  = "events"
)

// NotificationsPath returns the notification subcollection of a user.
func NotificationsPath(userID string) string {
	return CollectionUsers + "/" + userID + "/notifications"
}

// CommentsPath returns the comment subcollection of a post.
func CommentsPath(postID string) string {
	return CollectionPosts + "/" + postID + "/comments"
}

type UserStats struct {
	Posts      int64
	Likes      int64
	Reputation int64
	Skill      int64
}

type User struct {
	ID        string
	Name      string
	Email     string
	AvatarURL string
	IsAdmin   bool
	IsPremium bool
	IsExpert  bool
	FCMTokens []string
	Stats     UserStats
}

// ParseUser requires name.
func ParseUser(d document.Document) (User, error) {
	f := read(d)
	u := User{
		ID:        d.ID,
		Name:      f.str("name", true),
		Email:     f.str("email", false),
		AvatarURL: f.str("avatarUrl", false),
		IsAdmin:   f.boolean("isAdmin"),
		IsPremium: f.boolean("isPremium"),
		IsExpert:  f.boolean("isExpert"),
		FCMTokens: f.strings("fcmTokens"),
		Stats: UserStats{
			Posts:      f.integer("stats.posts"),
			Likes:      f.integer("stats.likes"),
			Reputation: f.integer("stats.reputation"),
			Skill:      f.integer("stats.skill"),
		},
	}
	return u, f.err
}

type PostStats struct {
	LikesCount    int64
	CommentsCount int64
}

type Post struct {
	ID         string
	AuthorID   string
	AuthorName string
	Content    string
	ImageURL   string
	CreatedAt  time.Time
	LikedBy    []string
	Stats      PostStats
}

// ParsePost requires authorId and createdAt.
func ParsePost(d document.Document) (Post, error) {
	f := read(d)
	p := Post{
		ID:         d.ID,
		AuthorID:   f.str("authorId", true),
		AuthorName: f.str("authorName", false),
		Content:    f.str("content", false),
		ImageURL:   f.str("imageUrl", false),
		CreatedAt:  f.time("createdAt", true),
		LikedBy:    f.strings("likedBy"),
		Stats: PostStats{
			LikesCount:    f.integer("stats.likesCount"),
			CommentsCount: f.integer("stats.commentsCount"),
		},
	}
	return p, f.err
}

// LikedByUser reports whether userID is in LikedBy.
func (p Post) LikedByUser(userID string) bool {
	for _, id := range p.LikedBy {
		if id == userID {
			return true
		}
	}
	return false
}

type Story struct {
	ID         string
	UserID     string
	UserName   string
	UserAvatar string
	ImageURL   string
	CreatedAt  time.Time
}

// ParseStory requires userId and createdAt.
func ParseStory(d document.Document) (Story, error) {
	f := read(d)
	s := Story{
		ID:         d.ID,
		UserID:     f.str("userId", true),
		UserName:   f.str("userName", false),
		UserAvatar: f.str("userAvatar", false),
		ImageURL:   f.str("imageUrl", false),
		CreatedAt:  f.time("createdAt", true),
	}
	return s, f.err
}

// Signal status values.
const (
	SignalRunning  = "Berjalan"
	SignalFinished = "Selesai"
)

type Signal struct {
	ID               string
	Title            string
	Pair             string
	Action           string
	EntryPrice       float64
	StopLoss         float64
	TakeProfitLevels []float64
	Status           string
	Result           string
	ClosePrice       float64
	CreatedAt        time.Time
}

// ParseSignal requires pair, action, entryPrice, status and createdAt.
func ParseSignal(d document.Document) (Signal, error) {
	f := read(d)
	s := Signal{
		ID:               d.ID,
		Title:            f.str("title", false),
		Pair:             f.str("pair", true),
		Action:           f.str("action", true),
		EntryPrice:       f.float("entryPrice", true),
		StopLoss:         f.float("stopLoss", false),
		TakeProfitLevels: f.floats("takeProfitLevels"),
		Status:           f.str("status", true),
		Result:           f.str("result", false),
		ClosePrice:       f.float("closePrice", false),
		CreatedAt:        f.time("createdAt", true),
	}
	return s, f.err
}

// Finished reports whether the signal is in the history list.
func (s Signal) Finished() bool { return s.Status == SignalFinished }

type Course struct {
	ID           string
	Title        string
	Description  string
	ImageURL     string
	LessonsCount int64
}

// ParseCourse requires title.
func ParseCourse(d document.Document) (Course, error) {
	f := read(d)
	c := Course{
		ID:           d.ID,
		Title:        f.str("title", true),
		Description:  f.str("description", false),
		ImageURL:     f.str("imageUrl", false),
		LessonsCount: f.integer("lessonsCount"),
	}
	return c, f.err
}

type Event struct {
	ID          string
	Title       string
	Type        string
	Location    string
	Link        string
	Price       float64
	Description string
	EventDate   time.Time
	Attendees   []string
}

// ParseEvent requires title and eventDate.
func ParseEvent(d document.Document) (Event, error) {
	f := read(d)
	e := Event{
		ID:          d.ID,
		Title:       f.str("title", true),
		Type:        f.str("type", false),
		Location:    f.str("location", false),
		Link:        f.str("link", false),
		Price:       f.float("price", false),
		Description: f.str("description", false),
		EventDate:   f.time("eventDate", true),
		Attendees:   f.strings("attendees"),
	}
	return e, f.err
}

// Notification types written by the application.
const (
	NotificationLike      = "like"
	NotificationComment   = "new_comment"
	NotificationNewSignal = "new_signal"
	NotificationBroadcast = "broadcast"
)

// Link points a notification at an in-app screen or an external URL.
type Link struct {
	Screen string
	URL    string
	Params map[string]any
}

type Notification struct {
	ID        string
	Title     string
	Body      string
	Type      string
	IsRead    bool
	CreatedAt time.Time
	Link      *Link
}

// ParseNotification requires title and createdAt.
func ParseNotification(d document.Document) (Notification, error) {
	f := read(d)
	n := Notification{
		ID:        d.ID,
		Title:     f.str("title", true),
		Body:      f.str("body", false),
		Type:      f.str("type", false),
		IsRead:    f.boolean("isRead"),
		CreatedAt: f.time("createdAt", true),
	}
	if raw := f.object("link"); raw != nil {
		link := &Link{}
		link.Screen, _ = raw["screen"].(string)
		link.URL, _ = raw["url"].(string)
		link.Params, _ = raw["params"].(map[string]any)
		n.Link = link
	}
	return n, f.err
}

// Data renders the notification as document fields.
func (n Notification) Data() map[string]any {
	data := map[string]any{
		"title":     n.Title,
		"body":      n.Body,
		"type":      n.Type,
		"isRead":    n.IsRead,
		"createdAt": n.CreatedAt,
	}
	if n.Link != nil {
		link := map[string]any{}
		if n.Link.Screen != "" {
			link["screen"] = n.Link.Screen
		}
		if n.Link.URL != "" {
			link["url"] = n.Link.URL
		}
		if n.Link.Params != nil {
			link["params"] = n.Link.Params
		}
		data["link"] = link
	}
	return data
}
