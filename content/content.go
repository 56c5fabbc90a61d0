package content

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrUnknownContent = errors.New("unknown content")
	ErrEmptyBody      = errors.New("content body is empty")
)

type RefKind string

const (
	KindPost    RefKind = "post"
	KindComment RefKind = "comment"
)

// Ref points at a post or comment.
type Ref struct {
	Kind RefKind `json:"kind"`
	ID   string  `json:"id"`
}

func (r Ref) Key() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.ID)
}

type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags,omitempty"`
	Hidden    bool      `json:"hidden"`
	CreatedAt time.Time `json:"created_at"`
}

type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags,omitempty"`
	Hidden    bool      `json:"hidden"`
	CreatedAt time.Time `json:"created_at"`
}

// Flag is one report against a piece of content. Flags are append-only;
// the moderation threshold counts distinct reporters.
type Flag struct {
	Ref        Ref       `json:"ref"`
	ReporterID string    `json:"reporter_id"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// Store holds posts, comments and their report flags. Lifecycle decisions
// (hiding on an upheld dispute) are made by the caller; the store only
// applies them.
type Store struct {
	posts    map[string]*Post
	comments map[string]*Comment
	flags    map[string][]Flag
	now      func() time.Time
	mu       sync.RWMutex
}

func NewStore(clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		posts:    make(map[string]*Post),
		comments: make(map[string]*Comment),
		flags:    make(map[string][]Flag),
		now:      clock,
	}
}

func (s *Store) CreatePost(authorID, body string, tags []string) (Post, error) {
	if body == "" {
		return Post{}, errors.Wrap(ErrEmptyBody, "post")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	post := &Post{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Body:      body,
		Tags:      tags,
		CreatedAt: s.now(),
	}
	s.posts[post.ID] = post
	return *post, nil
}

func (s *Store) CreateComment(postID, authorID, body string, tags []string) (Comment, error) {
	if body == "" {
		return Comment{}, errors.Wrap(ErrEmptyBody, "comment")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.posts[postID]; !found {
		return Comment{}, errors.Wrapf(ErrUnknownContent, "post %q", postID)
	}
	comment := &Comment{
		ID:        uuid.NewString(),
		PostID:    postID,
		AuthorID:  authorID,
		Body:      body,
		Tags:      tags,
		CreatedAt: s.now(),
	}
	s.comments[comment.ID] = comment
	return *comment, nil
}

func (s *Store) GetPost(id string) (Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	post, found := s.posts[id]
	if !found {
		return Post{}, errors.Wrapf(ErrUnknownContent, "post %q", id)
	}
	return *post, nil
}

// AuthorOf resolves the author behind a content ref, for reputation
// consequences on dispute resolution.
func (s *Store) AuthorOf(ref Ref) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch ref.Kind {
	case KindPost:
		if post, found := s.posts[ref.ID]; found {
			return post.AuthorID, nil
		}
	case KindComment:
		if comment, found := s.comments[ref.ID]; found {
			return comment.AuthorID, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownContent, "%s", ref.Key())
}

// Report appends a flag against existing content and returns how many
// distinct reporters have flagged it so far.
func (s *Store) Report(ref Ref, reporterID, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.existsLocked(ref) {
		return 0, errors.Wrapf(ErrUnknownContent, "%s", ref.Key())
	}
	key := ref.Key()
	s.flags[key] = append(s.flags[key], Flag{
		Ref:        ref,
		ReporterID: reporterID,
		Reason:     reason,
		At:         s.now(),
	})
	return s.distinctReportersLocked(key), nil
}

func (s *Store) existsLocked(ref Ref) bool {
	switch ref.Kind {
	case KindPost:
		_, found := s.posts[ref.ID]
		return found
	case KindComment:
		_, found := s.comments[ref.ID]
		return found
	}
	return false
}

func (s *Store) distinctReportersLocked(key string) int {
	seen := make(map[string]struct{})
	for _, f := range s.flags[key] {
		seen[f.ReporterID] = struct{}{}
	}
	return len(seen)
}

// Hide marks content as hidden, the usual consequence of an upheld
// report.
func (s *Store) Hide(ref Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ref.Kind {
	case KindPost:
		if post, found := s.posts[ref.ID]; found {
			post.Hidden = true
			return nil
		}
	case KindComment:
		if comment, found := s.comments[ref.ID]; found {
			comment.Hidden = true
			return nil
		}
	}
	return errors.Wrapf(ErrUnknownContent, "%s", ref.Key())
}

// Posts returns a copy of all posts, oldest first.
func (s *Store) Posts() []Post {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Post, 0, len(s.posts))
	for _, post := range s.posts {
		out = append(out, *post)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// AllComments returns a copy of every comment across all posts, oldest
// first.
func (s *Store) AllComments() []Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Comment, 0, len(s.comments))
	for _, comment := range s.comments {
		out = append(out, *comment)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Comments returns a copy of the comments on one post, oldest first.
func (s *Store) Comments(postID string) []Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Comment
	for _, comment := range s.comments {
		if comment.PostID == postID {
			out = append(out, *comment)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
