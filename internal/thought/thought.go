package thought

import (
	"slices"
	"strings"
	"time"

	"github.com/enso-notes/enso/internal/errs"
)

// DefaultTitle replaces a blank title.
const DefaultTitle = "Untitled Thought"

// MaxTitleLength bounds the title in runes.
const MaxTitleLength = 500

// Thought is the stored form of a note. Tags and Links are always non-nil and
// sorted when produced by the store.
type Thought struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Tags      []string   `json:"tags"`
	Links     []string   `json:"links"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at"`
}

// Snapshot is a note state submitted by a client. Every timestamp is
// optional, and so is the id for notes the server has never seen.
type Snapshot struct {
	ID        string     `json:"id,omitempty"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Tags      []string   `json:"tags"`
	Links     []string   `json:"links"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the thought is a tombstone.
func (t *Thought) IsDeleted() bool {
	return t.DeletedAt != nil
}

// Clone returns a deep copy.
func (t Thought) Clone() Thought {
	t.Tags = slices.Clone(t.Tags)
	t.Links = slices.Clone(t.Links)
	if t.DeletedAt != nil {
		d := *t.DeletedAt
		t.DeletedAt = &d
	}
	return t
}

// Snapshot converts the thought into its wire form.
func (t Thought) Snapshot() Snapshot {
	c := t.Clone()
	created, updated := c.CreatedAt, c.UpdatedAt
	return Snapshot{
		ID:        c.ID,
		Title:     c.Title,
		Content:   c.Content,
		Tags:      c.Tags,
		Links:     c.Links,
		CreatedAt: &created,
		UpdatedAt: &updated,
		DeletedAt: c.DeletedAt,
	}
}

// Equal reports whether two thoughts carry the same state. Tag and link
// order is ignored.
func (t Thought) Equal(o Thought) bool {
	if t.ID != o.ID || t.Title != o.Title || t.Content != o.Content {
		return false
	}
	if !t.CreatedAt.Equal(o.CreatedAt) || !t.UpdatedAt.Equal(o.UpdatedAt) {
		return false
	}
	if (t.DeletedAt == nil) != (o.DeletedAt == nil) {
		return false
	}
	if t.DeletedAt != nil && !t.DeletedAt.Equal(*o.DeletedAt) {
		return false
	}
	return sameSet(t.Tags, o.Tags) && sameSet(t.Links, o.Links)
}

// Validate checks the invariants of a stored thought.
func (t *Thought) Validate() error {
	if t.ID == "" {
		return errs.Validation("id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return errs.Validation("title must not be empty")
	}
	if n := len([]rune(t.Title)); n > MaxTitleLength {
		return errs.Validation("title must be %d characters or less (got %d)", MaxTitleLength, n)
	}
	if strings.TrimSpace(t.Content) == "" {
		return errs.Validation("content must not be empty")
	}
	if t.CreatedAt.IsZero() || t.UpdatedAt.IsZero() {
		return errs.Validation("created_at and updated_at are required")
	}
	if t.UpdatedAt.Before(t.CreatedAt) {
		return errs.Validation("updated_at must not be before created_at")
	}
	if slices.Contains(t.Links, t.ID) {
		return errs.Validation("thought %s links to itself", t.ID)
	}
	return nil
}

// Normalize trims and canonicalizes a snapshot in place. A blank title falls
// back to DefaultTitle; blank content is rejected.
func (s *Snapshot) Normalize() error {
	s.ID = strings.TrimSpace(s.ID)
	s.Title = NormalizeTitle(s.Title)
	if n := len([]rune(s.Title)); n > MaxTitleLength {
		return errs.Validation("title must be %d characters or less (got %d)", MaxTitleLength, n)
	}
	if strings.TrimSpace(s.Content) == "" {
		return errs.Validation("content must not be empty")
	}
	s.Tags = NormalizeTags(s.Tags)
	s.Links = SanitizeLinks(s.Links, s.ID)
	s.CreatedAt = normalizePtr(s.CreatedAt)
	s.UpdatedAt = normalizePtr(s.UpdatedAt)
	s.DeletedAt = normalizePtr(s.DeletedAt)
	return nil
}

// NormalizeTitle trims the title, substituting DefaultTitle when blank.
func NormalizeTitle(title string) string {
	if trimmed := strings.TrimSpace(title); trimmed != "" {
		return trimmed
	}
	return DefaultTitle
}

// NormalizeTag lowercases and trims a single tag.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// NormalizeTags lowercases, trims and deduplicates tags, dropping blanks.
// The result is sorted and never nil.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = NormalizeTag(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	slices.Sort(out)
	return out
}

// SanitizeLinks trims and deduplicates link targets, dropping blanks and
// selfID. The result is sorted and never nil.
func SanitizeLinks(links []string, selfID string) []string {
	out := make([]string, 0, len(links))
	seen := make(map[string]struct{}, len(links))
	for _, link := range links {
		link = strings.TrimSpace(link)
		if link == "" || (selfID != "" && link == selfID) {
			continue
		}
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	slices.Sort(out)
	return out
}

// NormalizeTime converts t to UTC at the storage precision.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func normalizePtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	n := NormalizeTime(*t)
	return &n
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
