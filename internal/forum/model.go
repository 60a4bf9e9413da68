package forum

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category enumerates the mirrored sub-forums.
type Category string

const (
	// CategoryInterestCheck is the Interest Checks board.
	CategoryInterestCheck Category = "IC"
	// CategoryGroupBuy is the Group Buys board.
	CategoryGroupBuy Category = "GB"
)

const (
	boardInterestCheck = 132
	boardGroupBuy      = 70
)

// PageSize is the number of rows the source renders per listing or comment page.
const PageSize = 50

var (
	// ErrInvalidCategory indicates a category outside the mirrored sub-forums.
	ErrInvalidCategory = errors.New("forum: invalid category")
	// ErrInvalidTopicID indicates that a topic identifier is not positive.
	ErrInvalidTopicID = errors.New("forum: invalid topic id")
	// ErrThreadNotFound indicates that no thread is stored for a topic id.
	ErrThreadNotFound = errors.New("forum: thread not found")
)

// Categories lists every mirrored category in crawl order.
func Categories() []Category {
	return []Category{CategoryInterestCheck, CategoryGroupBuy}
}

// ParseCategory validates raw input such as "ic" or "GB".
func ParseCategory(rawInput string) (Category, error) {
	switch Category(strings.ToUpper(strings.TrimSpace(rawInput))) {
	case CategoryInterestCheck:
		return CategoryInterestCheck, nil
	case CategoryGroupBuy:
		return CategoryGroupBuy, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, rawInput)
	}
}

// BoardID returns the source board number backing the category.
func (c Category) BoardID() (int, error) {
	switch c {
	case CategoryInterestCheck:
		return boardInterestCheck, nil
	case CategoryGroupBuy:
		return boardGroupBuy, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidCategory, string(c))
	}
}

// String returns the stored representation of the category.
func (c Category) String() string {
	return string(c)
}

// TopicID is the source-assigned thread identifier.
type TopicID int64

// NewTopicID validates the value and returns a TopicID.
func NewTopicID(value int64) (TopicID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTopicID, value)
	}
	return TopicID(value), nil
}

// Int64 exposes the raw identifier.
func (id TopicID) Int64() int64 {
	return int64(id)
}

// Thread is the persisted mirror of a forum topic.
type Thread struct {
	TopicID       int64     `gorm:"column:topic_id;primaryKey;autoIncrement:false"`
	Title         string    `gorm:"column:title;type:text;not null"`
	URL           string    `gorm:"column:url;type:text;not null"`
	Creator       string    `gorm:"column:creator;type:text;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	LastUpdatedAt time.Time `gorm:"column:last_updated_at;not null;index:idx_threads_category_updated,priority:2"`
	Category      Category  `gorm:"column:category;size:2;not null;index:idx_threads_category_updated,priority:1"`
	BodyHTML      string    `gorm:"column:body_html;type:text;not null;default:''"`
	Images        []Image   `gorm:"foreignKey:TopicID;references:TopicID;constraint:OnDelete:CASCADE"`
	Comments      []Comment `gorm:"foreignKey:TopicID;references:TopicID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (Thread) TableName() string {
	return "threads"
}

// Image is one picture of a thread at an explicit ordinal position.
type Image struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	TopicID  int64  `gorm:"column:topic_id;not null;uniqueIndex:idx_images_topic_position,priority:1"`
	URL      string `gorm:"column:url;type:text;not null"`
	Position int    `gorm:"column:position;not null;uniqueIndex:idx_images_topic_position,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Image) TableName() string {
	return "thread_images"
}

// Comment is an immutable reply stored under its thread.
type Comment struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TopicID         int64     `gorm:"column:topic_id;not null;uniqueIndex:idx_comments_topic_number,priority:1"`
	Number          int64     `gorm:"column:number;not null;uniqueIndex:idx_comments_topic_number,priority:2"`
	SourceMessageID int64     `gorm:"column:source_message_id;not null;default:0"`
	Link            string    `gorm:"column:link;type:text;not null;default:''"`
	Commenter       string    `gorm:"column:commenter;type:text;not null;index"`
	CreatedAt       time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	IsStarter       bool      `gorm:"column:is_starter;not null;default:false"`
	IsReplyToQuote  bool      `gorm:"column:is_reply_to_quote;not null;default:false"`
	MessageJSON     string    `gorm:"column:message_json;type:text;not null"`
	AttachmentHTML  *string   `gorm:"column:attachment_html;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "thread_comments"
}

// Message decodes the stored message segments.
func (c Comment) Message() ([]MessageSegment, error) {
	return DecodeMessage(c.MessageJSON)
}

// Models lists every persisted forum model for schema migration.
func Models() []any {
	return []any{&Thread{}, &Image{}, &Comment{}, &CrawlRun{}}
}

// ThreadStub is the per-thread data available from a listing page.
type ThreadStub struct {
	URL         string
	TopicID     TopicID
	LastUpdated time.Time
	Category    Category
}

// ThreadDetails is the data extracted from a thread's first page.
type ThreadDetails struct {
	Title    string
	Creator  string
	Created  time.Time
	Images   []string
	BodyHTML string
}

// ExtractedThread merges a listing stub with its thread page details.
type ExtractedThread struct {
	ThreadStub
	ThreadDetails
}

// MergeThread combines listing and thread page data for reconciliation.
func MergeThread(stub ThreadStub, details ThreadDetails) ExtractedThread {
	return ExtractedThread{ThreadStub: stub, ThreadDetails: details}
}

// ExtractedComment is a comment as parsed from a thread page.
type ExtractedComment struct {
	Number          int64
	SourceMessageID int64
	Link            string
	Commenter       string
	CreatedAt       time.Time
	IsStarter       bool
	IsReplyToQuote  bool
	Message         []MessageSegment
	Attachment      *string
}
