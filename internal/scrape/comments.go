package scrape

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/geekmirror/internal/forum"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	selectorCommentBlock = "div.post_wrapper"
	selectorStarter      = "div.poster li.threadstarter"
	selectorAttachments  = "div.attachments"
	selectorCommentNav   = "div.pagelinks a.navPages"

	classQuoteHeader = "quoteheader"
	classQuoteFooter = "quotefooter"
	messageIDPrefix  = "msg_"
	quoteLabel       = "Quote"
	quoteFromLabel   = "from:"
	quoteDateLabel   = "on"
)

var quoteEpochPattern = regexp.MustCompile(`time=(\d+)`)

// ParseComments extracts the comments rendered on one thread page in page
// order. At offset 0 the first block is the original post and is skipped.
func ParseComments(doc *goquery.Document, topicID forum.TopicID, offset int, baseURL string) ([]forum.ExtractedComment, error) {
	if doc == nil {
		return nil, newParseError("empty document", nil)
	}
	blocks := doc.Find(selectorCommentBlock)
	if offset == 0 && blocks.Length() > 0 {
		blocks = blocks.Slice(1, blocks.Length())
	}

	comments := make([]forum.ExtractedComment, 0, blocks.Length())
	var blockErr error
	blocks.EachWithBreak(func(_ int, block *goquery.Selection) bool {
		comment, err := parseCommentBlock(block, topicID, baseURL)
		if err != nil {
			blockErr = err
			return false
		}
		comments = append(comments, comment)
		return true
	})
	if blockErr != nil {
		return nil, blockErr
	}
	return comments, nil
}

func parseCommentBlock(block *goquery.Selection, topicID forum.TopicID, baseURL string) (forum.ExtractedComment, error) {
	caption := strings.Fields(block.Find(selectorCaption).First().Text())
	if len(caption) < 4+timestampTokens {
		return forum.ExtractedComment{}, newParseError(fmt.Sprintf("comment caption %q", strings.Join(caption, " ")), nil)
	}
	number, err := strconv.ParseInt(strings.TrimPrefix(caption[2], "#"), 10, 64)
	if err != nil {
		return forum.ExtractedComment{}, newParseError(fmt.Sprintf("comment number %q", caption[2]), err)
	}
	created, err := parseTimestampTokens(caption[4 : 4+timestampTokens])
	if err != nil {
		return forum.ExtractedComment{}, err
	}

	inner := block.Find(selectorInner).First()
	if inner.Length() == 0 {
		return forum.ExtractedComment{}, newParseError(fmt.Sprintf("comment %d body missing", number), nil)
	}
	var messageID int64
	if id, ok := strings.CutPrefix(inner.AttrOr("id", ""), messageIDPrefix); ok {
		messageID, _ = strconv.ParseInt(id, 10, 64)
	}

	message := parseMessage(inner.Contents())
	return forum.ExtractedComment{
		Number:          number,
		SourceMessageID: messageID,
		Link:            commentLink(baseURL, topicID, messageID),
		Commenter:       cleanName(block.Find(selectorPoster).First().Text()),
		CreatedAt:       created,
		IsStarter:       block.Find(selectorStarter).Length() > 0,
		IsReplyToQuote:  forum.HasQuote(message),
		Message:         message,
		Attachment:      attachmentMarkup(block),
	}, nil
}

func commentLink(baseURL string, topicID forum.TopicID, messageID int64) string {
	if messageID == 0 {
		return ThreadURL(baseURL, topicID, 0)
	}
	return fmt.Sprintf("%s/index.php?topic=%d.msg%d#msg%d", strings.TrimRight(baseURL, "/"), topicID.Int64(), messageID, messageID)
}

// parseMessage walks sibling nodes in document order. Consecutive plain nodes
// merge into one text segment; a quote header attributes the next blockquote.
func parseMessage(nodes *goquery.Selection) []forum.MessageSegment {
	segments := make([]forum.MessageSegment, 0)
	var plain strings.Builder
	var header *quoteHeader

	flush := func() {
		text := strings.TrimSpace(plain.String())
		plain.Reset()
		if text != "" {
			segments = append(segments, forum.TextSegment(text))
		}
	}

	nodes.Each(func(_ int, node *goquery.Selection) {
		raw := node.Get(0)
		switch {
		case raw.Type == html.CommentNode:
			return
		case raw.Type == html.ElementNode && raw.Data == "div" && node.HasClass(classQuoteHeader):
			flush()
			parsed := parseQuoteHeader(node)
			header = &parsed
		case raw.Type == html.ElementNode && raw.Data == "div" && node.HasClass(classQuoteFooter):
			return
		case raw.Type == html.ElementNode && raw.Data == "blockquote":
			flush()
			quote := forum.Quote{Message: parseMessage(node.Contents())}
			if header != nil {
				quote.Commenter = header.commenter
				quote.CreatedAt = header.createdAt
				header = nil
			}
			segments = append(segments, forum.QuoteSegment(quote))
		default:
			markup, err := goquery.OuterHtml(node)
			if err == nil {
				plain.WriteString(markup)
			}
		}
	})
	flush()
	return segments
}

type quoteHeader struct {
	commenter *string
	createdAt *time.Time
}

// parseQuoteHeader reads "Quote from: <name> on <timestamp>". Headers in any
// other layout fall back to a time=<epoch> marker and never fail.
func parseQuoteHeader(node *goquery.Selection) quoteHeader {
	tokens := strings.Fields(node.Text())
	if len(tokens) <= 1 {
		return quoteHeader{}
	}

	if len(tokens) > 2+1+timestampTokens && tokens[0] == quoteLabel && tokens[1] == quoteFromLabel && tokens[len(tokens)-6] == quoteDateLabel {
		if created, err := parseTimestampTokens(tokens[len(tokens)-timestampTokens:]); err == nil {
			commenter := strings.Join(tokens[2:len(tokens)-6], " ")
			return quoteHeader{commenter: &commenter, createdAt: &created}
		}
	}

	var header quoteHeader
	markup, _ := node.Html()
	if match := quoteEpochPattern.FindStringSubmatch(markup); match != nil {
		if seconds, err := strconv.ParseInt(match[1], 10, 64); err == nil {
			created := time.Unix(seconds, 0).UTC()
			header.createdAt = &created
		}
	}
	if len(tokens) > 2 && tokens[0] == quoteLabel && tokens[1] == quoteFromLabel {
		nameTokens := tokens[2:]
		for index, token := range nameTokens {
			if token == quoteDateLabel {
				nameTokens = nameTokens[:index]
				break
			}
		}
		if len(nameTokens) > 0 {
			commenter := strings.Join(nameTokens, " ")
			header.commenter = &commenter
		}
	}
	return header
}

// attachmentMarkup returns the inner markup of the attachment container's
// first child, or nil when the comment has no attachments.
func attachmentMarkup(block *goquery.Selection) *string {
	container := block.Find(selectorAttachments).First()
	if container.Length() == 0 {
		return nil
	}
	target := container.ChildrenFiltered("div").First()
	if target.Length() == 0 {
		target = container
	}
	markup, err := target.Html()
	if err != nil {
		return nil
	}
	markup = strings.TrimSpace(markup)
	return &markup
}

// ParseLastCommentOffset returns the offset of a thread's newest comment page,
// 0 when the thread fits on one page.
func ParseLastCommentOffset(doc *goquery.Document) (int, error) {
	nav := doc.Find(selectorCommentNav)
	if nav.Length() < 2 {
		return 0, nil
	}
	href := nav.Eq(nav.Length() - 2).AttrOr("href", "")
	index := strings.LastIndex(href, ".")
	if index < 0 {
		return 0, newParseError(fmt.Sprintf("comment page link %q", href), nil)
	}
	offset, err := strconv.Atoi(href[index+1:])
	if err != nil || offset < 0 {
		return 0, newParseError(fmt.Sprintf("comment page link %q", href), err)
	}
	return offset, nil
}
