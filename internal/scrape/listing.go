package scrape

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/geekmirror/internal/forum"
	"github.com/PuerkitoBio/goquery"
)

const (
	selectorListingBody   = "table.table_grid tbody"
	selectorListingRows   = "tr"
	selectorListingMarker = "td.windowbg2"
	selectorSubjectLink   = "td.subject a[href]"
	selectorLastPost      = "td.lastpost"
	selectorStickyMarker  = `td[class*="stickybg"], img[id^="stickyicon"], img[src*="quick_sticky"]`
	selectorViewingMarker = `[id*="whoisviewing"], [class*="whos_viewing"], [id*="whos_viewing"]`
	selectorListingNav    = "div.pagelinks.floatleft a.navPages"
)

// ParseListing extracts thread stubs from a board listing page in page order.
// Sticky rows and the "who is viewing" row are excluded.
func ParseListing(doc *goquery.Document, category forum.Category, baseURL string) ([]forum.ThreadStub, error) {
	if _, err := category.BoardID(); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, newParseError("empty document", nil)
	}
	body := doc.Find(selectorListingBody).First()
	if body.Length() == 0 {
		return nil, newParseError("listing table missing", nil)
	}

	stubs := make([]forum.ThreadStub, 0, forum.PageSize)
	var rowErr error
	body.ChildrenFiltered(selectorListingRows).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if row.Find(selectorListingMarker).Length() == 0 {
			return true
		}
		if matches(row, selectorStickyMarker) || matches(row, selectorViewingMarker) {
			return true
		}
		link := row.Find(selectorSubjectLink).First()
		if link.Length() == 0 {
			return true
		}

		topicID, err := topicIDFromHref(link.AttrOr("href", ""))
		if err != nil {
			rowErr = err
			return false
		}
		tokens, ok := captionTokens(row.Find(selectorLastPost).First().Text(), 0, timestampTokens)
		if !ok {
			rowErr = newParseError(fmt.Sprintf("last activity missing for topic %d", topicID), nil)
			return false
		}
		lastUpdated, err := parseTimestampTokens(tokens)
		if err != nil {
			rowErr = err
			return false
		}

		stubs = append(stubs, forum.ThreadStub{
			URL:         ThreadURL(baseURL, topicID, 0),
			TopicID:     topicID,
			LastUpdated: lastUpdated,
			Category:    category,
		})
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return stubs, nil
}

func matches(row *goquery.Selection, selector string) bool {
	return row.Is(selector) || row.Find(selector).Length() > 0
}

// ParseLastListingOffset returns the offset of the listing's last page, 0 when
// the listing has a single page.
func ParseLastListingOffset(doc *goquery.Document) (int, error) {
	nav := doc.Find(selectorListingNav)
	if nav.Length() < 2 {
		return 0, nil
	}
	text := strings.TrimSpace(nav.Eq(nav.Length() - 2).Text())
	lastPage, err := strconv.Atoi(text)
	if err != nil || lastPage < 1 {
		return 0, newParseError(fmt.Sprintf("listing page number %q", text), err)
	}
	return (lastPage - 1) * forum.PageSize, nil
}

// topicIDFromHref reads the numeric topic id from a link such as
// "index.php?topic=12345.0".
func topicIDFromHref(href string) (forum.TopicID, error) {
	parsed, err := url.Parse(href)
	if err != nil {
		return 0, newParseError(fmt.Sprintf("subject link %q", href), err)
	}
	topic := parsed.Query().Get("topic")
	if topic == "" {
		if index := strings.LastIndex(href, "topic="); index >= 0 {
			topic = href[index+len("topic="):]
		}
	}
	topic, _, _ = strings.Cut(topic, ".")
	value, err := strconv.ParseInt(topic, 10, 64)
	if err != nil {
		return 0, newParseError(fmt.Sprintf("topic id in %q", href), err)
	}
	topicID, err := forum.NewTopicID(value)
	if err != nil {
		return 0, newParseError(fmt.Sprintf("topic id in %q", href), err)
	}
	return topicID, nil
}

// BoardURL returns the listing page of a board at offset.
func BoardURL(baseURL string, category forum.Category, offset int) (string, error) {
	board, err := category.BoardID()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/index.php?board=%d.%d", strings.TrimRight(baseURL, "/"), board, offset), nil
}

// ThreadURL returns the page of a topic starting at the given comment offset.
func ThreadURL(baseURL string, topicID forum.TopicID, offset int) string {
	return fmt.Sprintf("%s/index.php?topic=%d.%d", strings.TrimRight(baseURL, "/"), topicID.Int64(), offset)
}
