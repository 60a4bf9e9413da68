package scrape

import (
	"net/url"
	"strings"

	"github.com/MarcoPoloResearchLab/geekmirror/internal/forum"
	"github.com/PuerkitoBio/goquery"
)

const (
	selectorFirstPost  = "div.windowbg:has(div.post)"
	selectorHeading    = "h5"
	selectorPoster     = "div.poster h4"
	selectorCaption    = "div.keyinfo div.smalltext"
	selectorAnyCaption = "div.smalltext"
	selectorPostBody   = "div.post"
	selectorInner      = "div.inner"

	hostPrimary       = "geekhack.org"
	hostPrimaryWWW    = "www.geekhack.org"
	hostEmoji         = "cdn.geekhack.org"
	hostAttachmentCDN = "cdn.discordapp."
	hostAlbums        = "imgur.com"

	sessionParameter  = "phpsessid"
	attachmentSegment = "attachments"
)

// ThreadPage is the extracted first page of a thread. AlbumHashes lists the
// album links found in the post body, consulted only when no image survived
// the image policy.
type ThreadPage struct {
	Details     forum.ThreadDetails
	AlbumHashes []string
}

// ParseThreadPage extracts title, creator, creation time, body and images from
// the first post of a thread page.
func ParseThreadPage(doc *goquery.Document) (ThreadPage, error) {
	if doc == nil {
		return ThreadPage{}, newParseError("empty document", nil)
	}
	firstPost := doc.Find(selectorFirstPost).First()
	if firstPost.Length() == 0 {
		return ThreadPage{}, newParseError("first post container missing", nil)
	}
	post := firstPost.Find(selectorPostBody).First()
	if post.Length() == 0 {
		return ThreadPage{}, newParseError("post body missing", nil)
	}

	heading := firstPost.Find(selectorHeading).First()
	if heading.Length() == 0 {
		heading = doc.Find(selectorHeading).First()
	}
	title := strings.TrimSpace(heading.Text())
	if title == "" {
		return ThreadPage{}, newParseError("thread title missing", nil)
	}

	caption := firstPost.Find(selectorCaption).First()
	if caption.Length() == 0 {
		caption = firstPost.Find(selectorAnyCaption).First()
	}
	tokens, ok := captionTokens(caption.Text(), 2, 2+timestampTokens)
	if !ok {
		return ThreadPage{}, newParseError("creation caption missing", nil)
	}
	created, err := parseTimestampTokens(tokens)
	if err != nil {
		return ThreadPage{}, err
	}

	body := post.Find(selectorInner).First()
	var bodyHTML string
	if body.Length() > 0 {
		bodyHTML, err = goquery.OuterHtml(body)
	} else {
		bodyHTML, err = post.Html()
	}
	if err != nil {
		return ThreadPage{}, newParseError("post body markup", err)
	}

	images := make([]string, 0)
	post.Find("img").Each(func(_ int, img *goquery.Selection) {
		if kept, ok := FilterImageURL(img.AttrOr("src", "")); ok {
			images = append(images, kept)
		}
	})

	return ThreadPage{
		Details: forum.ThreadDetails{
			Title:    title,
			Creator:  cleanName(firstPost.Find(selectorPoster).First().Text()),
			Created:  created,
			Images:   images,
			BodyHTML: strings.TrimSpace(bodyHTML),
		},
		AlbumHashes: albumHashes(post),
	}, nil
}

// FilterImageURL applies the image policy to one src value and returns the URL
// to store, or false when the image is discarded.
func FilterImageURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}

	host := strings.ToLower(parsed.Hostname())
	switch {
	case host == hostPrimary || host == hostPrimaryWWW:
		parsed.RawQuery = stripSessionParameter(parsed.RawQuery)
		return parsed.String(), true
	case host == hostEmoji:
		return "", false
	case strings.HasPrefix(host, hostAttachmentCDN):
		segments := strings.Split(raw, "/")
		if len(segments) > 3 && segments[3] == attachmentSegment {
			return raw, true
		}
		return "", false
	default:
		return raw, true
	}
}

// stripSessionParameter drops the session id and keeps only the first of the
// remaining &-separated parameters. SMF chains attachment arguments with ';'
// inside one parameter, so that chain is kept whole.
func stripSessionParameter(rawQuery string) string {
	for _, parameter := range strings.Split(rawQuery, "&") {
		if parameter == "" {
			continue
		}
		key, _, _ := strings.Cut(parameter, "=")
		if strings.EqualFold(key, sessionParameter) {
			continue
		}
		return parameter
	}
	return ""
}

// albumHashes returns the distinct album ids linked from the post body.
func albumHashes(post *goquery.Selection) []string {
	seen := make(map[string]struct{})
	hashes := make([]string, 0)
	post.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		parsed, err := url.Parse(strings.TrimSpace(link.AttrOr("href", "")))
		if err != nil {
			return
		}
		host := strings.ToLower(parsed.Hostname())
		if host != hostAlbums && !strings.HasSuffix(host, "."+hostAlbums) {
			return
		}
		segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		if len(segments) < 2 || segments[0] != "a" || segments[1] == "" {
			return
		}
		if _, ok := seen[segments[1]]; ok {
			return
		}
		seen[segments[1]] = struct{}{}
		hashes = append(hashes, segments[1])
	})
	return hashes
}
