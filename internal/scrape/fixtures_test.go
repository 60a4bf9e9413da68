package scrape

import (
	"fmt"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func mustDocument(t *testing.T, markup string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		t.Fatalf("failed to parse fixture: %v", err)
	}
	return doc
}

type listingRow struct {
	topicID  int64
	title    string
	lastPost string
	sticky   bool
}

func listingMarkup(rows []listingRow, navPages ...string) string {
	var builder strings.Builder
	builder.WriteString(`<html><body><div class="pagelinks floatleft">Pages: `)
	for _, page := range navPages {
		fmt.Fprintf(&builder, `<a class="navPages" href="index.php?board=132.%s">%s</a> `, page, page)
	}
	builder.WriteString(`</div><table class="table_grid"><thead><tr><th>Subject</th></tr></thead><tbody>`)
	for _, row := range rows {
		subjectClass := "subject windowbg2"
		if row.sticky {
			subjectClass = "subject stickybg2"
		}
		fmt.Fprintf(&builder, `<tr>
<td class="icon1 windowbg"><img src="https://geekhack.org/Themes/default/images/topic/normal_post.gif" alt=""></td>
<td class="%s"><div><span id="msg_%d"><a href="https://geekhack.org/index.php?topic=%d.0">%s</a></span></div></td>
<td class="stats windowbg">12 Replies<br>3400 Views</td>
<td class="lastpost windowbg2">
%s<br>
by <a href="#">someone</a></td>
</tr>`, subjectClass, row.topicID*10, row.topicID, row.title, row.lastPost)
	}
	builder.WriteString(`<tr class="windowbg2 whos_viewing"><td class="windowbg2" colspan="4"><span>0 Members and 3 Guests are viewing this board.</span></td></tr>`)
	builder.WriteString(`</tbody></table></body></html>`)
	return builder.String()
}

type commentBlock struct {
	number    int
	messageID int64
	poster    string
	starter   bool
	caption   string
	body      string
	attach    string
}

func threadMarkup(firstPostBody string, blocks []commentBlock, navHrefs ...string) string {
	var builder strings.Builder
	builder.WriteString(`<html><body><div class="pagelinks">Pages: `)
	for _, href := range navHrefs {
		fmt.Fprintf(&builder, `<a class="navPages" href="%s">p</a> `, href)
	}
	builder.WriteString(`</div><div id="forumposts">`)
	fmt.Fprintf(&builder, `<div class="windowbg"><div class="post_wrapper">
<div class="poster"><h4><a href="#">	designer
</a></h4><ul><li class="threadstarter">Thread Starter</li></ul></div>
<div class="postarea"><div class="keyinfo"><h5 id="subject_1"><a href="#">  [IC] Test Keyboard  </a></h5>
<div class="smalltext">&#171; <strong>on:</strong> Wed, 31 March 2021, 12:34:56 &#187;</div></div>
<div class="post"><div class="inner" id="msg_100">%s</div></div></div></div></div>`, firstPostBody)
	writeCommentBlocks(&builder, blocks)
	builder.WriteString(`</div></body></html>`)
	return builder.String()
}

// commentPageMarkup renders a later comment page, which has no original post.
func commentPageMarkup(blocks []commentBlock) string {
	var builder strings.Builder
	builder.WriteString(`<html><body><div id="forumposts">`)
	writeCommentBlocks(&builder, blocks)
	builder.WriteString(`</div></body></html>`)
	return builder.String()
}

func writeCommentBlocks(builder *strings.Builder, blocks []commentBlock) {
	for _, block := range blocks {
		starter := ""
		if block.starter {
			starter = `<ul><li class="threadstarter">Thread Starter</li></ul>`
		}
		caption := block.caption
		if caption == "" {
			caption = fmt.Sprintf("&#171; <strong>Reply #%d on:</strong> Thu, 1 April 2021, 08:00:%02d &#187;", block.number, block.number%60)
		}
		attachments := ""
		if block.attach != "" {
			attachments = fmt.Sprintf(`<div class="attachments"><div><a href="#">%s</a></div></div>`, block.attach)
		}
		fmt.Fprintf(builder, `<div class="windowbg2"><div class="post_wrapper">
<div class="poster"><h4><a href="#">%s</a></h4>%s</div>
<div class="postarea"><div class="keyinfo"><div class="smalltext">%s</div></div>
<div class="post"><div class="inner" id="msg_%d">%s</div></div>%s</div></div></div>`,
			block.poster, starter, caption, block.messageID, block.body, attachments)
	}
}
