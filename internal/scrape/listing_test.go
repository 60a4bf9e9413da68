package scrape

import (
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/geekmirror/internal/forum"
)

func TestParseListingSkipsStickyAndViewingRows(t *testing.T) {
	doc := mustDocument(t, listingMarkup([]listingRow{
		{topicID: 1, title: "Rules", lastPost: "Mon, 1 January 2018, 00:00:00", sticky: true},
		{topicID: 111, title: "[IC] First", lastPost: "Wed, 31 March 2021, 12:34:56"},
		{topicID: 222, title: "[IC] Second", lastPost: "Tue, 30 March 2021, 01:02:03"},
	}))

	stubs, err := ParseListing(doc, forum.CategoryInterestCheck, "https://geekhack.org/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stubs) != 2 {
		t.Fatalf("expected 2 stubs, got %#v", stubs)
	}
	first := stubs[0]
	if first.TopicID != 111 || first.URL != "https://geekhack.org/index.php?topic=111.0" || first.Category != forum.CategoryInterestCheck {
		t.Fatalf("unexpected stub %#v", first)
	}
	expected := time.Date(2021, time.March, 31, 12, 34, 56, 0, time.UTC)
	if !first.LastUpdated.Equal(expected) {
		t.Fatalf("expected %v, got %v", expected, first.LastUpdated)
	}
	if stubs[1].TopicID != 222 {
		t.Fatalf("expected page order, got %#v", stubs[1])
	}
}

func TestParseListingFailures(t *testing.T) {
	testCases := []struct {
		name     string
		markup   string
		category forum.Category
		wantErr  error
	}{
		{name: "unknown-category", markup: listingMarkup(nil), category: forum.Category("XX"), wantErr: forum.ErrInvalidCategory},
		{name: "missing-table", markup: "<html><body><p>maintenance</p></body></html>", category: forum.CategoryGroupBuy},
		{name: "unrelated-table", markup: "<html><body><table><tr><td class=\"windowbg2\">advert</td></tr></table></body></html>", category: forum.CategoryGroupBuy},
		{name: "listing-without-body", markup: "<html><body><table class=\"table_grid\"><thead><tr><th>Subject</th></tr></thead></table></body></html>", category: forum.CategoryInterestCheck},
		{name: "bad-timestamp", markup: listingMarkup([]listingRow{{topicID: 5, title: "x", lastPost: "Today at 12:00:00 pm"}}), category: forum.CategoryGroupBuy},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseListing(mustDocument(t, tc.markup), tc.category, DefaultBaseURL)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected parse error, got %T %v", err, err)
			}
		})
	}
}

func TestParseListingEmptyBoard(t *testing.T) {
	stubs, err := ParseListing(mustDocument(t, listingMarkup(nil)), forum.CategoryInterestCheck, DefaultBaseURL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stubs) != 0 {
		t.Fatalf("expected no stubs, got %v", stubs)
	}
}

func TestParseLastListingOffset(t *testing.T) {
	testCases := []struct {
		name string
		nav  []string
		want int
	}{
		{name: "single-page", nav: nil, want: 0},
		{name: "many-pages", nav: []string{"2", "3", "40", "&#187;"}, want: 1950},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			offset, err := ParseLastListingOffset(mustDocument(t, listingMarkup(nil, tc.nav...)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if offset != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, offset)
			}
		})
	}
}

func TestTopicIDFromHref(t *testing.T) {
	testCases := map[string]int64{
		"https://geekhack.org/index.php?topic=98765.0":           98765,
		"https://geekhack.org/index.php?topic=98765.0;topicseen": 98765,
		"index.php?topic=12.msg34#new":                           12,
	}
	for href, want := range testCases {
		got, err := topicIDFromHref(href)
		if err != nil || got.Int64() != want {
			t.Fatalf("href %q: expected %d, got %d (%v)", href, want, got, err)
		}
	}
	if _, err := topicIDFromHref("index.php?board=132.0"); err == nil {
		t.Fatalf("expected error for a link without topic")
	}
}

func TestParseTimestamp(t *testing.T) {
	parsed, err := ParseTimestamp("  Fri, 2 April 2021,   23:59:01 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !parsed.Equal(time.Date(2021, time.April, 2, 23, 59, 1, 0, time.UTC)) {
		t.Fatalf("unexpected time %v", parsed)
	}
	if _, err := ParseTimestamp("2021-04-02T23:59:01Z"); err == nil {
		t.Fatalf("expected layout mismatch error")
	}
}
