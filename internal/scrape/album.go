package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DefaultAlbumAPIBase is the album service API root.
const DefaultAlbumAPIBase = "https://api.imgur.com/3"

// AlbumClient lists the images of an external album.
type AlbumClient struct {
	fetcher  *Fetcher
	apiBase  string
	clientID string
}

// NewAlbumClient builds an AlbumClient. An empty apiBase uses DefaultAlbumAPIBase.
func NewAlbumClient(fetcher *Fetcher, apiBase, clientID string) *AlbumClient {
	if strings.TrimSpace(apiBase) == "" {
		apiBase = DefaultAlbumAPIBase
	}
	return &AlbumClient{
		fetcher:  fetcher,
		apiBase:  strings.TrimRight(apiBase, "/"),
		clientID: strings.TrimSpace(clientID),
	}
}

// Enabled reports whether credentials are configured.
func (a *AlbumClient) Enabled() bool {
	return a != nil && a.fetcher != nil && a.clientID != ""
}

type albumResponse struct {
	Data []struct {
		Link string `json:"link"`
	} `json:"data"`
}

// AlbumImages returns the image links of an album in the order the API lists them.
func (a *AlbumClient) AlbumImages(ctx context.Context, hash string) ([]string, error) {
	if !a.Enabled() {
		return nil, ErrMissingClientID
	}
	endpoint := fmt.Sprintf("%s/album/%s/images", a.apiBase, hash)
	headers := http.Header{}
	headers.Set(headerAuthorization, "Client-ID "+a.clientID)

	body, err := a.fetcher.fetch(ctx, endpoint, headers)
	if err != nil {
		return nil, err
	}
	var response albumResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, &ParseError{URL: endpoint, Reason: "album response", Err: err}
	}
	links := make([]string, 0, len(response.Data))
	for _, image := range response.Data {
		if image.Link != "" {
			links = append(links, image.Link)
		}
	}
	return links, nil
}
