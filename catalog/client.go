package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SearchResponse is the document served by the catalogue API.
type SearchResponse struct {
	Scenes []Scene `json:"scenes"`
	Error  string  `json:"error,omitempty"`
}

// Client queries a catalogue API over HTTP.
type Client struct {
	Address    string
	HTTPClient *http.Client
}

func NewClient(address string) *Client {
	return &Client{Address: address, HTTPClient: &http.Client{Timeout: 60 * time.Second}}
}

// SearchURL builds the intersects request for q.
func (c *Client) SearchURL(q Query) string {
	v := url.Values{}
	v.Set("time", q.Start.UTC().Format(ISOFormat))
	v.Set("until", q.End.UTC().Format(ISOFormat))
	v.Set("bbox", fmt.Sprintf("%f,%f,%f,%f", q.BBox[0], q.BBox[1], q.BBox[2], q.BBox[3]))
	if q.WKT != "" {
		v.Set("wkt", q.WKT)
	}
	if q.Predicate != "" {
		v.Set("filter", q.Predicate)
	}
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprintf("%d", q.Limit))
	}
	addr := c.Address
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return fmt.Sprintf("%s/%s?intersects&%s", strings.TrimRight(addr, "/"), url.PathEscape(q.Collection), v.Encode())
}

func (c *Client) Search(ctx context.Context, q Query) ([]Scene, error) {
	u := c.SearchURL(q)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET request to %s failed. Error: %v", u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("Error parsing response body from %s. Error: %v", u, err)
	}

	var sr SearchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("Problem parsing JSON response from %s. Error: %v", u, err)
	}
	if resp.StatusCode != http.StatusOK || sr.Error != "" {
		return nil, fmt.Errorf("catalogue API returned %d: %s", resp.StatusCode, sr.Error)
	}
	return sr.Scenes, nil
}
