package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tokensweep/tokensweep/credential"
)

const maxErrorBody = 1 << 10

// Client fetches pages from the code-search endpoint
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// PageRequest describes one page fetch of a sub-query
type PageRequest struct {
	Query   string
	Sort    string
	Order   string
	PerPage int
	Page    int
}

// Page is one decoded page of results
type Page struct {
	Items             []RawItem
	TotalCount        int
	IncompleteResults bool
	// Next is true when the response advertised a rel="next" link
	Next bool
}

// codeSearchResponse is the upstream response body
type codeSearchResponse struct {
	TotalCount        int       `json:"total_count"`
	IncompleteResults bool      `json:"incomplete_results"`
	Items             []RawItem `json:"items"`
}

// FetchPage requests a single page using cred. Status codes are classified
// into the typed errors of this package so callers can pick a retry path.
func (c *Client) FetchPage(ctx context.Context, cred credential.Credential, pr PageRequest) (*Page, error) {
	params := url.Values{}
	params.Set("q", pr.Query)
	params.Set("per_page", strconv.Itoa(pr.PerPage))
	params.Set("page", strconv.Itoa(pr.Page))
	if pr.Sort != "" {
		params.Set("sort", pr.Sort)
		params.Set("order", pr.Order)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptTextMatch)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("Authorization", cred.Bearer())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil, newRateLimitError(resp)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var data codeSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, &DecodeError{Err: err}
	}

	return &Page{
		Items:             data.Items,
		TotalCount:        data.TotalCount,
		IncompleteResults: data.IncompleteResults,
		Next:              hasNextLink(resp.Header.Values("Link")),
	}, nil
}

// hasNextLink reports whether any Link header value carries rel="next"
func hasNextLink(values []string) bool {
	for _, v := range values {
		for _, link := range strings.Split(v, ",") {
			segments := strings.Split(link, ";")
			if len(segments) < 2 {
				continue
			}
			for _, param := range segments[1:] {
				key, val, ok := strings.Cut(strings.TrimSpace(param), "=")
				if !ok || !strings.EqualFold(strings.TrimSpace(key), "rel") {
					continue
				}
				for _, rel := range strings.Fields(strings.Trim(val, `"`)) {
					if rel == "next" {
						return true
					}
				}
			}
		}
	}
	return false
}
