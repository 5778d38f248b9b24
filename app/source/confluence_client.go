package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ConfluenceClient lists and fetches wiki pages through the Confluence REST
// API. The change token is the page's version number.
type ConfluenceClient struct {
	client    *http.Client
	userAgent string
}

func NewConfluenceClient(client *http.Client, userAgent string) *ConfluenceClient {
	return &ConfluenceClient{client: client, userAgent: userAgent}
}

type confluenceSearchResponse struct {
	Results []confluencePage `json:"results"`
	Size    int              `json:"size"`
	Links   struct {
		Next string `json:"next"`
		Base string `json:"base"`
	} `json:"_links"`
}

type confluencePage struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Version struct {
		Number int    `json:"number"`
		When   string `json:"when"`
	} `json:"version"`
	Body struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Links struct {
		WebUI string `json:"webui"`
	} `json:"_links"`
}

func (c *ConfluenceClient) ListChanged(ctx context.Context, acct *Account, since *time.Time) ([]Descriptor, error) {
	cql := "type = page order by lastmodified asc"
	if since != nil {
		cql = fmt.Sprintf("type = page and lastmodified >= %q order by lastmodified asc",
			since.UTC().Format("2006-01-02 15:04"))
	}

	base := strings.TrimSuffix(acct.BaseURL, "/")
	query := url.Values{}
	query.Set("cql", cql)
	query.Set("expand", "version")
	query.Set("limit", "50")
	endpoint := base + "/rest/api/content/search?" + query.Encode()

	var descs []Descriptor
	for endpoint != "" {
		var page confluenceSearchResponse
		if err := getJSON(ctx, c.client, acct, endpoint, c.userAgent, &page); err != nil {
			return nil, fmt.Errorf("confluence search: %w", err)
		}

		for _, result := range page.Results {
			desc := Descriptor{
				ExternalKey: result.ID,
				Version:     strconv.Itoa(result.Version.Number),
				Title:       result.Title,
				URL:         base + result.Links.WebUI,
			}
			if at, err := time.Parse(jiraTimeLayout, result.Version.When); err == nil {
				desc.UpdatedAt = at
			}
			descs = append(descs, desc)
			if acct.MaxBatch > 0 && len(descs) >= acct.MaxBatch {
				return descs, nil
			}
		}

		if page.Links.Next == "" || len(page.Results) == 0 {
			break
		}
		endpoint = base + page.Links.Next
	}

	return descs, nil
}

// FetchFull returns the page's storage-format HTML wrapped as a document, so
// the readability extraction downstream sees title and body together.
func (c *ConfluenceClient) FetchFull(ctx context.Context, acct *Account, desc Descriptor) ([]byte, error) {
	var page confluencePage
	endpoint := strings.TrimSuffix(acct.BaseURL, "/") + "/rest/api/content/" +
		url.PathEscape(desc.ExternalKey) + "?expand=body.storage,version"
	if err := getJSON(ctx, c.client, acct, endpoint, c.userAgent, &page); err != nil {
		return nil, fmt.Errorf("confluence page %s: %w", desc.ExternalKey, err)
	}

	doc := "<html><head><title>" + page.Title + "</title></head><body>" +
		page.Body.Storage.Value + "</body></html>"
	return []byte(doc), nil
}
