package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// jiraTimeLayout is Jira's REST timestamp format.
const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

// JiraClient lists and fetches issues through the Jira REST API. The change
// token is the issue's updated timestamp, so every edit re-enqueues the
// issue exactly once.
type JiraClient struct {
	client    *http.Client
	userAgent string
}

func NewJiraClient(client *http.Client, userAgent string) *JiraClient {
	return &JiraClient{client: client, userAgent: userAgent}
}

type jiraSearchResponse struct {
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
	Total      int         `json:"total"`
	Issues     []jiraIssue `json:"issues"`
}

type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string `json:"summary"`
		Updated     string `json:"updated"`
		Description string `json:"description"`
		Comment     struct {
			Comments []struct {
				Author struct {
					DisplayName string `json:"displayName"`
				} `json:"author"`
				Body string `json:"body"`
			} `json:"comments"`
		} `json:"comment"`
	} `json:"fields"`
}

func (c *JiraClient) ListChanged(ctx context.Context, acct *Account, since *time.Time) ([]Descriptor, error) {
	jql := "ORDER BY updated ASC"
	if since != nil {
		jql = fmt.Sprintf("updated >= %q ORDER BY updated ASC", since.UTC().Format("2006-01-02 15:04"))
	}

	var descs []Descriptor
	startAt := 0
	for {
		query := url.Values{}
		query.Set("jql", jql)
		query.Set("fields", "summary,updated")
		query.Set("maxResults", "50")
		query.Set("startAt", fmt.Sprintf("%d", startAt))

		var page jiraSearchResponse
		endpoint := strings.TrimSuffix(acct.BaseURL, "/") + "/rest/api/2/search?" + query.Encode()
		if err := getJSON(ctx, c.client, acct, endpoint, c.userAgent, &page); err != nil {
			return nil, fmt.Errorf("jira search: %w", err)
		}

		for _, issue := range page.Issues {
			desc := Descriptor{
				ExternalKey: issue.Key,
				Version:     issue.Fields.Updated,
				Title:       issue.Fields.Summary,
				URL:         strings.TrimSuffix(acct.BaseURL, "/") + "/browse/" + issue.Key,
			}
			if at, err := time.Parse(jiraTimeLayout, issue.Fields.Updated); err == nil {
				desc.UpdatedAt = at
			}
			descs = append(descs, desc)
			if acct.MaxBatch > 0 && len(descs) >= acct.MaxBatch {
				return descs, nil
			}
		}

		startAt += len(page.Issues)
		if len(page.Issues) == 0 || startAt >= page.Total {
			return descs, nil
		}
	}
}

// FetchFull renders the issue (summary, description, comments) as plain text.
func (c *JiraClient) FetchFull(ctx context.Context, acct *Account, desc Descriptor) ([]byte, error) {
	var issue jiraIssue
	endpoint := strings.TrimSuffix(acct.BaseURL, "/") + "/rest/api/2/issue/" +
		url.PathEscape(desc.ExternalKey) + "?fields=summary,description,comment"
	if err := getJSON(ctx, c.client, acct, endpoint, c.userAgent, &issue); err != nil {
		return nil, fmt.Errorf("jira issue %s: %w", desc.ExternalKey, err)
	}

	var b strings.Builder
	b.WriteString(issue.Fields.Summary)
	b.WriteString("\n\n")
	if issue.Fields.Description != "" {
		b.WriteString(issue.Fields.Description)
		b.WriteString("\n")
	}
	for _, comment := range issue.Fields.Comment.Comments {
		b.WriteString("\n")
		if comment.Author.DisplayName != "" {
			b.WriteString(comment.Author.DisplayName)
			b.WriteString(": ")
		}
		b.WriteString(comment.Body)
		b.WriteString("\n")
	}

	return []byte(b.String()), nil
}
