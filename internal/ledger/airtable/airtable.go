// Package airtable implements the remote ledger adapters against the
// Airtable REST API. It is the sync target the worker pushes locally
// stored entries to.
package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"papi/internal/core"
	"papi/internal/ledger"
)

const defaultBaseURL = "https://api.airtable.com/v0"

// Field names in the Airtable table.
const (
	fieldKind        = "kind"
	fieldCategory    = "category"
	fieldAmount      = "amount"
	fieldDescription = "description"
	fieldDate        = "date"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	baseID     string
	table      string
}

// Ensure interface conformance
var (
	_ ledger.EntryWriter  = (*Client)(nil)
	_ ledger.EntryLister  = (*Client)(nil)
	_ ledger.EntryDeleter = (*Client)(nil)
)

// NewClient creates an Airtable client for one base and table.
func NewClient(apiKey, baseID, table string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		baseID:     baseID,
		table:      table,
	}
}

// NewFromEnv creates a client using environment variables.
// Required: AIRTABLE_API_KEY, AIRTABLE_BASE_ID
// Optional: AIRTABLE_TABLE_NAME (default "Daily").
func NewFromEnv() (*Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("AIRTABLE_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("missing AIRTABLE_API_KEY")
	}
	baseID := strings.TrimSpace(os.Getenv("AIRTABLE_BASE_ID"))
	if baseID == "" {
		return nil, errors.New("missing AIRTABLE_BASE_ID")
	}
	table := strings.TrimSpace(os.Getenv("AIRTABLE_TABLE_NAME"))
	if table == "" {
		table = "Daily"
	}
	return NewClient(apiKey, baseID, table), nil
}

// WithBaseURL overrides the API endpoint; used by tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type record struct {
	ID     string         `json:"id,omitempty"`
	Fields map[string]any `json:"fields"`
}

type recordList struct {
	Records []record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}

// Append creates one record and returns the Airtable record ID.
func (c *Client) Append(ctx context.Context, e core.Entry) (string, error) {
	body := record{Fields: map[string]any{
		fieldKind:        string(e.Kind),
		fieldCategory:    e.Category,
		fieldAmount:      e.Amount.Units(),
		fieldDescription: e.Description,
		fieldDate:        e.OccurredOn.String(),
	}}

	var created record
	if err := c.do(ctx, http.MethodPost, c.tableURL(), body, &created); err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}

	slog.InfoContext(ctx, "Entry synced to Airtable",
		"record_id", created.ID,
		"category", e.Category,
		"amount_cents", e.Amount.Cents)
	return created.ID, nil
}

// ListEntries returns all records in the table, following pagination.
func (c *Client) ListEntries(ctx context.Context) ([]core.Entry, error) {
	var entries []core.Entry
	offset := ""
	for {
		u := c.tableURL()
		if offset != "" {
			q := url.Values{}
			q.Set("offset", offset)
			u += "?" + q.Encode()
		}

		var page recordList
		if err := c.do(ctx, http.MethodGet, u, nil, &page); err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		for _, rec := range page.Records {
			entries = append(entries, entryFromFields(rec.Fields))
		}
		if page.Offset == "" {
			return entries, nil
		}
		offset = page.Offset
	}
}

// DeleteEntry removes a record by its Airtable record ID.
func (c *Client) DeleteEntry(ctx context.Context, ref string) error {
	if ref == "" {
		return errors.New("empty record reference")
	}
	if err := c.do(ctx, http.MethodDelete, c.tableURL()+"/"+url.PathEscape(ref), nil, nil); err != nil {
		return fmt.Errorf("delete record %s: %w", ref, err)
	}
	slog.InfoContext(ctx, "Entry deleted from Airtable", "record_id", ref)
	return nil
}

func (c *Client) tableURL() string {
	return c.baseURL + "/" + url.PathEscape(c.baseID) + "/" + url.PathEscape(c.table)
}

func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("airtable request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("airtable status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func entryFromFields(fields map[string]any) core.Entry {
	e := core.Entry{Kind: core.TextEntry}
	if v, ok := fields[fieldKind].(string); ok && core.EntryKind(v).IsValid() {
		e.Kind = core.EntryKind(v)
	}
	if v, ok := fields[fieldCategory].(string); ok {
		e.Category = v
	}
	if v, ok := fields[fieldAmount].(float64); ok {
		e.Amount = core.Money{Cents: int64(math.Round(v * 100))}
	}
	if v, ok := fields[fieldDescription].(string); ok {
		e.Description = v
	}
	if v, ok := fields[fieldDate].(string); ok {
		if d, err := core.ParseDate(v); err == nil {
			e.OccurredOn = d
		}
	}
	return e
}
