package serenpair

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// PageMeta is the minimal listing information for one external page,
// returned by both fetch modes before block content is pulled.
type PageMeta struct {
	ExternalID   string
	Title        string
	Created      time.Time
	LastEdited   time.Time
}

// Block is one flattened content block from fetch_page_blocks, already
// rendered into its markdown-like text form.
type Block struct {
	Text string
}

// NoteSource is the C3 contract: pull page listings and block content from
// an external hierarchical note store. Implementations select between
// database mode and parent-page mode at construction time.
type NoteSource interface {
	// ListPages returns every page currently visible upstream, deduplicated
	// by ExternalID. Mode determines how the listing is produced.
	ListPages(ctx context.Context) ([]PageMeta, error)

	// FetchBlocks pulls block children for pageID and flattens them to
	// markdown-like text, paginating until exhausted. A mid-pagination
	// failure returns whatever was collected so far without an error.
	FetchBlocks(ctx context.Context, pageID string) ([]Block, error)

	// Mode reports which fetch strategy this source was built with.
	Mode() string
}

// notionRawBlock is the wire shape this adapter expects from the block
// children listing endpoint, trimmed to only what flattening needs.
type notionRawBlock struct {
	Type      string
	PlainText string // pre-concatenated rich_text.plain_text, no separators
	Language  string // for code blocks
	Emoji     string // for callout blocks; empty means use the default
}

const defaultCalloutEmoji = "💡"

// renderBlock maps one block to its markdown-like line, or "" if the block
// type is unsupported and should be silently omitted, or the block's text
// is empty/whitespace-only and should be skipped.
func renderBlock(b notionRawBlock) string {
	text := strings.TrimSpace(b.PlainText)

	switch b.Type {
	case "paragraph":
		if text == "" {
			return ""
		}
		return text
	case "heading_1":
		if text == "" {
			return ""
		}
		return "# " + text
	case "heading_2":
		if text == "" {
			return ""
		}
		return "## " + text
	case "heading_3":
		if text == "" {
			return ""
		}
		return "### " + text
	case "bulleted_list_item", "numbered_list_item":
		if text == "" {
			return ""
		}
		return "- " + text
	case "quote":
		if text == "" {
			return ""
		}
		return "> " + text
	case "callout":
		if text == "" {
			return ""
		}
		emoji := b.Emoji
		if emoji == "" {
			emoji = defaultCalloutEmoji
		}
		return emoji + " " + text
	case "code":
		if text == "" {
			return ""
		}
		return "```" + b.Language + "\n" + text + "\n```"
	case "toggle":
		if text == "" {
			return ""
		}
		return "▶ " + text
	default:
		return ""
	}
}

// FlattenBlocks joins rendered block text with blank-line separators,
// skipping blocks that rendered to "" (empty content or unsupported type).
func FlattenBlocks(blocks []notionRawBlock) string {
	var parts []string
	for _, b := range blocks {
		if rendered := renderBlock(b); rendered != "" {
			parts = append(parts, rendered)
		}
	}
	return strings.Join(parts, "\n\n")
}

// HTTPNoteSource implements NoteSource against a Notion-shaped HTTP API,
// rate-limited and retried through TokenBucket/WithRetry (C1).
type HTTPNoteSource struct {
	token      string
	databaseID string
	parentPage string
	bucket     *TokenBucket
	cfg        Config
	fetch      func(ctx context.Context, method, path string, body any) ([]byte, error)
}

// NewHTTPNoteSource builds a note source in database mode when databaseID
// is non-empty, otherwise parent-page mode when parentPage is non-empty.
// Exactly one must be set; both-or-neither is a configuration error caught
// at startup by Config.Validate in the embedding application, not here.
func NewHTTPNoteSource(token, databaseID, parentPage string, bucket *TokenBucket, cfg Config, fetch func(ctx context.Context, method, path string, body any) ([]byte, error)) *HTTPNoteSource {
	return &HTTPNoteSource{
		token:      token,
		databaseID: databaseID,
		parentPage: parentPage,
		bucket:     bucket,
		cfg:        cfg,
		fetch:      fetch,
	}
}

func (s *HTTPNoteSource) Mode() string {
	if s.databaseID != "" {
		return FetchModeDatabase
	}
	return FetchModeParentPage
}

// ListPages paginates the configured source to completion, deduplicating
// by ExternalID within the run.
func (s *HTTPNoteSource) ListPages(ctx context.Context) ([]PageMeta, error) {
	seen := make(map[string]struct{})
	var pages []PageMeta

	cursor := ""
	for {
		batch, nextCursor, hasMore, err := s.listOnce(ctx, cursor)
		if err != nil {
			return nil, err
		}
		for _, p := range batch {
			if _, dup := seen[p.ExternalID]; dup {
				continue
			}
			seen[p.ExternalID] = struct{}{}
			pages = append(pages, p)
		}
		if !hasMore || nextCursor == "" {
			break
		}
		cursor = nextCursor
	}
	return pages, nil
}

// listOnce performs one page of the upstream listing call, gated by the
// rate limiter and retried on transient failure.
func (s *HTTPNoteSource) listOnce(ctx context.Context, cursor string) ([]PageMeta, string, bool, error) {
	var result struct {
		Results    []rawListItem `json:"results"`
		HasMore    bool          `json:"has_more"`
		NextCursor string        `json:"next_cursor"`
	}

	path := s.listPath()
	err := WithRetry(ctx, s.bucket, s.cfg, 3, func(ctx context.Context) error {
		raw, err := s.fetch(ctx, "POST", path, map[string]any{"start_cursor": cursor, "page_size": 100})
		if err != nil {
			return &NetworkError{Op: "list pages", Err: err}
		}
		return ExtractJSON(string(raw), &result)
	})
	if err != nil {
		return nil, "", false, err
	}

	pages := make([]PageMeta, 0, len(result.Results))
	for _, item := range result.Results {
		if s.Mode() == FetchModeParentPage && item.Type != "child_page" {
			continue
		}
		pages = append(pages, PageMeta{
			ExternalID: item.ID,
			Title:      item.Title,
			Created:    item.CreatedTime,
			LastEdited: item.LastEditedTime,
		})
	}
	return pages, result.NextCursor, result.HasMore, nil
}

func (s *HTTPNoteSource) listPath() string {
	if s.databaseID != "" {
		return fmt.Sprintf("/databases/%s/query", s.databaseID)
	}
	return fmt.Sprintf("/blocks/%s/children", s.parentPage)
}

type rawListItem struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	CreatedTime    time.Time `json:"created_time"`
	LastEditedTime time.Time `json:"last_edited_time"`
}

// FetchBlocks pulls and flattens block children for pageID, paginating
// until has_more is false. A failure partway through returns whatever was
// collected so far, per §4.3 — it does not raise.
func (s *HTTPNoteSource) FetchBlocks(ctx context.Context, pageID string) ([]Block, error) {
	var collected []notionRawBlock
	cursor := ""

	for {
		var page struct {
			Results    []notionRawBlock `json:"results"`
			HasMore    bool             `json:"has_more"`
			NextCursor string           `json:"next_cursor"`
		}

		err := WithRetry(ctx, s.bucket, s.cfg, 3, func(ctx context.Context) error {
			raw, err := s.fetch(ctx, "GET", fmt.Sprintf("/blocks/%s/children?start_cursor=%s&page_size=100", pageID, cursor), nil)
			if err != nil {
				return &NetworkError{Op: "fetch blocks", Err: err}
			}
			return ExtractJSON(string(raw), &page)
		})
		if err != nil {
			// Partial content on mid-pagination failure: return what we have.
			break
		}

		collected = append(collected, page.Results...)
		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	blocks := make([]Block, 0, len(collected))
	for _, raw := range collected {
		if rendered := renderBlock(raw); rendered != "" {
			blocks = append(blocks, Block{Text: rendered})
		}
	}
	return blocks, nil
}

var _ NoteSource = (*HTTPNoteSource)(nil)
