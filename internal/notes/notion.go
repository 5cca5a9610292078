// Package notes persists finished meeting transcripts as Notion pages.
package notes

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/rush86999/atom-meeting-worker/internal/logging"
)

// richTextLimit is Notion's maximum length for one rich text segment.
const richTextLimit = 2000

// Note is the content of one meeting note.
type Note struct {
	Title         string
	Transcript    string
	Summary       string
	Source        string
	LinkedEventID string
}

// Ref identifies a created page.
type Ref struct {
	PageID string
	URL    string
}

// Client writes meeting notes into one Notion database.
type Client struct {
	api        *notionapi.Client
	databaseID string
}

// NewClient creates a Notion note writer scoped to one task's API key.
func NewClient(apiKey, databaseID string) *Client {
	return &Client{
		api:        notionapi.NewClient(notionapi.Token(apiKey)),
		databaseID: databaseID,
	}
}

// CreateMeetingNote creates a page with the summary above the transcript.
func (c *Client) CreateMeetingNote(ctx context.Context, note Note) (Ref, error) {
	if c.databaseID == "" {
		return Ref{}, fmt.Errorf("no notion database id configured for this task")
	}

	children := make([]notionapi.Block, 0, 4+len(note.Transcript)/richTextLimit)
	if note.Summary != "" {
		children = append(children, heading("Summary"))
		children = append(children, paragraphs(note.Summary)...)
	}
	children = append(children, heading("Transcript"))
	children = append(children, paragraphs(note.Transcript)...)

	page, err := c.api.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(c.databaseID),
		},
		Properties: notionapi.Properties{
			"title": notionapi.TitleProperty{
				Title: []notionapi.RichText{{Text: &notionapi.Text{Content: note.Title}}},
			},
		},
		Children: children,
	})
	if err != nil {
		return Ref{}, fmt.Errorf("create notion page: %w", err)
	}

	logging.Success(logging.CategoryNotes, "note created pageID=%s title=%q", page.ID, note.Title)
	return Ref{PageID: string(page.ID), URL: page.URL}, nil
}

func heading(text string) notionapi.Block {
	return &notionapi.Heading2Block{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeHeading2,
		},
		Heading2: notionapi.Heading{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: text}}},
		},
	}
}

// paragraphs splits text into paragraph blocks below Notion's rich text
// segment limit. The limit counts characters, so chunking walks runes.
func paragraphs(text string) []notionapi.Block {
	var blocks []notionapi.Block
	runes := []rune(text)
	for len(runes) > 0 {
		n := len(runes)
		if n > richTextLimit {
			n = richTextLimit
		}
		chunk := string(runes[:n])
		runes = runes[n:]
		blocks = append(blocks, &notionapi.ParagraphBlock{
			BasicBlock: notionapi.BasicBlock{
				Object: notionapi.ObjectTypeBlock,
				Type:   notionapi.BlockTypeParagraph,
			},
			Paragraph: notionapi.Paragraph{
				RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: chunk}}},
			},
		})
	}
	return blocks
}
