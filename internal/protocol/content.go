// ABOUTME: MCP content items returned by tools, resources and prompts
// ABOUTME: Text, base64 image and embedded resource variants with validation

package protocol

import (
	"encoding/base64"
	"fmt"
)

// Content type tags
const (
	ContentTypeText     = "text"
	ContentTypeImage    = "image"
	ContentTypeResource = "resource"
)

// Content is a single content item. Exactly one variant is populated,
// selected by Type.
type Content struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	Data     string            `json:"data,omitempty"`
	MimeType MimeType          `json:"mimeType,omitempty"`
	Resource *ResourceContents `json:"resource,omitempty"`
}

// ResourceContents is what resources/read returns per URI.
type ResourceContents struct {
	URI      URI      `json:"uri"`
	MimeType MimeType `json:"mimeType,omitempty"`
	Text     string   `json:"text,omitempty"`
	Blob     string   `json:"blob,omitempty"`
}

// TextContent returns a text item.
func TextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}

// ImageContent returns an image item after validating the base64 payload
// and MIME type.
func ImageContent(data string, mime string) (Content, error) {
	mt, err := ParseMimeType(mime)
	if err != nil {
		return Content{}, err
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return Content{}, fmt.Errorf("%w: image data is not valid base64", ErrInvalidContent)
	}
	return Content{Type: ContentTypeImage, Data: data, MimeType: mt}, nil
}

// ResourceContent embeds resource contents in a content item.
func ResourceContent(rc ResourceContents) Content {
	return Content{Type: ContentTypeResource, Resource: &rc}
}

// Validate checks the variant invariants.
func (c Content) Validate() error {
	switch c.Type {
	case ContentTypeText:
		return nil
	case ContentTypeImage:
		if _, err := ParseMimeType(string(c.MimeType)); err != nil {
			return err
		}
		if _, err := base64.StdEncoding.DecodeString(c.Data); err != nil {
			return fmt.Errorf("%w: image data is not valid base64", ErrInvalidContent)
		}
		return nil
	case ContentTypeResource:
		if c.Resource == nil {
			return fmt.Errorf("%w: resource content without resource", ErrInvalidContent)
		}
		_, err := ParseURI(string(c.Resource.URI))
		return err
	default:
		return fmt.Errorf("%w: unknown content type %q", ErrInvalidContent, c.Type)
	}
}
