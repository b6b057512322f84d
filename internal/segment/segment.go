package segment

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/samber/lo"
)

type Kind string

const (
	KindText      Kind = "text"
	KindImage     Kind = "image"
	KindReference Kind = "reference"
	KindSticker   Kind = "sticker"
)

// Segment is one element of a chat message as delivered by the host.
type Segment struct {
	Kind Kind   `json:"type"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
	ID   string `json:"id,omitempty"`
}

func Text(text string) Segment {
	return Segment{Kind: KindText, Text: text}
}

func NewImage(url, id string) Segment {
	return Segment{Kind: KindImage, URL: url, ID: id}
}

// Image is an image extracted from a segment sequence.
type Image struct {
	URL string
	ID  string
}

// Placeholder is the token that stands in for the image in display text.
func (i Image) Placeholder() string {
	return Placeholder(i.URL)
}

func Placeholder(url string) string {
	return fmt.Sprintf("[image:%016x]", xxhash.Sum64String(url))
}

// UnsupportedError reports an element that cannot be explained at all.
type UnsupportedError struct {
	Kind Kind
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported segment: %s", e.Kind)
}

// Format renders segments as display text, replacing each image with its
// placeholder. Images are returned in first-seen order, one per URL.
func Format(segments []Segment) (string, []Image, error) {
	var b strings.Builder
	var images []Image
	for _, seg := range segments {
		switch seg.Kind {
		case KindText:
			b.WriteString(seg.Text)
		case KindImage:
			b.WriteString(Placeholder(seg.URL))
			images = append(images, Image{URL: seg.URL, ID: seg.ID})
		default:
			// references, stickers and anything the host adds later
			return "", nil, &UnsupportedError{Kind: seg.Kind}
		}
	}
	return b.String(), UniqueImages(images), nil
}

// UniqueImages drops repeated URLs, keeping the first occurrence.
func UniqueImages(images []Image) []Image {
	return lo.UniqBy(images, func(img Image) string {
		return img.URL
	})
}
