package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindReddit     Kind = "reddit"
	KindFeed       Kind = "feed"
	KindNews       Kind = "news"
	KindWeb        Kind = "web"
	KindGeneration Kind = "generation"
	KindOpaque     Kind = "opaque"
)

// Metadata is the producer-specific payload attached to discovered items and
// content records. Every variant reports its own kind so it can be encoded
// with a discriminator.
type Metadata interface {
	Kind() Kind
}

type Reddit struct {
	Subreddit string `json:"subreddit"`
	Permalink string `json:"permalink,omitempty"`
	Flair     string `json:"flair,omitempty"`
	Score     int    `json:"score"`
	Comments  int    `json:"comments"`
	PostHint  string `json:"postHint,omitempty"`
}

type Feed struct {
	FeedTitle     string   `json:"feedTitle,omitempty"`
	GUID          string   `json:"guid,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	EnclosureType string   `json:"enclosureType,omitempty"`
}

type News struct {
	SourceID   string `json:"sourceId,omitempty"`
	SourceName string `json:"sourceName"`
	Author     string `json:"author,omitempty"`
}

type Web struct {
	SiteName string `json:"siteName,omitempty"`
	Byline   string `json:"byline,omitempty"`
	Length   int    `json:"length,omitempty"`
}

// Generation describes the external text/image generation call that
// produced or enriched a record.
type Generation struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	Output   string `json:"output,omitempty"`
}

// Opaque keeps payloads of kinds this build does not know about.
type Opaque struct {
	RawKind string          `json:"-"`
	Raw     json.RawMessage `json:"-"`
}

func (Reddit) Kind() Kind     { return KindReddit }
func (Feed) Kind() Kind       { return KindFeed }
func (News) Kind() Kind       { return KindNews }
func (Web) Kind() Kind        { return KindWeb }
func (Generation) Kind() Kind { return KindGeneration }
func (Opaque) Kind() Kind     { return KindOpaque }

type envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Marshal encodes m as {"kind": ..., "data": ...}. A nil value encodes as null.
// Opaque values are written back exactly as they were read.
func Marshal(m Metadata) ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}

	if o, ok := m.(Opaque); ok {
		if len(o.Raw) == 0 {
			return []byte("null"), nil
		}
		return o.Raw, nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s metadata: %w", m.Kind(), err)
	}

	return json.Marshal(envelope{Kind: m.Kind(), Data: data})
}

// Unmarshal decodes an envelope produced by Marshal. Unknown kinds, and
// payloads without an envelope, decode to Opaque.
func Unmarshal(data []byte) (Metadata, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil || env.Kind == "" {
		return Opaque{Raw: append(json.RawMessage(nil), trimmed...)}, nil
	}

	var (
		m   Metadata
		err error
	)
	switch env.Kind {
	case KindReddit:
		m, err = decode[Reddit](env.Data)
	case KindFeed:
		m, err = decode[Feed](env.Data)
	case KindNews:
		m, err = decode[News](env.Data)
	case KindWeb:
		m, err = decode[Web](env.Data)
	case KindGeneration:
		m, err = decode[Generation](env.Data)
	default:
		return Opaque{RawKind: string(env.Kind), Raw: append(json.RawMessage(nil), trimmed...)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s metadata: %w", env.Kind, err)
	}

	return m, nil
}

func decode[T Metadata](data json.RawMessage) (Metadata, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Value wraps Metadata so it can be embedded in JSON-encoded structs.
type Value struct {
	Metadata
}

func Of(m Metadata) Value {
	return Value{Metadata: m}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return Marshal(v.Metadata)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	m, err := Unmarshal(data)
	if err != nil {
		return err
	}
	v.Metadata = m
	return nil
}

func (v Value) IsZero() bool {
	return v.Metadata == nil
}
