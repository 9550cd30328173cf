package domain

import "fmt"

// Kind classifies the content of a single message.
type Kind int

// Message kinds. The set is closed; every switch over Kind must list them all.
const (
	KindUnsupported Kind = iota
	KindText
	KindSticker
	KindVoice
	KindDocument
	KindPhoto
	KindVideo
	KindAnimation
	KindVideoNote
)

var kindNames = map[Kind]string{
	KindUnsupported: "unsupported",
	KindText:        "text",
	KindSticker:     "sticker",
	KindVoice:       "voice",
	KindDocument:    "document",
	KindPhoto:       "photo",
	KindVideo:       "video",
	KindAnimation:   "animation",
	KindVideoNote:   "video_note",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Payload is the opaque content of a message. FileID is a platform content handle
// and is never interpreted.
type Payload struct {
	Kind    Kind   `json:"kind"`
	Text    string `json:"text,omitempty"`
	FileID  string `json:"file_id,omitempty"`
	Caption string `json:"caption,omitempty"`
	// Length is the video-note diameter, required by the platform when re-sending.
	Length int `json:"length,omitempty"`
}

// Supported reports whether the payload can be sent as-is.
func (p Payload) Supported() bool {
	return p.Kind != KindUnsupported
}

// TextPayload builds a text payload.
func TextPayload(text string) Payload {
	return Payload{Kind: KindText, Text: text}
}

// MediaPayload builds a media payload for the given kind and content handle.
func MediaPayload(kind Kind, fileID, caption string) Payload {
	return Payload{Kind: kind, FileID: fileID, Caption: caption}
}
