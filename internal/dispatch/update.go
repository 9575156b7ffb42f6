package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lojasmm/wabot/internal/whatsapp"
)

var ErrMalformedUpdate = errors.New("malformed update")

// MessageType is the kind of an inbound message.
type MessageType string

const (
	TypeText        MessageType = "text"
	TypeImage       MessageType = "image"
	TypeVideo       MessageType = "video"
	TypeDocument    MessageType = "document"
	TypeAudio       MessageType = "audio"
	TypeSticker     MessageType = "sticker"
	TypeLocation    MessageType = "location"
	TypeInteractive MessageType = "interactive"
	TypeButton      MessageType = "button"
	TypeUnknown     MessageType = "unknown"
	TypeUnsupported MessageType = "unsupported"
)

func parseMessageType(s string) MessageType {
	switch t := MessageType(s); t {
	case TypeText, TypeImage, TypeVideo, TypeDocument, TypeAudio, TypeSticker,
		TypeLocation, TypeInteractive, TypeButton, TypeUnknown:
		return t
	default:
		return TypeUnsupported
	}
}

// Media references an attachment; its content is fetched with Client.DownloadMedia.
type Media struct {
	ID       string
	MimeType string
	SHA256   string
	Filename string
	Voice    bool
}

type Location struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

// Update is the normalized view of one inbound message.
type Update struct {
	PhoneNumberID string // business number that received the message
	Phone         string // sender wa_id
	DisplayName   string
	MessageID     string
	Type          MessageType
	Timestamp     time.Time

	// Text is what filters match against: the text body, the interactive
	// reply id, the template button payload, a media caption, or a
	// rendering of the shared location.
	Text string

	// InteractiveType is "button_reply" or "list_reply" for interactive updates.
	InteractiveType  string
	InteractiveTitle string

	Media    *Media
	Location *Location

	Raw whatsapp.Message

	replier Replier
}

// ParseUpdate decodes a webhook payload. It returns (nil, nil) for valid
// payloads that carry no message, such as delivery status callbacks.
func ParseUpdate(payload []byte) (*Update, error) {
	var p whatsapp.WebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 || p.Entry[0].Changes[0].Value == nil {
		return nil, fmt.Errorf("%w: missing entry[0].changes[0].value", ErrMalformedUpdate)
	}
	return FromValue(*p.Entry[0].Changes[0].Value), nil
}

// FromValue builds an Update from a decoded change value, nil when it holds no message.
func FromValue(v whatsapp.ChangeValue) *Update {
	if len(v.Messages) == 0 {
		return nil
	}
	msg := v.Messages[0]

	u := &Update{
		PhoneNumberID: v.Metadata.PhoneNumberID,
		Phone:         msg.From,
		MessageID:     msg.ID,
		Type:          parseMessageType(msg.Type),
		Raw:           msg,
	}
	if len(v.Contacts) > 0 {
		if v.Contacts[0].WaID != "" {
			u.Phone = v.Contacts[0].WaID
		}
		u.DisplayName = v.Contacts[0].Profile.Name
	}
	if sec, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil {
		u.Timestamp = time.Unix(sec, 0)
	}

	switch u.Type {
	case TypeText:
		if msg.Text != nil {
			u.Text = msg.Text.Body
		}
	case TypeInteractive:
		if in := msg.Interactive; in != nil {
			u.InteractiveType = in.Type
			switch {
			case in.Type == "button_reply" && in.ButtonReply != nil:
				u.Text = in.ButtonReply.ID
				u.InteractiveTitle = in.ButtonReply.Title
			case in.Type == "list_reply" && in.ListReply != nil:
				u.Text = in.ListReply.ID
				u.InteractiveTitle = in.ListReply.Title
			}
		}
	case TypeButton:
		if msg.Button != nil {
			u.Text = msg.Button.Payload
			u.InteractiveTitle = msg.Button.Text
		}
	case TypeImage:
		u.setMedia(msg.Image, true)
	case TypeVideo:
		u.setMedia(msg.Video, true)
	case TypeDocument:
		u.setMedia(msg.Document, true)
	case TypeAudio:
		u.setMedia(msg.Audio, false)
	case TypeSticker:
		u.setMedia(msg.Sticker, false)
	case TypeLocation:
		if l := msg.Location; l != nil {
			u.Location = &Location{
				Latitude:  l.Latitude,
				Longitude: l.Longitude,
				Name:      l.Name,
				Address:   l.Address,
			}
			u.Text = locationText(u.Location)
		}
	}
	return u
}

func (u *Update) setMedia(m *whatsapp.MediaContent, withCaption bool) {
	if m == nil {
		return
	}
	u.Media = &Media{
		ID:       m.ID,
		MimeType: m.MimeType,
		SHA256:   m.SHA256,
		Filename: m.Filename,
		Voice:    m.Voice,
	}
	if withCaption {
		u.Text = m.Caption
	}
}

func locationText(l *Location) string {
	if l.Address != "" {
		return l.Name + "\n" + l.Address
	}
	return fmt.Sprintf("long - _%s_\nlat - _%s_",
		strconv.FormatFloat(l.Longitude, 'f', -1, 64),
		strconv.FormatFloat(l.Latitude, 'f', -1, 64))
}

// Replier is the subset of the WhatsApp client that handlers reply through.
type Replier interface {
	SendText(ctx context.Context, to, body string, opts ...whatsapp.SendOption) (*whatsapp.SendResponse, error)
	SendInteractive(ctx context.Context, to, body string, markup whatsapp.Markup, opts ...whatsapp.SendOption) (*whatsapp.SendResponse, error)
	SendMedia(ctx context.Context, to string, kind whatsapp.MediaKind, linkOrID string, opts ...whatsapp.SendOption) (*whatsapp.SendResponse, error)
	SendTemplate(ctx context.Context, to, name, language string, components []whatsapp.TemplateComponent) (*whatsapp.SendResponse, error)
	MarkAsRead(ctx context.Context, messageID string, typing bool) (*whatsapp.SendResponse, error)
}

var errNoReplier = errors.New("update has no replier attached")

// Reply answers the sender with text, quoting the original message.
func (u *Update) Reply(ctx context.Context, text string, opts ...whatsapp.SendOption) (*whatsapp.SendResponse, error) {
	if u.replier == nil {
		return nil, errNoReplier
	}
	opts = append([]whatsapp.SendOption{whatsapp.ReplyTo(u.MessageID)}, opts...)
	return u.replier.SendText(ctx, u.Phone, text, opts...)
}

// ReplyMarkup answers with an interactive message.
func (u *Update) ReplyMarkup(ctx context.Context, text string, markup whatsapp.Markup, opts ...whatsapp.SendOption) (*whatsapp.SendResponse, error) {
	if u.replier == nil {
		return nil, errNoReplier
	}
	opts = append([]whatsapp.SendOption{whatsapp.ReplyTo(u.MessageID)}, opts...)
	return u.replier.SendInteractive(ctx, u.Phone, text, markup, opts...)
}

func (u *Update) ReplyMedia(ctx context.Context, kind whatsapp.MediaKind, linkOrID string, opts ...whatsapp.SendOption) (*whatsapp.SendResponse, error) {
	if u.replier == nil {
		return nil, errNoReplier
	}
	return u.replier.SendMedia(ctx, u.Phone, kind, linkOrID, opts...)
}

func (u *Update) ReplyTemplate(ctx context.Context, name, language string, components []whatsapp.TemplateComponent) (*whatsapp.SendResponse, error) {
	if u.replier == nil {
		return nil, errNoReplier
	}
	return u.replier.SendTemplate(ctx, u.Phone, name, language, components)
}
