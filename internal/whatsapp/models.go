package whatsapp

// --- Incoming webhook payload ---
// Reference: https://developers.facebook.com/docs/whatsapp/cloud-api/webhooks/components

type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change.Value is nil when the delivery carries no value object.
type Change struct {
	Value *ChangeValue `json:"value"`
	Field string       `json:"field"`
}

type ChangeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts"`
	Messages         []Message `json:"messages"`
	Statuses         []Status  `json:"statuses"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	Profile Profile `json:"profile"`
	WaID    string  `json:"wa_id"`
}

type Profile struct {
	Name string `json:"name"`
}

type Message struct {
	From        string              `json:"from"`
	ID          string              `json:"id"`
	Timestamp   string              `json:"timestamp"`
	Type        string              `json:"type"`
	Context     *MessageContext     `json:"context,omitempty"`
	Text        *TextContent        `json:"text,omitempty"`
	Interactive *InteractiveContent `json:"interactive,omitempty"`
	Button      *ButtonContent      `json:"button,omitempty"`
	Image       *MediaContent       `json:"image,omitempty"`
	Video       *MediaContent       `json:"video,omitempty"`
	Audio       *MediaContent       `json:"audio,omitempty"`
	Document    *MediaContent       `json:"document,omitempty"`
	Sticker     *MediaContent       `json:"sticker,omitempty"`
	Location    *LocationContent    `json:"location,omitempty"`
}

// MessageContext is set when the user replied to (or forwarded) a previous message.
type MessageContext struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

// InteractiveContent represents a user's reply to an interactive message (button or list).
// Reference: https://developers.facebook.com/docs/whatsapp/cloud-api/webhooks/components#messages-object
type InteractiveContent struct {
	Type        string          `json:"type"`
	ButtonReply *ButtonReplyMsg `json:"button_reply,omitempty"`
	ListReply   *ListReplyMsg   `json:"list_reply,omitempty"`
}

type ButtonReplyMsg struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type ListReplyMsg struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ButtonContent is a quick-reply button press on a template message.
type ButtonContent struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type TextContent struct {
	Body string `json:"body"`
}

// MediaContent covers image, video, audio, document and sticker objects.
// Only the media id is delivered; the file itself is fetched through GetMediaURL.
type MediaContent struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
	Voice    bool   `json:"voice,omitempty"`
	Animated bool   `json:"animated,omitempty"`
}

type LocationContent struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
	URL       string  `json:"url,omitempty"`
}

type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// --- Outgoing send message ---
// Reference: https://developers.facebook.com/docs/whatsapp/cloud-api/messages

type SendMessageRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	RecipientType    string           `json:"recipient_type,omitempty"`
	To               string           `json:"to,omitempty"`
	Type             string           `json:"type,omitempty"`
	Context          *ReplyContext    `json:"context,omitempty"`
	Text             *SendText        `json:"text,omitempty"`
	Interactive      *Interactive     `json:"interactive,omitempty"`
	Template         *Template        `json:"template,omitempty"`
	Image            *MediaObject     `json:"image,omitempty"`
	Video            *MediaObject     `json:"video,omitempty"`
	Audio            *MediaObject     `json:"audio,omitempty"`
	Document         *MediaObject     `json:"document,omitempty"`
	Sticker          *MediaObject     `json:"sticker,omitempty"`
	Location         *SendLocation    `json:"location,omitempty"`
	Status           string           `json:"status,omitempty"`
	MessageID        string           `json:"message_id,omitempty"`
	TypingIndicator  *TypingIndicator `json:"typing_indicator,omitempty"`
}

// ReplyContext quotes the message being replied to.
type ReplyContext struct {
	MessageID string `json:"message_id"`
}

type SendText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type Interactive struct {
	Type   string             `json:"type"`
	Header *InteractiveHeader `json:"header,omitempty"`
	Body   InteractiveBody    `json:"body"`
	Footer *InteractiveFooter `json:"footer,omitempty"`
	Action InteractiveAction  `json:"action"`
}

// InteractiveHeader is either a text header or a media header
// (image, video or document) referenced by link or uploaded media id.
type InteractiveHeader struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	Image    *MediaObject `json:"image,omitempty"`
	Video    *MediaObject `json:"video,omitempty"`
	Document *MediaObject `json:"document,omitempty"`
}

type InteractiveBody struct {
	Text string `json:"text"`
}

type InteractiveFooter struct {
	Text string `json:"text"`
}

type InteractiveAction struct {
	Name     string    `json:"name,omitempty"`
	Buttons  []Button  `json:"buttons,omitempty"`
	Button   string    `json:"button,omitempty"`
	Sections []Section `json:"sections,omitempty"`
}

// Section and SectionRow support list-type interactive messages.
// Reference: https://developers.facebook.com/docs/whatsapp/cloud-api/messages/interactive-list-messages
type Section struct {
	Title string       `json:"title,omitempty"`
	Rows  []SectionRow `json:"rows"`
}

type SectionRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type Button struct {
	Type  string      `json:"type"`
	Reply ButtonReply `json:"reply"`
}

type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Template references a pre-approved message template.
// Reference: https://developers.facebook.com/docs/whatsapp/cloud-api/guides/send-message-templates
type Template struct {
	Name       string              `json:"name"`
	Language   TemplateLanguage    `json:"language"`
	Components []TemplateComponent `json:"components"`
}

type TemplateLanguage struct {
	Code string `json:"code"`
}

type TemplateComponent struct {
	Type       string              `json:"type"`
	SubType    string              `json:"sub_type,omitempty"`
	Index      string              `json:"index,omitempty"`
	Parameters []TemplateParameter `json:"parameters,omitempty"`
}

type TemplateParameter struct {
	Type    string       `json:"type"`
	Text    string       `json:"text,omitempty"`
	Payload string       `json:"payload,omitempty"`
	Image   *MediaObject `json:"image,omitempty"`
}

// MediaObject references media either by a public link or by an uploaded media id.
type MediaObject struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type SendLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type TypingIndicator struct {
	Type string `json:"type"`
}

// graphError is the error envelope returned by the Graph API on non-2xx responses.
type graphError struct {
	Error struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		Subcode   int    `json:"error_subcode"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}
