package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	graphURL          = "https://graph.facebook.com"
	DefaultAPIVersion = "v21.0"
	defaultTimeout    = 30 * time.Second
)

var (
	ErrInvalidRecipient = errors.New("invalid recipient phone number")
	ErrEmptyContent     = errors.New("message content is empty")
	ErrUnknownMediaKind = errors.New("unknown media kind")
)

var (
	recipientRe = regexp.MustCompile(`^\+?[1-9][0-9]{4,14}$`)
	linkRe      = regexp.MustCompile(`^((https?://)|(www\.))`)
)

// MediaKind is the message type used for media messages and media headers.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaSticker  MediaKind = "sticker"
)

// APIError is returned when the Graph API answers with a non-2xx status.
// Code, Type and Message are filled from the Graph error envelope when present.
type APIError struct {
	StatusCode int
	Body       []byte
	Code       int
	Subcode    int
	Type       string
	Message    string
	TraceID    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("whatsapp API status %d: %s (code %d)", e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("whatsapp API status %d: %s", e.StatusCode, e.Body)
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: body}
	var ge graphError
	if err := json.Unmarshal(body, &ge); err == nil {
		apiErr.Code = ge.Error.Code
		apiErr.Subcode = ge.Error.Subcode
		apiErr.Type = ge.Error.Type
		apiErr.Message = ge.Error.Message
		apiErr.TraceID = ge.Error.FBTraceID
	}
	return apiErr
}

// SendResponse is the raw answer of the messages endpoint.
type SendResponse struct {
	StatusCode int
	Body       []byte
	MessageID  string
	WaID       string
}

type Client struct {
	phoneNumberID string
	accessToken   string
	host          string
	version       string
	http          *http.Client
	limiter       *rate.Limiter
	log           logrus.FieldLogger
	mediaLookups  singleflight.Group
}

type Option func(*Client)

// WithAPIVersion selects the Graph API version. "21", "21.0" and "v21.0" are equivalent.
func WithAPIVersion(version string) Option {
	return func(c *Client) {
		if v := normalizeVersion(version); v != "" {
			c.version = v
		}
	}
}

// WithBaseURL overrides the Graph API host, mostly for tests.
func WithBaseURL(host string) Option {
	return func(c *Client) { c.host = strings.TrimRight(host, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit caps outbound requests per second. Zero or less means unlimited.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.log = l }
}

func NewClient(phoneNumberID, accessToken string, opts ...Option) *Client {
	c := &Client{
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		host:          graphURL,
		version:       DefaultAPIVersion,
		http:          &http.Client{Timeout: defaultTimeout},
		limiter:       rate.NewLimiter(rate.Inf, 0),
		log:           logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PhoneNumberID is the business phone number the client sends from.
func (c *Client) PhoneNumberID() string { return c.phoneNumberID }

func (c *Client) apiURL() string { return c.host + "/" + c.version }

func (c *Client) messagesURL() string {
	return fmt.Sprintf("%s/%s/messages", c.apiURL(), c.phoneNumberID)
}

func normalizeVersion(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return ""
	}
	if !strings.Contains(v, ".") {
		v += ".0"
	}
	return "v" + v
}

// --- send options ---

type sendOptions struct {
	replyTo    string
	previewURL bool
	header     string
	headerKind MediaKind
	footer     string
	caption    string
	filename   string
}

func defaultSendOptions() sendOptions {
	return sendOptions{previewURL: true}
}

// SendOption tunes a single send. Options that do not apply to a message kind are ignored.
type SendOption func(*sendOptions)

// ReplyTo quotes the given message id in the outgoing message.
func ReplyTo(messageID string) SendOption {
	return func(o *sendOptions) { o.replyTo = messageID }
}

// PreviewURL toggles link previews on text messages (default on).
func PreviewURL(on bool) SendOption {
	return func(o *sendOptions) { o.previewURL = on }
}

// Header sets a text header on an interactive message.
func Header(text string) SendOption {
	return func(o *sendOptions) {
		o.header = text
		o.headerKind = ""
	}
}

// MediaHeader sets an image, video or document header on an interactive message.
// Values starting with http(s):// or www. are sent as links, anything else as a media id.
func MediaHeader(kind MediaKind, linkOrID string) SendOption {
	return func(o *sendOptions) {
		o.header = linkOrID
		o.headerKind = kind
	}
}

func Footer(text string) SendOption {
	return func(o *sendOptions) { o.footer = text }
}

func Caption(text string) SendOption {
	return func(o *sendOptions) { o.caption = text }
}

// Filename names a document message attachment.
func Filename(name string) SendOption {
	return func(o *sendOptions) { o.filename = name }
}

func applyOptions(opts []SendOption) sendOptions {
	o := defaultSendOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newRequest(to, typ string, o sendOptions) SendMessageRequest {
	msg := SendMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             typ,
	}
	if o.replyTo != "" {
		msg.Context = &ReplyContext{MessageID: o.replyTo}
	}
	return msg
}

func validateRecipient(to string) error {
	if !recipientRe.MatchString(to) {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, to)
	}
	return nil
}

func mediaObject(linkOrID string) *MediaObject {
	if linkRe.MatchString(linkOrID) {
		return &MediaObject{Link: linkOrID}
	}
	return &MediaObject{ID: linkOrID}
}

// --- senders ---

func (c *Client) SendText(ctx context.Context, to, body string, opts ...SendOption) (*SendResponse, error) {
	if err := validateRecipient(to); err != nil {
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("text: %w", ErrEmptyContent)
	}
	o := applyOptions(opts)
	msg := newRequest(to, "text", o)
	msg.Text = &SendText{Body: body, PreviewURL: o.previewURL}
	return c.send(ctx, msg)
}

// SendInteractive sends body text with buttons, a list or a location request attached.
func (c *Client) SendInteractive(ctx context.Context, to, body string, markup Markup, opts ...SendOption) (*SendResponse, error) {
	if err := validateRecipient(to); err != nil {
		return nil, err
	}
	if markup == nil {
		return nil, fmt.Errorf("interactive: %w: markup is nil", ErrInvalidMarkup)
	}
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("interactive: %w", ErrEmptyContent)
	}
	o := applyOptions(opts)

	interactive := &Interactive{
		Type:   markup.Type(),
		Body:   InteractiveBody{Text: body},
		Action: markup.Action(),
	}
	if o.header != "" {
		header, err := buildHeader(o.headerKind, o.header)
		if err != nil {
			return nil, err
		}
		interactive.Header = header
	}
	if o.footer != "" {
		interactive.Footer = &InteractiveFooter{Text: o.footer}
	}

	msg := newRequest(to, "interactive", o)
	msg.Interactive = interactive
	return c.send(ctx, msg)
}

func buildHeader(kind MediaKind, value string) (*InteractiveHeader, error) {
	switch kind {
	case "":
		return &InteractiveHeader{Type: "text", Text: value}, nil
	case MediaImage:
		return &InteractiveHeader{Type: string(kind), Image: mediaObject(value)}, nil
	case MediaVideo:
		return &InteractiveHeader{Type: string(kind), Video: mediaObject(value)}, nil
	case MediaDocument:
		return &InteractiveHeader{Type: string(kind), Document: mediaObject(value)}, nil
	default:
		return nil, fmt.Errorf("interactive header: %w: %q", ErrUnknownMediaKind, kind)
	}
}

// RequestLocation asks the recipient to share their location.
func (c *Client) RequestLocation(ctx context.Context, to, body string, opts ...SendOption) (*SendResponse, error) {
	return c.SendInteractive(ctx, to, body, LocationRequest(), opts...)
}

// SendTemplate sends a pre-approved template. An empty language defaults to en_US.
func (c *Client) SendTemplate(ctx context.Context, to, name, language string, components []TemplateComponent) (*SendResponse, error) {
	if err := validateRecipient(to); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("template: %w: name is required", ErrEmptyContent)
	}
	if language == "" {
		language = "en_US"
	}
	if components == nil {
		components = []TemplateComponent{}
	}
	msg := newRequest(to, "template", defaultSendOptions())
	msg.Template = &Template{
		Name:       name,
		Language:   TemplateLanguage{Code: language},
		Components: components,
	}
	return c.send(ctx, msg)
}

// SendMedia sends an image, video, audio, document or sticker by link or uploaded media id.
func (c *Client) SendMedia(ctx context.Context, to string, kind MediaKind, linkOrID string, opts ...SendOption) (*SendResponse, error) {
	if err := validateRecipient(to); err != nil {
		return nil, err
	}
	if linkOrID == "" {
		return nil, fmt.Errorf("%s: %w", kind, ErrEmptyContent)
	}
	o := applyOptions(opts)
	obj := mediaObject(linkOrID)
	msg := newRequest(to, string(kind), o)

	switch kind {
	case MediaImage:
		obj.Caption = o.caption
		msg.Image = obj
	case MediaVideo:
		obj.Caption = o.caption
		msg.Video = obj
	case MediaDocument:
		obj.Caption = o.caption
		obj.Filename = o.filename
		msg.Document = obj
	case MediaAudio:
		msg.Audio = obj
	case MediaSticker:
		msg.Sticker = obj
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMediaKind, kind)
	}
	return c.send(ctx, msg)
}

func (c *Client) SendLocation(ctx context.Context, to string, latitude, longitude float64, name, address string) (*SendResponse, error) {
	if err := validateRecipient(to); err != nil {
		return nil, err
	}
	msg := newRequest(to, "location", defaultSendOptions())
	msg.Location = &SendLocation{
		Latitude:  latitude,
		Longitude: longitude,
		Name:      name,
		Address:   address,
	}
	return c.send(ctx, msg)
}

// MarkAsRead marks an incoming message as read, optionally showing a typing indicator.
// Reference: https://developers.facebook.com/docs/whatsapp/cloud-api/typing-indicators
func (c *Client) MarkAsRead(ctx context.Context, messageID string, typing bool) (*SendResponse, error) {
	if messageID == "" {
		return nil, fmt.Errorf("mark as read: %w: message id is required", ErrEmptyContent)
	}
	msg := SendMessageRequest{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	}
	if typing {
		msg.TypingIndicator = &TypingIndicator{Type: "text"}
	}
	return c.send(ctx, msg)
}

func (c *Client) send(ctx context.Context, msg SendMessageRequest) (*SendResponse, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling message: %w", err)
	}
	c.log.WithField("type", msg.Type).Debugf("whatsapp: sending %s", payload)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for send slot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, body)
	}

	out := &SendResponse{StatusCode: resp.StatusCode, Body: body}
	out.MessageID, _ = jsonparser.GetString(body, "messages", "[0]", "id")
	out.WaID, _ = jsonparser.GetString(body, "contacts", "[0]", "wa_id")
	return out, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
}
