package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lojasmm/wabot/internal/dispatch"
	"github.com/lojasmm/wabot/internal/whatsapp"
)

// Button and list ids the bot answers to.
const (
	idCatalog       = "catalog"
	idSupport       = "support"
	idShareLocation = "share_location"
	productPrefix   = "product_"

	keyName     = "name"
	keyIssue    = "issue"
	keyMessages = "messages"
)

// MediaDownloader stores inbound media on disk.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, mediaID, dir string) (string, error)
}

// ContactRecorder remembers who talked to the bot. Optional.
type ContactRecorder interface {
	TouchContact(phone, displayName string, at time.Time) error
}

type Product struct {
	ID          string
	Title       string
	Description string
}

// Handler is the reference bot: a menu with a catalog list, a two-step
// support conversation, location sharing and media download.
type Handler struct {
	d        *dispatch.Dispatcher
	media    MediaDownloader
	contacts ContactRecorder
	mediaDir string
	log      logrus.FieldLogger

	menu    *whatsapp.Keyboard
	catalog *whatsapp.List
	now     func() time.Time
}

func NewHandler(d *dispatch.Dispatcher, media MediaDownloader, contacts ContactRecorder, mediaDir string, log logrus.FieldLogger) (*Handler, error) {
	menu, err := whatsapp.NewKeyboard(
		whatsapp.NewButton("Catalog", idCatalog),
		whatsapp.NewButton("Support", idSupport),
		whatsapp.NewButton("Send location", idShareLocation),
	)
	if err != nil {
		return nil, fmt.Errorf("building menu: %w", err)
	}

	rows := make([]whatsapp.SectionRow, 0, len(defaultProducts))
	for _, p := range defaultProducts {
		rows = append(rows, whatsapp.NewListItem(p.Title, productPrefix+p.ID, p.Description))
	}
	section, err := whatsapp.NewSection("Products", rows...)
	if err != nil {
		return nil, fmt.Errorf("building catalog: %w", err)
	}
	catalog, err := whatsapp.NewList("View products", section)
	if err != nil {
		return nil, fmt.Errorf("building catalog: %w", err)
	}

	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		d:        d,
		media:    media,
		contacts: contacts,
		mediaDir: mediaDir,
		log:      log,
		menu:     menu,
		catalog:  catalog,
		now:      time.Now,
	}, nil
}

var defaultProducts = []Product{
	{ID: "1", Title: "Starter plan", Description: "One number, 1k conversations"},
	{ID: "2", Title: "Business plan", Description: "Five numbers, 10k conversations"},
	{ID: "3", Title: "Enterprise plan", Description: "Unlimited numbers"},
}

// Register wires the bot's handlers. The catch-all echo must stay last.
func (h *Handler) Register() {
	h.d.OnAny(nil, h.track, dispatch.Persistent(), dispatch.Named("track"))

	h.d.OnMessage(dispatch.MustRegex(`(?i)/?(start|menu|hi|hello)\b`), h.showMenu, dispatch.Named("menu"))
	h.d.OnInteractive(dispatch.MustRegex(idCatalog+"$"), h.showCatalog, dispatch.Named("catalog"))
	h.d.OnInteractive(dispatch.MustRegex(idSupport+"$"), h.startSupport, dispatch.Named("support"))
	h.d.OnInteractive(dispatch.MustRegex(idShareLocation+"$"), h.askLocation, dispatch.Named("ask_location"))
	h.d.OnInteractive(dispatch.MustRegex(productPrefix), h.pickProduct,
		dispatch.Named("product"), dispatch.ButtonReplies(false))

	h.d.OnLocation(h.gotLocation, dispatch.Named("location"))
	h.d.OnImage(nil, h.saveMedia, dispatch.Named("image"))
	h.d.OnDocument(nil, h.saveMedia, dispatch.Named("document"))
	h.d.OnAudio(h.saveMedia, dispatch.Named("audio"))

	h.d.OnMessage(nil, h.echo, dispatch.Named("echo"))
}

func (h *Handler) track(_ context.Context, u *dispatch.Update, uc *dispatch.UserContext) error {
	n, _ := uc.Get(keyMessages)
	uc.Set(keyMessages, toInt(n)+1)

	if h.contacts == nil {
		return nil
	}
	if err := h.contacts.TouchContact(u.Phone, u.DisplayName, h.now()); err != nil {
		return fmt.Errorf("recording contact: %w", err)
	}
	return nil
}

func (h *Handler) showMenu(ctx context.Context, u *dispatch.Update, _ *dispatch.UserContext) error {
	greeting := "Hi! How can we help?"
	if u.DisplayName != "" {
		greeting = fmt.Sprintf("Hi %s! How can we help?", u.DisplayName)
	}
	_, err := u.ReplyMarkup(ctx, greeting, h.menu, whatsapp.Footer("Type menu at any time"))
	return err
}

func (h *Handler) showCatalog(ctx context.Context, u *dispatch.Update, _ *dispatch.UserContext) error {
	_, err := u.ReplyMarkup(ctx, "Here is what we offer:", h.catalog, whatsapp.Header("Catalog"))
	return err
}

func (h *Handler) pickProduct(ctx context.Context, u *dispatch.Update, _ *dispatch.UserContext) error {
	title := u.InteractiveTitle
	if title == "" {
		title = strings.TrimPrefix(u.Text, productPrefix)
	}
	_, err := u.Reply(ctx, fmt.Sprintf("Great choice: %s. A consultant will contact you.", title))
	return err
}

func (h *Handler) askLocation(ctx context.Context, u *dispatch.Update, _ *dispatch.UserContext) error {
	_, err := u.ReplyMarkup(ctx, "Please share your location.", whatsapp.LocationRequest())
	return err
}

func (h *Handler) gotLocation(ctx context.Context, u *dispatch.Update, _ *dispatch.UserContext) error {
	if u.Location == nil {
		return nil
	}
	_, err := u.Reply(ctx, fmt.Sprintf("Got it: %g, %g", u.Location.Latitude, u.Location.Longitude))
	return err
}

func (h *Handler) saveMedia(ctx context.Context, u *dispatch.Update, _ *dispatch.UserContext) error {
	if u.Media == nil || h.media == nil {
		return nil
	}
	path, err := h.media.DownloadMedia(ctx, u.Media.ID, h.mediaDir)
	if err != nil {
		return fmt.Errorf("downloading media %s: %w", u.Media.ID, err)
	}
	h.log.WithFields(logrus.Fields{"phone": u.Phone, "path": path}).Info("bot: media saved")
	_, err = u.Reply(ctx, fmt.Sprintf("Received your %s.", u.Type))
	return err
}

func (h *Handler) echo(ctx context.Context, u *dispatch.Update, _ *dispatch.UserContext) error {
	_, err := u.Reply(ctx, "You said: "+u.Text)
	return err
}

// --- support conversation: name -> issue -> summary ---

func (h *Handler) startSupport(ctx context.Context, u *dispatch.Update, _ *dispatch.UserContext) error {
	if _, err := u.Reply(ctx, "What is your name? (type cancel to stop)"); err != nil {
		return err
	}
	h.d.SetNextStep(u, h.supportName, dispatch.CancelKeywords(h.cancelSupport))
	return nil
}

func (h *Handler) supportName(ctx context.Context, u *dispatch.Update, uc *dispatch.UserContext) error {
	name := strings.TrimSpace(u.Text)
	if u.Type != dispatch.TypeText || name == "" {
		if _, err := u.Reply(ctx, "Please type your name."); err != nil {
			return err
		}
		h.d.SetNextStep(u, h.supportName, dispatch.CancelKeywords(h.cancelSupport))
		return nil
	}
	uc.Set(keyName, name)
	if _, err := u.Reply(ctx, fmt.Sprintf("Thanks %s. Describe your issue.", name)); err != nil {
		return err
	}
	h.d.SetNextStep(u, h.supportIssue, dispatch.CancelKeywords(h.cancelSupport))
	return nil
}

func (h *Handler) supportIssue(ctx context.Context, u *dispatch.Update, uc *dispatch.UserContext) error {
	uc.Set(keyIssue, u.Text)
	summary := fmt.Sprintf("Ticket opened for %s: %q. We will get back to you.", uc.GetString(keyName), u.Text)
	_, err := u.Reply(ctx, summary)
	return err
}

func (h *Handler) cancelSupport(ctx context.Context, u *dispatch.Update, uc *dispatch.UserContext) error {
	uc.Delete(keyName)
	uc.Delete(keyIssue)
	_, err := u.Reply(ctx, "Support request cancelled.")
	return err
}

// toInt reads a counter that may have round-tripped through JSON.
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
