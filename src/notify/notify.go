// Package notify tells operators when a snapshot is published or held.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Event kinds.
const (
	KindPublished = "published"
	KindHeld      = "held"
	KindPromoted  = "promoted"
	KindFailed    = "failed"
)

// Event describes one sync outcome.
type Event struct {
	RunID       string
	Kind        string
	Mode        string
	Fingerprint string
	Proposals   int
	Votes       int
	Skipped     int
	VoteErrors  int
	Partial     bool
	Err         string
	At          time.Time
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes events to a zap logger. Held and failed runs log at warn level.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Notify(_ context.Context, ev Event) error {
	if l.Logger == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("run", ev.RunID),
		zap.String("mode", ev.Mode),
		zap.Int("proposals", ev.Proposals),
		zap.Int("votes", ev.Votes),
	}
	if ev.Fingerprint != "" {
		fields = append(fields, zap.String("fingerprint", ev.Fingerprint))
	}
	if ev.Skipped > 0 || ev.VoteErrors > 0 || ev.Partial {
		fields = append(fields, zap.Int("skipped", ev.Skipped), zap.Int("vote_errors", ev.VoteErrors), zap.Bool("partial", ev.Partial))
	}
	if ev.Err != "" {
		fields = append(fields, zap.String("error", ev.Err))
	}
	switch ev.Kind {
	case KindHeld, KindFailed:
		l.Logger.Warn("snapshot "+ev.Kind, fields...)
	default:
		l.Logger.Info("snapshot "+ev.Kind, fields...)
	}
	return nil
}

// Discord posts embeds to one channel over the REST API.
type Discord struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewDiscord creates a bot session; no gateway connection is opened.
func NewDiscord(token, channelID string, logger *zap.Logger) (*Discord, error) {
	if token == "" || channelID == "" {
		return nil, errors.New("discord token and channel are required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discord{session: session, channelID: channelID, logger: logger.Named("notify")}, nil
}

func (d *Discord) Notify(ctx context.Context, ev Event) error {
	if _, err := d.session.ChannelMessageSendEmbed(d.channelID, Embed(ev), discordgo.WithContext(ctx)); err != nil {
		d.logger.Warn("discord notification failed", zap.String("kind", ev.Kind), zap.Error(err))
		return err
	}
	return nil
}

const (
	colorGreen  = 0x2ecc71
	colorOrange = 0xe67e22
	colorRed    = 0xe74c3c
	colorBlue   = 0x3498db
)

// Embed renders ev as a discord embed.
func Embed(ev Event) *discordgo.MessageEmbed {
	color := colorBlue
	title := "Snapshot " + ev.Kind
	switch ev.Kind {
	case KindPublished:
		color = colorGreen
	case KindHeld:
		color = colorOrange
		title = "Snapshot held for review"
	case KindFailed:
		color = colorRed
		title = "Sync failed"
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Mode", Value: orDash(ev.Mode), Inline: true},
		{Name: "Proposals", Value: fmt.Sprint(ev.Proposals), Inline: true},
		{Name: "Votes", Value: fmt.Sprint(ev.Votes), Inline: true},
	}
	if ev.Skipped > 0 || ev.VoteErrors > 0 || ev.Partial {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  "Gaps",
			Value: fmt.Sprintf("%d skipped proposals, %d vote page errors", ev.Skipped, ev.VoteErrors),
		})
	}
	if ev.Err != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Error", Value: truncate(ev.Err, 1000)})
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	footer := "run " + orDash(ev.RunID)
	if ev.Fingerprint != "" {
		footer += " · " + ev.Fingerprint
	}
	return &discordgo.MessageEmbed{
		Title:     title,
		Color:     color,
		Fields:    fields,
		Timestamp: at.UTC().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: footer},
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
