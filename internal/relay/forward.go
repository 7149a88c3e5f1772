package relay

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ytsclub/sophbot/internal/bus"
)

const tracerName = "github.com/ytsclub/sophbot/internal/relay"

// ErrNoDestination means neither the subject nor the fallback named a channel.
var ErrNoDestination = errors.New("no destination channel for email")

// Gateway is the Discord surface the forwarder needs.
type Gateway interface {
	Directory
	WebhookAPI
	WebhookExecutor
	ChannelPoster
}

// Forwarder posts inbound email into Discord. Forward must run on the chat loop.
type Forwarder struct {
	gw       Gateway
	resolver *Resolver
	selector *Selector
	tracer   trace.Tracer
}

// NewForwarder wires a forwarder to a gateway.
func NewForwarder(gw Gateway, resolver *Resolver, selector *Selector) *Forwarder {
	return &Forwarder{
		gw:       gw,
		resolver: resolver,
		selector: selector,
		tracer:   otel.Tracer(tracerName),
	}
}

// Forward resolves the destination, then posts the body under the webhook
// identity (or as the bot when no webhook is usable).
// Returns ErrNoDestination on a miss and a *DeliveryError when chunks fail.
func (f *Forwarder) Forward(ctx context.Context, mail bus.InboundMail) (err error) {
	ctx, span := f.tracer.Start(ctx, "relay.forward",
		trace.WithAttributes(
			attribute.String("mail.source", mail.Source),
			attribute.String("mail.subject", mail.Subject),
			attribute.Int("mail.attachments", mail.Attachments),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	dest, ok := f.resolver.Resolve(ctx, mail.Subject)
	if !ok {
		return ErrNoDestination
	}
	span.SetAttributes(
		attribute.String("discord.channel_id", dest.Channel.ID),
		attribute.Bool("relay.fallback", dest.Fallback),
	)

	var sender Sender
	identity := "bot"
	if hook := f.selector.Obtain(ctx, dest.Channel); hook != nil {
		sender = WebhookSender(f.gw, hook)
		identity = "webhook"
	} else {
		sender = ChannelSender(f.gw, dest.Channel.ID)
	}
	span.SetAttributes(attribute.String("relay.identity", identity))

	outcomes := Deliver(ctx, sender, InboundText(mail.Body))
	span.SetAttributes(attribute.Int("relay.chunks", len(outcomes)))

	if err := DeliveryErr(outcomes); err != nil {
		return err
	}

	slog.Info("relay.email_forwarded",
		"channel", dest.Channel.Name,
		"channel_id", dest.Channel.ID,
		"identity", identity,
		"chunks", len(outcomes),
		"from", mail.From,
		"source", mail.Source,
	)
	return nil
}
