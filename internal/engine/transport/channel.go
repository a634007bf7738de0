package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// ChannelTransportName selects the in-memory Go channel transport. Useful for
// testing and local development.
const ChannelTransportName = "channel"

// ChannelFactory allows overriding the channel creation for testing.
var ChannelFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register(ChannelTransportName, BuildChannel)
}

// BuildChannel creates a new Go channel transport.
func BuildChannel(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	pub, sub := ChannelFactory(gochannel.Config{}, logger)
	return Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}
