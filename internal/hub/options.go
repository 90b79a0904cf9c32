package hub

import (
	"time"

	"golang.org/x/time/rate"
)

// Options sizes the hub and tunes per-connection keepalive and limits.
type Options struct {
	// QueueSize is the capacity of the hub's command queue.
	QueueSize int
	// SendBufferSize is the capacity C of each client's outbound queue.
	SendBufferSize int
	// MaxMessageSize bounds inbound frames in bytes.
	MaxMessageSize int64
	// PongWait is how long a connection may stay silent before it is dead.
	// Pings are sent every 9/10 of it.
	PongWait time.Duration
	// WriteWait bounds a single socket write.
	WriteWait time.Duration
	// ResyncInterval is the hub tick that flushes pending resync notices.
	ResyncInterval time.Duration
	// RateLimit and RateBurst bound inbound typing, ping and rejected frames
	// per connection. Subscription changes are not limited.
	RateLimit rate.Limit
	RateBurst int
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		QueueSize:      1024,
		SendBufferSize: 256,
		MaxMessageSize: 64 * 1024,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		ResyncInterval: 30 * time.Second,
		RateLimit:      10,
		RateBurst:      20,
	}
}

func (o Options) sanitize() Options {
	d := DefaultOptions()
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = d.SendBufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.ResyncInterval <= 0 {
		o.ResyncInterval = d.ResyncInterval
	}
	if o.RateLimit <= 0 {
		o.RateLimit = d.RateLimit
	}
	if o.RateBurst <= 0 {
		o.RateBurst = d.RateBurst
	}
	return o
}

// PingPeriod is the keepalive interval, always shorter than PongWait.
func (o Options) PingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}
