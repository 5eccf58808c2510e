// Package notifier pushes terminal operation results to the client that
// originated the request, addressed by wallet address. Delivery is
// best-effort: it never blocks a saga and never returns an error to one.
package notifier

import (
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeTimeout  = 10 * time.Second
	sendQueueSize = 16
)

// Hub fans notifications out to websocket subscribers registered under a
// wallet address.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}
}

type subscription struct {
	wallet string
	send   chan []byte
}

// NewHub creates an empty notification hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscription]struct{})}
}

// Notify delivers a payload to every subscriber of the wallet. Slow
// subscribers are skipped rather than awaited.
func (h *Hub) Notify(wallet string, p Payload) {
	body, err := p.MarshalJSON()
	if err != nil {
		log.Error().Err(err).Str("wallet", wallet).Msg("Failed to marshal notification payload")
		return
	}

	key := normalizeWallet(wallet)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[key] {
		select {
		case sub.send <- body:
		default:
			log.Warn().Str("wallet", wallet).Msg("Dropping notification for slow subscriber")
		}
	}

	log.Debug().
		Str("wallet", wallet).
		Str("type", p.Type).
		Str("status", p.Status).
		Int("subscribers", len(h.subs[key])).
		Msg("Notification dispatched")
}

// Serve registers the connection under the wallet address and pumps
// notifications to it until the peer disconnects. Blocks until the
// connection closes.
func (h *Hub) Serve(wallet string, conn *websocket.Conn) {
	sub := h.subscribe(wallet)
	defer h.unsubscribe(sub)

	done := make(chan struct{})

	// Reader goroutine: the client sends nothing we care about, but reading
	// is what surfaces the close frame.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case body := <-sub.send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				log.Debug().Err(err).Str("wallet", wallet).Msg("Subscriber write failed, closing")
				conn.Close()
				return
			}
		case <-done:
			conn.Close()
			return
		}
	}
}

// SubscriberCount returns the number of live subscriptions for a wallet.
func (h *Hub) SubscriberCount(wallet string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[normalizeWallet(wallet)])
}

func (h *Hub) subscribe(wallet string) *subscription {
	sub := &subscription{
		wallet: normalizeWallet(wallet),
		send:   make(chan []byte, sendQueueSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[sub.wallet] == nil {
		h.subs[sub.wallet] = make(map[*subscription]struct{})
	}
	h.subs[sub.wallet][sub] = struct{}{}

	log.Debug().Str("wallet", wallet).Msg("Subscriber registered")
	return sub
}

func (h *Hub) unsubscribe(sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set := h.subs[sub.wallet]; set != nil {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.wallet)
		}
	}
}

func normalizeWallet(wallet string) string {
	return strings.ToLower(wallet)
}
