package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes mounts the live telemetry websocket. A viewer connects to
// /telemetry/{tripID} and receives JSON Event frames until it disconnects.
func RegisterRoutes(r fiber.Router, hub *Hub) {
	r.Use("/telemetry/:tripID", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	})

	r.Get("/telemetry/:tripID", websocket.New(func(c *websocket.Conn) {
		tripID := c.Params("tripID")
		client := hub.Register(tripID)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for frame := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}

		// closing Send lets the writer drain and exit
		hub.Unregister(client)
		<-done
	}))
}
