package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/parcelworks/zipnet-engine/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for local dashboards
	},
}

// Hub maintains the set of active websocket clients and broadcasts epoch
// lifecycle events, consensus outcomes, and honeypot alerts.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			// Write deadline prevents a blocked client from hanging the hub
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := client.WriteMessage(websocket.TextMessage, message)
			if err != nil {
				log.Printf("Websocket write error: %v", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe handles incoming websocket connections
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade websocket: %v", err)
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	h.mutex.Unlock()

	log.Printf("New WebSocket client connected. Total clients: %d", len(h.clients))

	// We only push down, but must read to notice disconnects
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			h.mutex.Unlock()
			conn.Close()
			log.Printf("WebSocket client disconnected. Total clients: %d", len(h.clients))
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("WebSocket error: %v", err)
				}
				break
			}
		}
	}()
}

// Broadcast sends JSON data to all connected clients
func (h *Hub) Broadcast(data []byte) {
	h.broadcast <- data
}

// BroadcastHoneypotAlert pushes a honeypot trip to subscribers. The zipcode
// itself stays unpublished so the trap remains live for later epochs.
func BroadcastHoneypotAlert(hub *Hub) func(epochID, minerID string) {
	return func(epochID, minerID string) {
		payload := gin.H{
			"type":    "honeypot_alert",
			"epochId": epochID,
			"minerId": minerID,
		}
		raw, _ := json.Marshal(payload)
		hub.Broadcast(raw)
		log.Printf("[ALERT] Honeypot tripped by miner %s in epoch %s", minerID, epochID)
	}
}

// BroadcastConsensus pushes the epoch consensus verdict to subscribers.
func BroadcastConsensus(hub *Hub) func(models.ConsensusReport) {
	return func(report models.ConsensusReport) {
		payload := gin.H{
			"type":   "consensus_outcome",
			"report": report,
		}
		raw, _ := json.Marshal(payload)
		hub.Broadcast(raw)
		log.Printf("[ALERT] Epoch %s consensus: %s (%.0f%% agreement, %d outliers)",
			report.EpochID, report.Outcome, report.Agreement*100, len(report.Outliers))
	}
}
