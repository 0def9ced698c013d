package controller

import (
	"log"
	"time"

	"github.com/gofiber/websocket/v2"

	"schoolmail/config"
	"schoolmail/models"
)

// HandleSequenceStatusWS streams delivery counts for one sequence until
// the client disconnects. Dashboards poll this instead of hammering the
// status endpoint.
func HandleSequenceStatusWS(c *websocket.Conn) {
	defer c.Close()

	var input struct {
		SequenceID uint `json:"sequence_id"`
	}
	if err := c.ReadJSON(&input); err != nil {
		log.Printf("sequence status ws: error reading JSON: %v", err)
		return
	}

	var seq models.EmailSequence
	if err := config.DB.First(&seq, input.SequenceID).Error; err != nil {
		c.WriteJSON(map[string]string{"error": "sequence not found"})
		return
	}

	svc := sequenceService(seq.SchoolID)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		status, err := svc.GetSequenceStatus(seq.ID)
		if err != nil {
			log.Printf("sequence status ws: %v", err)
			return
		}
		if err := c.WriteJSON(status); err != nil {
			return
		}

		pending := status.ByStatus[models.StatusQueued] + status.ByStatus[models.StatusSending]
		if pending == 0 {
			c.WriteJSON(map[string]string{"status": "completed"})
			return
		}
		<-ticker.C
	}
}
