package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meetlite/meetlite/internal/redis"
)

// MeetInfo is the public view of a live meeting.
type MeetInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PeerCount int    `json:"peerCount"`
}

// GetMeeting returns a live meeting's name and member count (public). Serves
// the "does this invite link still work" check before a client connects.
func GetMeeting(c *gin.Context) {
	meetID := c.Param("meetId")

	redisClient := redis.GetClient()
	ctx := redis.GetContext()

	data, err := redisClient.Get(ctx, "meet:"+meetID).Result()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Meet not found"})
		return
	}

	var rec redis.MeetRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to parse meet data"})
		return
	}

	peerCount, _ := redisClient.SCard(ctx, "meet:"+meetID+":peers").Result()

	c.JSON(http.StatusOK, MeetInfo{
		ID:        rec.ID,
		Name:      rec.Name,
		PeerCount: int(peerCount),
	})
}

// ListMeetings returns every mirrored meeting (requires JWT).
func ListMeetings(c *gin.Context) {
	redisClient := redis.GetClient()
	ctx := redis.GetContext()

	ids, err := redisClient.SMembers(ctx, "meets").Result()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list meets"})
		return
	}

	meets := make([]MeetInfo, 0, len(ids))
	for _, id := range ids {
		data, err := redisClient.Get(ctx, "meet:"+id).Result()
		if err != nil {
			continue
		}
		var rec redis.MeetRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue
		}
		peerCount, _ := redisClient.SCard(ctx, "meet:"+id+":peers").Result()
		meets = append(meets, MeetInfo{ID: rec.ID, Name: rec.Name, PeerCount: int(peerCount)})
	}

	c.JSON(http.StatusOK, gin.H{"meets": meets})
}

// DeleteMeeting drops a mirrored meeting record (requires JWT). Only touches
// the mirror; live sockets are unaffected.
func DeleteMeeting(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	meetID := c.Param("meetId")

	redisClient := redis.GetClient()
	ctx := redis.GetContext()

	if err := redisClient.Get(ctx, "meet:"+meetID).Err(); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Meet not found"})
		return
	}

	redisClient.Del(ctx, "meet:"+meetID)
	redisClient.Del(ctx, "meet:"+meetID+":peers")
	redisClient.SRem(ctx, "meets", meetID)

	log.Printf("meet record %s deleted by user %s", meetID, userID)

	c.JSON(http.StatusOK, gin.H{"message": "Meet deleted"})
}
