package redis

import (
	"encoding/json"
	"log"
	"time"
)

const meetTTL = 24 * time.Hour

// MeetRecord is the meeting metadata mirrored for the ops API.
type MeetRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	HostID    string    `json:"hostId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Presence mirrors relay membership into Redis. Every write is best-effort:
// the relay's in-memory directory is authoritative and a Redis failure must
// never affect signaling.
type Presence struct{}

func (Presence) MeetingCreated(meetID, name, hostID string) {
	rec := MeetRecord{
		ID:        meetID,
		Name:      name,
		HostID:    hostID,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return
	}

	if err := client.Set(ctx, "meet:"+meetID, data, meetTTL).Err(); err != nil {
		log.Printf("failed to mirror meet %s: %v", meetID, err)
		return
	}
	client.SAdd(ctx, "meets", meetID)
	client.Expire(ctx, "meets", meetTTL)
}

func (Presence) MemberJoined(meetID, userID string) {
	key := "meet:" + meetID + ":peers"
	if err := client.SAdd(ctx, key, userID).Err(); err != nil {
		log.Printf("failed to mirror join of %s to %s: %v", userID, meetID, err)
		return
	}
	client.Expire(ctx, key, meetTTL)
}

func (Presence) MemberLeft(meetID, userID string) {
	if err := client.SRem(ctx, "meet:"+meetID+":peers", userID).Err(); err != nil {
		log.Printf("failed to mirror leave of %s from %s: %v", userID, meetID, err)
	}
}

func (Presence) MeetingEnded(meetID string) {
	client.Del(ctx, "meet:"+meetID)
	client.Del(ctx, "meet:"+meetID+":peers")
	client.SRem(ctx, "meets", meetID)
}
