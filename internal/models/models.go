package models

import "time"

// User represents a user in the system. PartnerID and PairID are either
// both set or both nil; only the pairing coordinator mutates them.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	PartnerID   *string   `json:"partner_id,omitempty"`
	PairID      *string   `json:"pair_id,omitempty"`
	InviteCode  string    `json:"invite_code"`
	DeviceToken *string   `json:"device_token,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Paired reports whether the user currently has a partner bound.
func (u *User) Paired() bool {
	return u.PartnerID != nil && u.PairID != nil
}

// Pair binds at most two users under one invite code. The pair id is the
// code itself. User2ID transitions absent to present exactly once; a closed
// pair is abandoned on disconnect, never reopened.
type Pair struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	User1ID   string    `json:"user1_id"`
	User2ID   *string   `json:"user2_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Closed reports whether both slots of the pair are filled.
func (p *Pair) Closed() bool {
	return p.User2ID != nil
}

// DrawingRecord is one exchanged artifact. At least one of VectorBytes and
// ImageURL is present. Records are immutable once written.
type DrawingRecord struct {
	ID          string    `json:"id"`
	PairID      string    `json:"pair_id"`
	FromUserID  string    `json:"from_user_id"`
	ToUserID    string    `json:"to_user_id"`
	CreatedAt   time.Time `json:"created_at"`
	VectorBytes []byte    `json:"vector_bytes,omitempty"`
	ImageURL    *string   `json:"image_url,omitempty"`
}

// GlanceMetadata is the metadata half of the glance cache slot, read by the
// widget process alongside the cached image.
type GlanceMetadata struct {
	PartnerName string    `json:"partner_name"`
	Timestamp   time.Time `json:"timestamp"`
	DrawingID   string    `json:"drawing_id"`
}
