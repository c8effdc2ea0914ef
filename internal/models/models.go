// Package models holds the wire types exchanged with the Atlas service.
package models

import "time"

// Venue is a directory listing.
type Venue struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Category  string     `json:"category,omitempty"`
	Address   string     `json:"address,omitempty"`
	Latitude  float64    `json:"latitude,omitempty"`
	Longitude float64    `json:"longitude,omitempty"`
	Verified  bool       `json:"verified"`
	PhotoURL  string     `json:"photo_url,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Submission is a verification request for a venue.
type Submission struct {
	ID        string     `json:"id"`
	VenueID   string     `json:"venue_id"`
	Status    string     `json:"status"` // "pending", "approved", "rejected"
	Note      string     `json:"note,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Donation is a payment made through the payments backend.
type Donation struct {
	ID        string     `json:"id"`
	VenueID   string     `json:"venue_id,omitempty"`
	Amount    int64      `json:"amount"` // minor currency units
	Currency  string     `json:"currency"`
	Status    string     `json:"status,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// LoginRequest is the credentials payload for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenPair is the response from the login endpoint.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}
