package plex

import "strings"

// Pin is the provider's view of a pairing.
type Pin struct {
	ID        int64   `json:"id"`
	Code      string  `json:"code"`
	ExpiresIn int     `json:"expiresIn"`
	AuthToken *string `json:"authToken"`
}

// Token returns the approved bearer token, or "" while the pin is pending.
func (p *Pin) Token() string {
	if p.AuthToken == nil {
		return ""
	}
	return *p.AuthToken
}

type User struct {
	ID       int64  `json:"id"`
	UUID     string `json:"uuid"`
	Username string `json:"username"`
	Title    string `json:"title"`
	Email    string `json:"email"`
}

// DisplayName prefers username and falls back to the account title.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.Title
}

type Resource struct {
	Name             string       `json:"name"`
	Product          string       `json:"product"`
	ProductVersion   string       `json:"productVersion"`
	Platform         string       `json:"platform"`
	PlatformVersion  string       `json:"platformVersion"`
	Device           string       `json:"device"`
	ClientIdentifier string       `json:"clientIdentifier"`
	Provides         string       `json:"provides"`
	Owned            bool         `json:"owned"`
	Connections      []Connection `json:"connections"`
}

// ProvidesServer reports whether "server" is among the comma separated capabilities.
func (r *Resource) ProvidesServer() bool {
	for _, p := range strings.Split(r.Provides, ",") {
		if strings.TrimSpace(p) == "server" {
			return true
		}
	}
	return false
}

type Connection struct {
	Protocol string `json:"protocol"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
	URI      string `json:"uri"`
	Local    bool   `json:"local"`
	Relay    bool   `json:"relay"`
}
