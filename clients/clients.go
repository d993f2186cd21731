package clients

type ClientType string

const (
	ClientTypeConfidential ClientType = "confidential" // Holds a client secret
	ClientTypePublic       ClientType = "public"       // No secret, relies on PKCE alone
)

// Client is the OAuth client this application presents to an identity provider.
type Client struct {
	ID     string     `json:"id"`
	Type   ClientType `json:"type"`
	Secret string     `json:"secret,omitempty"`
	Name   string     `json:"name,omitempty"`
}

// IsPublic returns true if the client is a public client
func (c *Client) IsPublic() bool {
	return c.Type == ClientTypePublic || c.Secret == ""
}

func newClient(id, secret, name string) *Client {
	c := &Client{ID: id, Secret: secret, Name: name, Type: ClientTypeConfidential}
	if secret == "" {
		c.Type = ClientTypePublic
	}
	return c
}
