// Package catalog defines the channel directory's domain types: channels,
// streams, and the filter/page values exchanged between the query engine and
// its callers. The catalog itself is populated by an external sync job (see
// store.CatalogWriter); everything here is read-only at query time.
package catalog

// Channel is one publicly listed broadcaster/feed from the upstream catalog.
// ChannelID is the stable external identifier (e.g. "cnn.us"); Seq is the
// store-assigned creation order used as the merge/pagination sort key.
type Channel struct {
	Seq        int64    `json:"-"`
	ChannelID  string   `json:"channel_id"`
	Name       string   `json:"name"`
	Logo       string   `json:"logo,omitempty"`
	Country    string   `json:"country"` // ISO 3166-1 alpha-2, lower-case
	Categories []string `json:"categories"`
	Languages  []string `json:"languages,omitempty"`
	Network    string   `json:"network,omitempty"`
}

// PrimaryCategory returns the first category tag, or "" when the channel has
// none. Upstream snapshots disagree on single-category vs multi-category
// schemas; callers that need a single label use this view.
func (c *Channel) PrimaryCategory() string {
	if len(c.Categories) == 0 {
		return ""
	}
	return c.Categories[0]
}

// HasCategory reports whether the channel carries the given category tag.
func (c *Channel) HasCategory(id string) bool {
	for _, cat := range c.Categories {
		if cat == id {
			return true
		}
	}
	return false
}

// HasLanguage reports whether the channel lists the given language code.
func (c *Channel) HasLanguage(code string) bool {
	for _, l := range c.Languages {
		if l == code {
			return true
		}
	}
	return false
}

// Stream is one network-playable URL candidate for a channel. A channel may
// have several; the order returned by the store is the probing priority order.
type Stream struct {
	ChannelID    string `json:"channel_id"`
	URL          string `json:"url"`
	Quality      string `json:"quality,omitempty"`
	HTTPReferrer string `json:"http_referrer,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
}

// Category is one catalog category (e.g. "news").
type Category struct {
	CategoryID string `json:"category_id"`
	Name       string `json:"name"`
}

// Country is one catalog country.
type Country struct {
	Code      string   `json:"code"`
	Name      string   `json:"name"`
	Flag      string   `json:"flag,omitempty"`
	Languages []string `json:"languages,omitempty"`
}

// Language is one catalog language.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Filter is the query-time value object for one channel listing request.
// Cursor is the opaque continuation token from a previous Page ("" = start).
type Filter struct {
	Countries  []string `json:"countries,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Languages  []string `json:"languages,omitempty"`
	Search     string   `json:"search,omitempty"`
	Cursor     string   `json:"cursor,omitempty"`
	PageSize   int      `json:"page_size"`
}

// Page is one result page. Cursor is "" when Done; callers must treat it as
// opaque. For text searches the result is always a single page (Done=true).
type Page struct {
	Channels []Channel `json:"channels"`
	Cursor   string    `json:"cursor,omitempty"`
	Done     bool      `json:"done"`
}
