package search

// FormRecord is the data we index for a form.
type FormRecord struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	OwnerID         string `json:"ownerId"`
	PageCount       int    `json:"pageCount"`
	FieldCount      int    `json:"fieldCount"`
	BackgroundImage string `json:"backgroundImage,omitempty"`
	UpdatedAt       int64  `json:"updatedAt"`
}

// Query describes a form search request.
type Query struct {
	Text          string
	FilterOwnerID string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []FormRecord `json:"results"`
	Total   int          `json:"total"`
	Query   string       `json:"query"`
}

// Searcher can execute a form search.
type Searcher interface {
	Search(q Query) ([]FormRecord, int, error)
	Healthy() bool
}

// Indexer can push forms into a search index.
type Indexer interface {
	IndexForm(f FormRecord) error
	DeleteForm(id string) error
}
