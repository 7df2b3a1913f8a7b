package firestore

import (
	"cloud.google.com/go/firestore"

	shared "github.com/fitglue/journey/pkg"
	"github.com/fitglue/journey/pkg/types"
)

type Client struct {
	fs *firestore.Client
}

func NewClient(client *firestore.Client) *Client {
	return &Client{fs: client}
}

func (c *Client) Close() error {
	return c.fs.Close()
}

// Subjects holds one document per subject, keyed by the provider athlete id.
func (c *Client) Subjects() *Collection[types.TokenRecord] {
	return &Collection[types.TokenRecord]{
		Ref:           c.fs.Collection(shared.CollectionSubjects),
		ToFirestore:   TokenRecordToFirestore,
		FromFirestore: FirestoreToTokenRecord,
	}
}
