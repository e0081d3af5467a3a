// Package catalog publishes finished report runs to a GraphQL catalog service.
package catalog

import (
	"context"
	"net/http"

	"github.com/machinebox/graphql"
	"github.com/pkg/errors"
)

// Entry is the catalog record of one finished run.
type Entry struct {
	ReqHash     string   `json:"req_hash"`
	Status      string   `json:"status"`
	ReferenceID string   `json:"reference_id"`
	Keys        []string `json:"keys"`
	Warnings    []string `json:"warnings"`
	Errors      []string `json:"errors"`
}

// Publisher records finished runs in the catalog.
type Publisher struct {
	client *graphql.Client
}

// NewPublisher creates a publisher for the GraphQL endpoint at addr. The http client's timeout
// bounds every publication.
func NewPublisher(addr string, httpClient *http.Client) *Publisher {
	return &Publisher{
		client: graphql.NewClient(addr, graphql.WithHTTPClient(httpClient)),
	}
}

type publishResponse struct {
	PublishReport struct {
		ID string
	} `json:"publish_report"`
}

// Publish upserts the entry and returns the catalog id.
func (p *Publisher) Publish(ctx context.Context, entry Entry) (string, error) {
	mutation := graphql.NewRequest(`mutation($hash: String!, $status: String!, $ref: String!, $keys: [String!], $warnings: [String!], $errors: [String!]) {
		publish_report(input: {
			req_hash: $hash,
			status: $status,
			reference_id: $ref,
			keys: $keys,
			warnings: $warnings,
			errors: $errors
		}) {
			id
		}
	}`)
	mutation.Var("hash", entry.ReqHash)
	mutation.Var("status", entry.Status)
	mutation.Var("ref", entry.ReferenceID)
	mutation.Var("keys", nonNil(entry.Keys))
	mutation.Var("warnings", nonNil(entry.Warnings))
	mutation.Var("errors", nonNil(entry.Errors))

	var resp publishResponse
	if err := p.client.Run(ctx, mutation, &resp); err != nil {
		return "", errors.Wrapf(err, "failed to publish report %s", entry.ReqHash)
	}
	return resp.PublishReport.ID, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
