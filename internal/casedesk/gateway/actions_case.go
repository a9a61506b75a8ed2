package gateway

import "context"

// Metadata, client and case actions. Payload field names follow the
// backend's camelCase contract.

func (c *Client) SearchCasesByName(ctx context.Context, firstName, lastName string) (*Response, error) {
	return c.Send(ctx, "metadata.searchCasesByName", map[string]string{
		"firstName": firstName,
		"lastName":  lastName,
	})
}

func (c *Client) SearchCaseByCaseID(ctx context.Context, caseID string) (*Response, error) {
	return c.Send(ctx, "metadata.searchCaseByCaseId", map[string]string{"caseId": caseID})
}

func (c *Client) GetCaseForEdit(ctx context.Context, caseID string) (*Response, error) {
	return c.Send(ctx, "metadata.getCaseForEdit", map[string]string{"caseId": caseID})
}

// CreateCaseMetadata sends metadata as the whole payload.
func (c *Client) CreateCaseMetadata(ctx context.Context, metadata map[string]any) (*Response, error) {
	return c.Send(ctx, "metadata.createCaseMetadata", metadata)
}

// UpdateCaseMetadata applies updates guarded by the optimistic version.
func (c *Client) UpdateCaseMetadata(ctx context.Context, caseID string, updates map[string]any, version int) (*Response, error) {
	return c.Send(ctx, "metadata.updateCaseMetadata", map[string]any{
		"caseId":  caseID,
		"updates": updates,
		"version": version,
	})
}

func (c *Client) SearchClients(ctx context.Context, firstName, lastName, nationalID string) (*Response, error) {
	return c.Send(ctx, "client.search", map[string]string{
		"firstName":  firstName,
		"lastName":   lastName,
		"nationalId": nationalID,
	})
}

func (c *Client) CreateClient(ctx context.Context, client map[string]any) (*Response, error) {
	return c.Send(ctx, "client.create", client)
}

func (c *Client) GetClient(ctx context.Context, clientID string) (*Response, error) {
	return c.Send(ctx, "client.get", map[string]string{"clientId": clientID})
}

func (c *Client) CreateCase(ctx context.Context, clientID, caseID string) (*Response, error) {
	return c.Send(ctx, "case.create", map[string]string{"clientId": clientID, "caseId": caseID})
}
