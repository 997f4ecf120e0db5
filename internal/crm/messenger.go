package crm

import (
	"context"
	"fmt"

	"leadflow_backend/internal/leads/domain"
)

// Messenger delivers conversation replies to leads through the CRM's
// SMS channel. The contact is upserted first because the CRM keys
// messages by its own contact id, not by phone number.
type Messenger struct {
	client *Client
}

func NewMessenger(client *Client) *Messenger {
	return &Messenger{client: client}
}

func (m *Messenger) SendMessage(ctx context.Context, lead domain.Lead, body string) error {
	contactID, err := m.client.UpsertContact(ctx, Contact{
		Name:   lead.Name,
		Phone:  lead.Phone,
		Email:  lead.Email,
		Source: lead.Source,
	})
	if err != nil {
		return fmt.Errorf("resolve crm contact: %w", err)
	}
	if err := m.client.SendSMS(ctx, contactID, body); err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	return nil
}
